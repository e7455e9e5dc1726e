package changestream

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	s := New(4)
	ch1, unsub1 := s.Subscribe()
	defer unsub1()
	ch2, unsub2 := s.Subscribe()
	defer unsub2()

	change := StatusChange{DeviceID: uuid.New(), OldStatus: "up", NewStatus: "down", Timestamp: time.Now()}
	s.Publish(change)

	select {
	case got := <-ch1:
		if got.DeviceID != change.DeviceID {
			t.Errorf("ch1 got wrong device id")
		}
	default:
		t.Error("ch1 did not receive the published change")
	}
	select {
	case got := <-ch2:
		if got.DeviceID != change.DeviceID {
			t.Errorf("ch2 got wrong device id")
		}
	default:
		t.Error("ch2 did not receive the published change")
	}
	if got := s.Delivered(); got != 2 {
		t.Errorf("got delivered=%d, want 2", got)
	}
}

func TestPublishDropsOnFullSubscriberBufferWithoutBlocking(t *testing.T) {
	s := New(1)
	ch, unsub := s.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		// fill the one-slot buffer, then publish a second time: must
		// drop rather than block this goroutine.
		s.Publish(StatusChange{DeviceID: uuid.New()})
		s.Publish(StatusChange{DeviceID: uuid.New()})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}

	if got := s.Dropped(); got != 1 {
		t.Errorf("got dropped=%d, want 1", got)
	}
	<-ch // drain so the buffered frame doesn't leak across tests
}

func TestUnsubscribeRemovesListenerAndClosesChannel(t *testing.T) {
	s := New(2)
	ch, unsub := s.Subscribe()
	if got := s.SubscriberCount(); got != 1 {
		t.Fatalf("got %d subscribers, want 1", got)
	}

	unsub()
	if got := s.SubscriberCount(); got != 0 {
		t.Errorf("got %d subscribers after unsubscribe, want 0", got)
	}
	if _, open := <-ch; open {
		t.Error("expected channel to be closed after unsubscribe")
	}
}

func TestPublishWithNoSubscribersIsANoop(t *testing.T) {
	s := New(2)
	s.Publish(StatusChange{DeviceID: uuid.New()})
	if got := s.Delivered(); got != 0 {
		t.Errorf("got delivered=%d, want 0 with no subscribers", got)
	}
}
