package alert

import "testing"

func TestClassifyDeviceDown(t *testing.T) {
	got := ClassifyInterfaceFault(false, false, true, InterfaceCounters{}, "magti")
	if got.Origin != FaultCustomerSide || got.Confidence != 0.95 {
		t.Errorf("got %+v, want customer_side/0.95", got)
	}
}

func TestClassifyAdminDown(t *testing.T) {
	got := ClassifyInterfaceFault(true, false, false, InterfaceCounters{}, "magti")
	if got.Origin != FaultCustomerSide || got.Confidence != 1.0 {
		t.Errorf("got %+v, want customer_side/1.0", got)
	}
}

func TestClassifyDownHighCRC(t *testing.T) {
	got := ClassifyInterfaceFault(true, false, true, InterfaceCounters{CRCErrors: 150}, "magti")
	if got.Origin != FaultCustomerSide || got.Confidence != 0.85 {
		t.Errorf("got %+v, want customer_side/0.85", got)
	}
}

func TestClassifyDownUndetermined(t *testing.T) {
	got := ClassifyInterfaceFault(true, false, true, InterfaceCounters{CRCErrors: 10}, "magti")
	if got.Origin != FaultUndetermined || got.Confidence != 0.5 {
		t.Errorf("got %+v, want undetermined/0.5", got)
	}
}

func TestClassifyUpHighErrorRate(t *testing.T) {
	got := ClassifyInterfaceFault(true, true, true, InterfaceCounters{InErrors: 5000, InOctets: 100_000_000}, "silknet")
	if got.Origin != FaultISPSide || got.Confidence != 0.9 {
		t.Errorf("got %+v, want isp_side/0.9", got)
	}
}

func TestClassifyUpHighDiscardRate(t *testing.T) {
	got := ClassifyInterfaceFault(true, true, true, InterfaceCounters{InDiscards: 6000, InOctets: 100_000_000}, "silknet")
	if got.Origin != FaultISPSide || got.Confidence != 0.75 {
		t.Errorf("got %+v, want isp_side/0.75", got)
	}
}

func TestClassifyUpHighCRC(t *testing.T) {
	got := ClassifyInterfaceFault(true, true, true, InterfaceCounters{CRCErrors: 75}, "magti")
	if got.Origin != FaultCustomerSide || got.Confidence != 0.8 {
		t.Errorf("got %+v, want customer_side/0.8", got)
	}
}

func TestClassifyNormalOperation(t *testing.T) {
	got := ClassifyInterfaceFault(true, true, true, InterfaceCounters{}, "magti")
	if got.Origin != FaultUndetermined || got.Confidence != 0 {
		t.Errorf("got %+v, want undetermined/0", got)
	}
}
