package discovery

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/gosnmp/gosnmp"

	"github.com/branchwatch/branchwatch/internal/models"
)

// fakeTopologyWalker replays a fixed set of PDUs for BulkWalk and
// answers Get from a small lookup table, enough to exercise the
// LLDP/CDP neighbor-discovery logic without a live SNMP agent.
type fakeTopologyWalker struct {
	walkPDUs map[string][]gosnmp.SnmpPDU
	getVals  map[string]gosnmp.SnmpPDU
}

func (f *fakeTopologyWalker) BulkWalk(rootOid string, walkFn gosnmp.WalkFunc) error {
	for _, pdu := range f.walkPDUs[rootOid] {
		if err := walkFn(pdu); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeTopologyWalker) Get(oids []string) (*gosnmp.SnmpPacket, error) {
	var vars []gosnmp.SnmpPDU
	for _, oid := range oids {
		if pdu, ok := f.getVals[oid]; ok {
			vars = append(vars, pdu)
		}
	}
	return &gosnmp.SnmpPacket{Variables: vars}, nil
}

func TestDiscoverNeighborsPrefersLLDP(t *testing.T) {
	walker := &fakeTopologyWalker{
		walkPDUs: map[string][]gosnmp.SnmpPDU{
			oidLLDPRemSysName: {
				{Name: oidLLDPRemSysName + ".0.12.1", Type: gosnmp.OctetString, Value: []byte("core-switch-1")},
			},
		},
		getVals: map[string]gosnmp.SnmpPDU{
			oidLLDPRemPortID + ".0.12.1": {Type: gosnmp.OctetString, Value: []byte("Gi0/1")},
		},
	}

	neighbors, err := DiscoverNeighbors(context.Background(), walker)
	if err != nil {
		t.Fatalf("DiscoverNeighbors: %v", err)
	}
	if len(neighbors) != 1 {
		t.Fatalf("got %d neighbors, want 1", len(neighbors))
	}
	if neighbors[0].Protocol != "LLDP" || neighbors[0].LocalIfIndex != 12 {
		t.Errorf("got %+v", neighbors[0])
	}
	if neighbors[0].NeighborPortID != "Gi0/1" {
		t.Errorf("got port %q, want Gi0/1", neighbors[0].NeighborPortID)
	}
}

func TestDiscoverNeighborsFallsBackToCDP(t *testing.T) {
	walker := &fakeTopologyWalker{
		walkPDUs: map[string][]gosnmp.SnmpPDU{
			oidCDPCacheDeviceID: {
				{Name: oidCDPCacheDeviceID + ".4.1", Type: gosnmp.OctetString, Value: []byte("edge-router")},
			},
		},
		getVals: map[string]gosnmp.SnmpPDU{
			oidCDPCacheDevicePort + ".4.1": {Type: gosnmp.OctetString, Value: []byte("FastEthernet0/1")},
		},
	}

	neighbors, err := DiscoverNeighbors(context.Background(), walker)
	if err != nil {
		t.Fatalf("DiscoverNeighbors: %v", err)
	}
	if len(neighbors) != 1 || neighbors[0].Protocol != "CDP" {
		t.Fatalf("got %+v, want one CDP neighbor", neighbors)
	}
}

func TestFindDeviceByNameExactMatch(t *testing.T) {
	d := &models.Device{ID: uuid.New(), Hostname: "core-switch-1"}
	got := findDeviceByName([]*models.Device{d}, "core-switch-1")
	if got == nil || got.ID != d.ID {
		t.Fatal("expected exact hostname match")
	}
}

func TestFindDeviceByNameFuzzyMatch(t *testing.T) {
	d := &models.Device{ID: uuid.New(), DisplayName: "branch-rustavi-rtr"}
	got := findDeviceByName([]*models.Device{d}, "branch_rustavi_rtr.domain.local")
	if got == nil || got.ID != d.ID {
		t.Fatal("expected fuzzy match after domain/separator normalization")
	}
}

func TestFindInterfaceByNamePrefersExact(t *testing.T) {
	exact := &models.Interface{ID: uuid.New(), IfName: "Gi0/1"}
	fuzzy := &models.Interface{ID: uuid.New(), IfDescr: "contains Gi0/1 somewhere"}
	got := findInterfaceByName([]*models.Interface{fuzzy, exact}, "Gi0/1")
	if got == nil || got.ID != exact.ID {
		t.Fatal("expected exact if_name match to win")
	}
}
