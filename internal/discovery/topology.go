package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gosnmp/gosnmp"
	"github.com/rs/zerolog"

	"github.com/branchwatch/branchwatch/internal/logger"
	"github.com/branchwatch/branchwatch/internal/models"
	"github.com/branchwatch/branchwatch/internal/store"
)

// LLDP (IEEE 802.1AB-MIB) and CDP (CISCO-CDP-MIB) OIDs, matching
// topology_discovery.py's LLDP_OIDS/CDP_OIDS tables.
const (
	oidLLDPRemChassisID = ".1.0.8802.1.1.2.1.4.1.1.5"
	oidLLDPRemPortID     = ".1.0.8802.1.1.2.1.4.1.1.7"
	oidLLDPRemSysName    = ".1.0.8802.1.1.2.1.4.1.1.9"
	oidLLDPRemPortDesc   = ".1.0.8802.1.1.2.1.4.1.1.8"

	oidCDPCacheDeviceID   = ".1.3.6.1.4.1.9.9.23.1.2.1.1.6"
	oidCDPCacheDevicePort = ".1.3.6.1.4.1.9.9.23.1.2.1.1.7"
)

// Neighbor is a single discovered link-layer neighbor, combining the
// LLDP and CDP result shapes from topology_discovery.py into one type
// since only one protocol is ever active per device.
type Neighbor struct {
	LocalIfIndex   int
	NeighborName   string
	NeighborPortID string
	Protocol       string // "LLDP" or "CDP"
}

// TopologyWalker is the SNMP surface topology discovery needs: a bulk
// walk for the neighbor table plus single-OID fetches for per-neighbor
// detail columns.
type TopologyWalker interface {
	SNMPWalker
	Get(oids []string) (*gosnmp.SnmpPacket, error)
}

// DiscoverNeighbors tries LLDP first, falling back to CDP, matching
// discover_device_topology's protocol precedence.
func DiscoverNeighbors(ctx context.Context, client TopologyWalker) ([]Neighbor, error) {
	neighbors, err := discoverLLDPNeighbors(client)
	if err != nil {
		return nil, fmt.Errorf("discovery: lldp walk: %w", err)
	}
	if len(neighbors) > 0 {
		return neighbors, nil
	}
	neighbors, err = discoverCDPNeighbors(client)
	if err != nil {
		return nil, fmt.Errorf("discovery: cdp walk: %w", err)
	}
	return neighbors, nil
}

func discoverLLDPNeighbors(client TopologyWalker) ([]Neighbor, error) {
	var neighbors []Neighbor

	err := client.BulkWalk(oidLLDPRemSysName, func(pdu gosnmp.SnmpPDU) error {
		// OID suffix is timeMark.localPort.neighborIndex; ifIndex is the
		// middle component, matching the original's oid_parts[-2].
		parts := strings.Split(strings.TrimPrefix(pdu.Name, "."), ".")
		if len(parts) < 3 {
			return nil
		}
		localPort := parts[len(parts)-2]
		ifIndex, err := strconv.Atoi(localPort)
		if err != nil {
			return nil
		}
		suffix := strings.Join(parts[len(parts)-3:], ".")

		n := Neighbor{LocalIfIndex: ifIndex, Protocol: "LLDP"}
		if pdu.Type == gosnmp.OctetString {
			n.NeighborName = string(pdu.Value.([]byte))
		}
		if portID, ok := fetchOctetString(client, oidLLDPRemPortID+"."+suffix); ok {
			n.NeighborPortID = portID
		} else if portDesc, ok := fetchOctetString(client, oidLLDPRemPortDesc+"."+suffix); ok {
			n.NeighborPortID = portDesc
		}
		if n.NeighborName != "" {
			neighbors = append(neighbors, n)
		}
		return nil
	})
	return neighbors, err
}

func discoverCDPNeighbors(client TopologyWalker) ([]Neighbor, error) {
	var neighbors []Neighbor

	err := client.BulkWalk(oidCDPCacheDeviceID, func(pdu gosnmp.SnmpPDU) error {
		// OID suffix is ifIndex.cacheIndex.
		parts := strings.Split(strings.TrimPrefix(pdu.Name, "."), ".")
		if len(parts) < 2 {
			return nil
		}
		localPort := parts[len(parts)-2]
		ifIndex, err := strconv.Atoi(localPort)
		if err != nil {
			return nil
		}
		suffix := strings.Join(parts[len(parts)-2:], ".")

		n := Neighbor{LocalIfIndex: ifIndex, Protocol: "CDP"}
		if pdu.Type == gosnmp.OctetString {
			n.NeighborName = string(pdu.Value.([]byte))
		}
		if port, ok := fetchOctetString(client, oidCDPCacheDevicePort+"."+suffix); ok {
			n.NeighborPortID = port
		}
		if n.NeighborName != "" {
			neighbors = append(neighbors, n)
		}
		return nil
	})
	return neighbors, err
}

func fetchOctetString(client TopologyWalker, oid string) (string, bool) {
	resp, err := client.Get([]string{oid})
	if err != nil || len(resp.Variables) == 0 {
		return "", false
	}
	v := resp.Variables[0]
	if v.Type != gosnmp.OctetString {
		return "", false
	}
	return string(v.Value.([]byte)), true
}

// MapConnections resolves discovered neighbors against the store's
// known interfaces/devices and persists matches, implementing
// _map_connections_to_database's exact-then-fuzzy device/interface
// name matching.
func MapConnections(ctx context.Context, gw store.Gateway, deviceID uuid.UUID, localInterfaces []*models.Interface, allDevices []*models.Device, neighbors []Neighbor) (int, error) {
	byIndex := make(map[int]*models.Interface, len(localInterfaces))
	for _, iface := range localInterfaces {
		byIndex[iface.IfIndex] = iface
	}

	componentLog := logger.Component("topology-discovery")
	mapped := 0
	for _, n := range neighbors {
		local, ok := byIndex[n.LocalIfIndex]
		if !ok {
			componentLog.Debug().Int("if_index", n.LocalIfIndex).Msg("local interface not found for neighbor")
			continue
		}

		local.LLDPNeighborName = n.NeighborName
		local.LLDPNeighborPort = n.NeighborPortID

		neighborDevice := findDeviceByName(allDevices, n.NeighborName)
		if neighborDevice != nil {
			local.ConnectedToDeviceID = &neighborDevice.ID
			if n.NeighborPortID != "" {
				if neighborIfaces, err := gw.ListInterfaces(ctx, neighborDevice.ID); err == nil {
					if neighborIface := findInterfaceByName(neighborIfaces, n.NeighborPortID); neighborIface != nil {
						local.ConnectedToInterfaceID = &neighborIface.ID
					}
				}
			}
		}

		if err := gw.UpdateInterfaceTopology(ctx, local); err != nil {
			return mapped, fmt.Errorf("discovery: persisting topology for interface %s: %w", local.ID, err)
		}
		mapped++
		logTopologyMapping(componentLog, local, n, neighborDevice != nil)
	}
	return mapped, nil
}

func logTopologyMapping(logger zerolog.Logger, local *models.Interface, n Neighbor, resolved bool) {
	evt := logger.Info()
	if !resolved {
		evt = logger.Debug()
	}
	evt.Str("local_interface", local.IfName).
		Str("neighbor_name", n.NeighborName).
		Str("neighbor_port", n.NeighborPortID).
		Str("protocol", n.Protocol).
		Bool("resolved", resolved).
		Msg("mapped topology neighbor")
}

// findDeviceByName implements _find_device_by_name: an exact match on
// hostname/display name first, then a fuzzy contains-match after
// stripping the domain suffix and normalizing separators.
func findDeviceByName(devices []*models.Device, neighborName string) *models.Device {
	if neighborName == "" {
		return nil
	}
	for _, d := range devices {
		if d.Hostname == neighborName || d.DisplayName == neighborName {
			return d
		}
	}

	clean := strings.ToLower(neighborName)
	if i := strings.Index(clean, "."); i >= 0 {
		clean = clean[:i]
	}
	clean = strings.NewReplacer("_", "-", " ", "-").Replace(clean)

	for _, d := range devices {
		name := strings.ToLower(d.DisplayName)
		if name == "" {
			name = strings.ToLower(d.Hostname)
		}
		if name != "" && strings.Contains(name, clean) {
			return d
		}
	}
	return nil
}

// findInterfaceByName implements _find_interface_by_name: exact if_name
// match first, then a contains-match against if_descr.
func findInterfaceByName(ifaces []*models.Interface, portName string) *models.Interface {
	clean := strings.TrimSpace(portName)
	for _, iface := range ifaces {
		if iface.IfName == clean {
			return iface
		}
	}
	for _, iface := range ifaces {
		if strings.Contains(iface.IfDescr, clean) {
			return iface
		}
	}
	return nil
}
