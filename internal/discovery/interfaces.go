// Package discovery walks IF-MIB/ifXTable to enumerate a device's
// interfaces, classifies each one (ISP uplink, trunk, access, ...), and
// maps inter-device links via LLDP/CDP. Grounded on
// carverauto-serviceradar's pkg/discovery/snmp_polling.go for the OID
// table and walk style, and on original_source's interface_parser.py
// for the classification rules.
package discovery

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gosnmp/gosnmp"

	"github.com/branchwatch/branchwatch/internal/models"
)

// IF-MIB / ifXTable OIDs, same constants serviceradar's SNMP discovery
// engine queries.
const (
	oidIfTable       = ".1.3.6.1.2.1.2.2.1"
	oidIfDescr       = ".1.3.6.1.2.1.2.2.1.2"
	oidIfType        = ".1.3.6.1.2.1.2.2.1.3"
	oidIfMtu         = ".1.3.6.1.2.1.2.2.1.4"
	oidIfSpeed       = ".1.3.6.1.2.1.2.2.1.5"
	oidIfPhysAddress = ".1.3.6.1.2.1.2.2.1.6"
	oidIfAdminStatus = ".1.3.6.1.2.1.2.2.1.7"
	oidIfOperStatus  = ".1.3.6.1.2.1.2.2.1.8"

	oidIfXTable = ".1.3.6.1.2.1.31.1.1.1"
	oidIfName   = ".1.3.6.1.2.1.31.1.1.1.1"
	oidIfAlias  = ".1.3.6.1.2.1.31.1.1.1.18"
)

// ifAdminUp / ifOperStatus integer values per IF-MIB.
const ifMIBStatusUp = 1

// SNMPWalker is the subset of *gosnmp.GoSNMP the discovery package
// needs, letting the prober own the connection lifecycle.
type SNMPWalker interface {
	BulkWalk(rootOid string, walkFn gosnmp.WalkFunc) error
}

// WalkInterfaces enumerates every row of ifTable/ifXTable for a device
// and returns classified models.Interface values ready for
// store.Gateway.UpsertInterfaces.
func WalkInterfaces(ctx context.Context, client SNMPWalker, deviceID uuid.UUID) ([]*models.Interface, error) {
	byIndex := map[int]*models.Interface{}

	err := client.BulkWalk(oidIfTable, func(pdu gosnmp.SnmpPDU) error {
		ifIndex, oidPrefix, ok := splitTableOID(pdu.Name)
		if !ok {
			return nil
		}
		iface := ifaceFor(byIndex, deviceID, ifIndex)

		switch "." + oidPrefix {
		case oidIfDescr:
			if pdu.Type == gosnmp.OctetString {
				iface.IfDescr = string(pdu.Value.([]byte))
			}
		case oidIfType:
			iface.IfType = fmt.Sprintf("%v", gosnmp.ToBigInt(pdu.Value))
		case oidIfMtu:
			if v, ok := toInt64(pdu); ok {
				iface.MTU = int(v)
			}
		case oidIfSpeed:
			if v, ok := toInt64(pdu); ok {
				iface.Speed = uint64(v)
			}
		case oidIfPhysAddress:
			if pdu.Type == gosnmp.OctetString {
				iface.PhysAddr = formatMACAddress(pdu.Value.([]byte))
			}
		case oidIfAdminStatus:
			if v, ok := toInt64(pdu); ok {
				iface.AdminUp = v == ifMIBStatusUp
			}
		case oidIfOperStatus:
			if v, ok := toInt64(pdu); ok {
				iface.OperUp = v == ifMIBStatusUp
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discovery: walking ifTable: %w", err)
	}

	// ifXTable is optional — vendors without it still yield a usable
	// (if less precise) interface set from ifTable alone.
	_ = client.BulkWalk(oidIfXTable, func(pdu gosnmp.SnmpPDU) error {
		ifIndex, oidPrefix, ok := splitTableOID(pdu.Name)
		if !ok {
			return nil
		}
		iface, exists := byIndex[ifIndex]
		if !exists {
			return nil
		}
		switch "." + oidPrefix {
		case oidIfName:
			if pdu.Type == gosnmp.OctetString {
				iface.IfName = string(pdu.Value.([]byte))
			}
		case oidIfAlias:
			if pdu.Type == gosnmp.OctetString {
				iface.IfAlias = string(pdu.Value.([]byte))
			}
		}
		return nil
	})

	out := make([]*models.Interface, 0, len(byIndex))
	for _, iface := range byIndex {
		classification := ClassifyInterface(iface.IfAlias, iface.IfDescr, iface.IfName, iface.IfType)
		iface.InterfaceType = models.InterfaceType(classification.InterfaceType)
		iface.ISPProvider = classification.ISPProvider
		iface.IsCritical = classification.IsCritical
		iface.ParserConfidence = classification.Confidence
		out = append(out, iface)
	}
	return out, nil
}

func ifaceFor(byIndex map[int]*models.Interface, deviceID uuid.UUID, ifIndex int) *models.Interface {
	if iface, ok := byIndex[ifIndex]; ok {
		return iface
	}
	iface := &models.Interface{DeviceID: deviceID, IfIndex: ifIndex}
	byIndex[ifIndex] = iface
	return iface
}

// splitTableOID splits a full table OID ("1.3.6.1.2.1.2.2.1.2.5") into
// its trailing index ("5") and the column prefix
// ("1.3.6.1.2.1.2.2.1.2"), matching the split/Atoi idiom
// snmp_polling.go uses to walk ifTable/ifXTable rows.
func splitTableOID(oid string) (index int, prefix string, ok bool) {
	parts := strings.Split(strings.TrimPrefix(oid, "."), ".")
	if len(parts) < 2 {
		return 0, "", false
	}
	idx, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0, "", false
	}
	return idx, strings.Join(parts[:len(parts)-1], "."), true
}

func toInt64(pdu gosnmp.SnmpPDU) (int64, bool) {
	switch pdu.Type {
	case gosnmp.Integer:
		v, ok := pdu.Value.(int)
		return int64(v), ok
	case gosnmp.Gauge32, gosnmp.Counter32, gosnmp.Counter64:
		return gosnmp.ToBigInt(pdu.Value).Int64(), true
	default:
		return 0, false
	}
}

func formatMACAddress(raw []byte) string {
	if len(raw) != 6 {
		return ""
	}
	parts := make([]string, len(raw))
	for i, b := range raw {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, ":")
}

// Classification is the interface parser's verdict, matching
// interface_parser.py's InterfaceClassification dataclass.
type Classification struct {
	InterfaceType string
	ISPProvider   string
	IsCritical    bool
	Confidence    float64
	MatchedPattern string
}

type patternSet struct {
	ifaceType string
	patterns  []*regexp.Regexp
}

// classificationOrder mirrors INTERFACE_PATTERNS' dict ordering in the
// original: isp first, loopback and voice/camera last. Order matters
// because the first matching type wins.
var classificationOrder = buildClassificationOrder()

func buildClassificationOrder() []patternSet {
	raw := []struct {
		ifaceType string
		patterns  []string
	}{
		{"isp", []string{
			`(?i)(magti|silknet|veon|beeline|geocell|caucasus|globaltel)[\s_-]*(internet|inet|wan|uplink|isp|bgp)`,
			`(?i)(internet|inet|wan|uplink|isp|bgp)[\s_-]*(magti|silknet|veon|beeline|geocell|caucasus|globaltel)`,
			`(?i)isp[\s_-]*\d*`,
			`(?i)wan[\s_-]*\d*`,
			`(?i)(internet|inet)[\s_-]*(uplink|link|connection)`,
			`(?i)bgp[\s_-]*(peer|neighbor|uplink)`,
			`(?i)upstream[\s_-]*\d*`,
			`(?i)provider[\s_-]*\d*`,
		}},
		{"trunk", []string{
			`(?i)trunk[\s_-]*(to|link)?[\s_-]*\w*`,
			`(?i)trnk[\s_-]*\w*`,
			`(?i)po\d+`,
			`(?i)port[\s_-]*channel[\s_-]*\d+`,
			`(?i)lag\d+`,
			`(?i)link[\s_-]*aggregation[\s_-]*\d+`,
			`(?i)core[\s_-]*(link|uplink|switch)`,
			`(?i)backbone`,
			`(?i)aggregation[\s_-]*(switch|layer)`,
		}},
		{"server_link", []string{
			`(?i)server[\s_-]*(connection|link|port|host)`,
			`(?i)srv[\s_-]*(host|conn|link)`,
			`(?i)(esxi|vcenter|vmware|hyper-v)[\s_-]*\d*`,
			`(?i)vm[\s_-]*host[\s_-]*\d*`,
			`(?i)(web|app|database|db|sql)[\s_-]*server`,
			`(?i)(storage|nas|san)[\s_-]*(link|connection)`,
		}},
		{"branch_link", []string{
			`(?i)branch[\s_-]*(office|link|connection)?[\s_-]*\w*`,
			`(?i)vpn[\s_-]*(tunnel|connection|link)`,
			`(?i)tunnel[\s_-]*\d*`,
			`(?i)(remote|site)[\s_-]*(office|link|connection)`,
			`(?i)to[\s_-]*\w+[\s_-]*(branch|office|site)`,
			`(?i)(rustavi|kutaisi|batumi|zugdidi|telavi|gori|mtskheta|poti|kobuleti|marneuli|gardabani|borjomi)[\s_-]*(branch|office|link)?`,
		}},
		{"management", []string{
			`(?i)management`,
			`(?i)mgmt`,
			`(?i)admin`,
			`(?i)control[\s_-]*plane`,
		}},
		{"access", []string{
			`(?i)access[\s_-]*(port|switch|vlan)`,
			`(?i)user[\s_-]*(port|access)`,
			`(?i)employee[\s_-]*(port|access)`,
			`(?i)desktop[\s_-]*(port|access)`,
		}},
		{"loopback", []string{
			`(?i)loopback[\s_-]*\d*`,
			`(?i)lo\d+`,
		}},
		{"voice", []string{
			`(?i)voice[\s_-]*(vlan|port)`,
			`(?i)voip`,
			`(?i)phone[\s_-]*(port|vlan)`,
		}},
		{"camera", []string{
			`(?i)(camera|cctv|nvr|ipcam)[\s_-]*\d*`,
			`(?i)surveillance`,
		}},
	}

	sets := make([]patternSet, len(raw))
	for i, r := range raw {
		compiled := make([]*regexp.Regexp, len(r.patterns))
		for j, p := range r.patterns {
			compiled[j] = regexp.MustCompile(p)
		}
		sets[i] = patternSet{ifaceType: r.ifaceType, patterns: compiled}
	}
	return sets
}

// ispProviderAliases mirrors ISP_PROVIDERS: several commercial names
// normalize to the same provider key.
var ispProviderAliases = []struct {
	provider string
	aliases  []string
}{
	{"magti", []string{"magti", "magticom", "magtico"}},
	{"silknet", []string{"silknet", "silk", "silkn"}},
	{"veon", []string{"veon", "beeline", "bline"}},
	{"geocell", []string{"geocell", "geo", "gcell"}},
	{"caucasus", []string{"caucasus", "con", "caucasus_online"}},
	{"globaltel", []string{"globaltel", "global"}},
}

// ClassifyInterface classifies a single interface from its
// SNMP-reported name/description/alias/type, implementing
// interface_parser.py's classify_interface. An ifType naming loopback
// classifies the interface as loopback with confidence 1.0 whatever the
// text fields say; otherwise ifAlias is weighted highest (1.0), ifDescr
// next (0.7), ifName lowest (0.5), and the best-weighted match across
// fields wins.
func ClassifyInterface(ifAlias, ifDescr, ifName, ifType string) Classification {
	if strings.Contains(strings.ToLower(ifType), "loopback") {
		return Classification{InterfaceType: "loopback", Confidence: 1.0, MatchedPattern: "ifType=loopback"}
	}
	type candidate struct {
		text   string
		weight float64
	}
	var candidates []candidate
	if ifAlias != "" {
		candidates = append(candidates, candidate{ifAlias, 1.0})
	}
	if ifDescr != "" {
		candidates = append(candidates, candidate{ifDescr, 0.7})
	}
	if ifName != "" {
		candidates = append(candidates, candidate{ifName, 0.5})
	}
	if len(candidates) == 0 {
		return Classification{InterfaceType: "other", Confidence: 0}
	}

	var best Classification
	var bestWeighted float64
	for _, c := range candidates {
		cls := classifyText(c.text, ifType)
		weighted := cls.Confidence * c.weight
		if weighted > bestWeighted {
			bestWeighted = weighted
			best = cls
		}
	}
	if best.InterfaceType == "" {
		return Classification{InterfaceType: "other", Confidence: 0}
	}
	best.Confidence = bestWeighted

	if best.InterfaceType == "isp" {
		best.ISPProvider = extractISPProvider(ifAlias, ifDescr, ifName)
		best.IsCritical = true
	}
	return best
}

func classifyText(text, ifType string) Classification {
	text = strings.TrimSpace(text)
	if text == "" {
		return Classification{InterfaceType: "other", Confidence: 0}
	}

	if ifType != "" && strings.Contains(strings.ToLower(ifType), "loopback") {
		return Classification{InterfaceType: "loopback", Confidence: 1.0, MatchedPattern: "ifType=loopback"}
	}

	for _, set := range classificationOrder {
		for _, pattern := range set.patterns {
			loc := pattern.FindStringIndex(text)
			if loc == nil {
				continue
			}
			return Classification{
				InterfaceType:  set.ifaceType,
				Confidence:     matchConfidence(text, loc),
				MatchedPattern: pattern.String(),
			}
		}
	}
	return Classification{InterfaceType: "other", Confidence: 0.5}
}

// matchConfidence implements _calculate_confidence: a 0.7 base, +0.1 if
// the match starts at position 0, plus up to +0.2 scaled by how much of
// the text the match covers, capped at 1.0.
func matchConfidence(text string, loc []int) float64 {
	confidence := 0.7
	if loc[0] == 0 {
		confidence += 0.1
	}
	coverage := float64(loc[1]-loc[0]) / float64(len(text))
	confidence += coverage * 0.2
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

func extractISPProvider(fields ...string) string {
	text := strings.ToLower(strings.Join(fields, " "))
	for _, p := range ispProviderAliases {
		for _, alias := range p.aliases {
			if strings.Contains(text, alias) {
				return p.provider
			}
		}
	}
	return ""
}

// IsCriticalInterface implements is_critical_interface: all ISP
// uplinks are critical, as are trunk/server_link interfaces whose
// alias carries a core/production keyword.
func IsCriticalInterface(interfaceType, ifAlias string) bool {
	alias := strings.ToLower(ifAlias)
	switch interfaceType {
	case "isp":
		return true
	case "trunk":
		return containsAny(alias, "core", "backbone", "aggregation", "primary", "main")
	case "server_link":
		return containsAny(alias, "prod", "production", "primary", "critical")
	default:
		return false
	}
}

func containsAny(s string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
