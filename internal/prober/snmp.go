package prober

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"golang.org/x/time/rate"

	"github.com/branchwatch/branchwatch/internal/cryptutil"
	"github.com/branchwatch/branchwatch/internal/discovery"
	"github.com/branchwatch/branchwatch/internal/models"
)

// SNMPProber issues GET/GETBULK/walk operations against devices, in
// either v2c or v3 mode, grounded on the teacher's snmppoller.go +
// scanner.go snmpGetWithFallback, extended for table walks and v3
// credentials. Credentials are decrypted only inside connect's
// call frame and never retained afterward.
type SNMPProber struct {
	timeout time.Duration
	retries int
	limiter *rate.Limiter
	box     *cryptutil.Box
}

// NewSNMPProber builds a prober bound to the shared credential box
// used to decrypt community/auth/priv secrets per call.
func NewSNMPProber(timeout time.Duration, retries, concurrency int, box *cryptutil.Box) *SNMPProber {
	return &SNMPProber{
		timeout: timeout,
		retries: retries,
		limiter: rate.NewLimiter(rate.Limit(concurrency), concurrency),
		box:     box,
	}
}

// connect builds and opens a gosnmp session for device d, decrypting
// its credential for the duration of this call only.
func (p *SNMPProber) connect(ctx context.Context, d *models.Device) (*gosnmp.GoSNMP, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("prober: rate limit wait: %w", err)
	}

	params := &gosnmp.GoSNMP{
		Target:  d.IP,
		Port:    uint16(d.SNMPPort),
		Timeout: p.timeout,
		Retries: p.retries,
		Context: ctx,
	}

	deviceIDBytes := []byte(d.ID.String())

	switch d.Credential.Version {
	case models.SNMPv3:
		authKey, err := p.box.Open(d.Credential.AuthKeyEncrypted, deviceIDBytes)
		if err != nil {
			return nil, fmt.Errorf("prober: decrypting auth key for %s: %w", d.IP, err)
		}
		privKey, err := p.box.Open(d.Credential.PrivKeyEncrypted, deviceIDBytes)
		if err != nil {
			return nil, fmt.Errorf("prober: decrypting priv key for %s: %w", d.IP, err)
		}
		params.Version = gosnmp.Version3
		params.SecurityModel = gosnmp.UserSecurityModel
		params.MsgFlags = securityLevelFlags(d.Credential.SecurityLevel)
		params.SecurityParameters = &gosnmp.UsmSecurityParameters{
			UserName:                 d.Credential.User,
			AuthenticationProtocol:   authProtocol(d.Credential.AuthProto),
			AuthenticationPassphrase: string(authKey),
			PrivacyProtocol:          privProtocol(d.Credential.PrivProto),
			PrivacyPassphrase:        string(privKey),
		}
	default:
		community, err := p.box.Open(d.Credential.CommunityEncrypted, deviceIDBytes)
		if err != nil {
			return nil, fmt.Errorf("prober: decrypting community for %s: %w", d.IP, err)
		}
		params.Version = gosnmp.Version2c
		params.Community = string(community)
	}

	if err := params.Connect(); err != nil {
		return nil, fmt.Errorf("prober: connecting to %s: %w", d.IP, err)
	}
	return params, nil
}

// GetSystemInfo queries sysName and sysDescr, falling back to GetNext
// when Get returns NoSuchInstance (teacher's snmpGetWithFallback).
func (p *SNMPProber) GetSystemInfo(ctx context.Context, d *models.Device) (hostname, sysDescr string, err error) {
	params, err := p.connect(ctx, d)
	if err != nil {
		return "", "", err
	}
	defer params.Conn.Close()

	resp, err := getWithFallback(params, []string{"1.3.6.1.2.1.1.5.0", "1.3.6.1.2.1.1.1.0"})
	if err != nil || len(resp.Variables) < 2 {
		return "", "", fmt.Errorf("prober: system info query failed for %s: %w", d.IP, err)
	}

	hostname, err = validateSNMPString(resp.Variables[0].Value, "sysName")
	if err != nil {
		return "", "", err
	}
	sysDescr, err = validateSNMPString(resp.Variables[1].Value, "sysDescr")
	if err != nil {
		return "", "", err
	}
	return hostname, sysDescr, nil
}

// WalkTable performs a GETBULK-backed subtree walk rooted at baseOID,
// used by interface/LLDP/CDP discovery (§4.I/§4.J).
func (p *SNMPProber) WalkTable(ctx context.Context, d *models.Device, baseOID string) ([]gosnmp.SnmpPDU, error) {
	params, err := p.connect(ctx, d)
	if err != nil {
		return nil, err
	}
	defer params.Conn.Close()

	var results []gosnmp.SnmpPDU
	err = params.BulkWalk(baseOID, func(pdu gosnmp.SnmpPDU) error {
		results = append(results, pdu)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("prober: walking %s on %s: %w", baseOID, d.IP, err)
	}
	return results, nil
}

// GetCounters fetches a batch of 64-bit interface counters over one
// session as plain GET requests of at most 60 OIDs each, used by the
// SNMP worker's per-interface counter collection (§4.H).
func (p *SNMPProber) GetCounters(ctx context.Context, d *models.Device, oids []string) ([]gosnmp.SnmpPDU, error) {
	params, err := p.connect(ctx, d)
	if err != nil {
		return nil, err
	}
	defer params.Conn.Close()

	const maxOIDsPerGet = 60 // gosnmp/most agents cap PDU size around here
	var results []gosnmp.SnmpPDU
	for i := 0; i < len(oids); i += maxOIDsPerGet {
		end := i + maxOIDsPerGet
		if end > len(oids) {
			end = len(oids)
		}
		resp, err := params.Get(oids[i:end])
		if err != nil {
			return nil, fmt.Errorf("prober: get counters batch on %s: %w", d.IP, err)
		}
		results = append(results, resp.Variables...)
	}
	return results, nil
}

// DiscoverInterfaces walks a device's IF-MIB/ifXTable and returns
// classified interfaces, ready for store.Gateway.UpsertInterfaces
// (§4.I).
func (p *SNMPProber) DiscoverInterfaces(ctx context.Context, d *models.Device) ([]*models.Interface, error) {
	params, err := p.connect(ctx, d)
	if err != nil {
		return nil, err
	}
	defer params.Conn.Close()

	ifaces, err := discovery.WalkInterfaces(ctx, params, d.ID)
	if err != nil {
		return nil, fmt.Errorf("prober: discovering interfaces on %s: %w", d.IP, err)
	}
	return ifaces, nil
}

// DiscoverNeighbors walks LLDP then CDP neighbor tables, returning
// whichever protocol yielded data (§4.J).
func (p *SNMPProber) DiscoverNeighbors(ctx context.Context, d *models.Device) ([]discovery.Neighbor, error) {
	params, err := p.connect(ctx, d)
	if err != nil {
		return nil, err
	}
	defer params.Conn.Close()

	neighbors, err := discovery.DiscoverNeighbors(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("prober: discovering topology on %s: %w", d.IP, err)
	}
	return neighbors, nil
}

func securityLevelFlags(level string) gosnmp.SnmpV3MsgFlags {
	switch level {
	case "authPriv":
		return gosnmp.AuthPriv
	case "authNoPriv":
		return gosnmp.AuthNoPriv
	default:
		return gosnmp.NoAuthNoPriv
	}
}

func authProtocol(proto string) gosnmp.SnmpV3AuthProtocol {
	switch strings.ToUpper(proto) {
	case "SHA":
		return gosnmp.SHA
	case "SHA256":
		return gosnmp.SHA256
	default:
		return gosnmp.MD5
	}
}

func privProtocol(proto string) gosnmp.SnmpV3PrivProtocol {
	switch strings.ToUpper(proto) {
	case "AES":
		return gosnmp.AES
	case "AES256":
		return gosnmp.AES256
	default:
		return gosnmp.DES
	}
}

// getWithFallback attempts Get first, falling back to GetNext per
// OID when the target has no .0 instance (teacher's snmpGetWithFallback).
func getWithFallback(params *gosnmp.GoSNMP, oids []string) (*gosnmp.SnmpPacket, error) {
	resp, err := params.Get(oids)
	if err == nil {
		hasValidData := false
		for _, v := range resp.Variables {
			if v.Type != gosnmp.NoSuchInstance && v.Type != gosnmp.NoSuchObject {
				hasValidData = true
				break
			}
		}
		if hasValidData {
			return resp, nil
		}
	}

	baseOIDs := make([]string, len(oids))
	for i, oid := range oids {
		if strings.HasSuffix(oid, ".0") {
			baseOIDs[i] = oid[:len(oid)-2]
		} else {
			baseOIDs[i] = oid
		}
	}

	var variables []gosnmp.SnmpPDU
	for _, base := range baseOIDs {
		resp, err := params.GetNext([]string{base})
		if err != nil {
			continue
		}
		if len(resp.Variables) > 0 && strings.HasPrefix(resp.Variables[0].Name, base) {
			variables = append(variables, resp.Variables[0])
		}
	}
	if len(variables) == 0 {
		return nil, fmt.Errorf("no valid SNMP data retrieved")
	}
	return &gosnmp.SnmpPacket{Variables: variables}, nil
}

// validateSNMPString sanitizes SNMP string responses: rejects values
// containing null bytes, bounds length, strips other control
// characters, matching the teacher's validateSNMPString.
func validateSNMPString(value interface{}, oidName string) (string, error) {
	var str string
	switch v := value.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		return "", fmt.Errorf("invalid type for %s: expected string or []byte, got %T", oidName, value)
	}

	if strings.ContainsRune(str, '\x00') {
		return "", fmt.Errorf("invalid %s: contains null bytes", oidName)
	}
	if len(str) > 1024 {
		str = str[:1024]
	}

	sanitized := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		if r < 32 || r > 126 {
			return -1
		}
		return r
	}, str)
	sanitized = strings.TrimSpace(sanitized)
	if len(sanitized) == 0 {
		return "", fmt.Errorf("invalid %s: empty after sanitization", oidName)
	}
	return sanitized, nil
}
