package alert

import "fmt"

// FaultOrigin is the classifier's verdict on where an interface fault
// originates.
type FaultOrigin string

const (
	FaultCustomerSide FaultOrigin = "customer_side"
	FaultISPSide      FaultOrigin = "isp_side"
	FaultUndetermined FaultOrigin = "undetermined"
)

// FaultAnalysis is the classifier's full verdict, matching the
// original Python ISPFaultClassifier's FaultAnalysis dataclass.
type FaultAnalysis struct {
	Origin             FaultOrigin
	Confidence         float64
	Reason             string
	RecommendedAction  string
	AffectedISP        string
}

// InterfaceCounters holds the raw SNMP counters the classifier needs.
type InterfaceCounters struct {
	InErrors   uint64
	OutErrors  uint64
	InDiscards uint64
	OutDiscards uint64
	CRCErrors  uint64
	InOctets   uint64
}

// ClassifyInterfaceFault implements the decision table from
// isp_fault_classifier.py's analyze_interface_fault verbatim (spec
// §4.L.1): device-down first, then admin-down, then CRC-while-down,
// then undetermined-down, then the three up-but-degraded scenarios,
// falling through to "normal operation".
func ClassifyInterfaceFault(devicePingUp, ifaceOperUp, ifaceAdminUp bool, c InterfaceCounters, ispName string) FaultAnalysis {
	if ispName == "" {
		ispName = "ISP"
	}

	// Scenario 1: device completely unreachable.
	if !devicePingUp {
		return FaultAnalysis{
			Origin:     FaultCustomerSide,
			Confidence: 0.95,
			Reason:     "Device unreachable via ping - indicates power outage, hardware failure, or local network issue",
			RecommendedAction: "Check device power supply, console access, or replace hardware. Verify local network connectivity.",
		}
	}

	// Scenario 2: interface administratively disabled.
	if !ifaceOperUp && !ifaceAdminUp {
		return FaultAnalysis{
			Origin:     FaultCustomerSide,
			Confidence: 1.0,
			Reason:     "Interface was manually disabled by network administrator",
			RecommendedAction: "Enable interface using 'no shutdown' if this downtime was unintended",
		}
	}

	// Scenario 3: interface down with high CRC errors -> physical layer.
	if !ifaceOperUp && c.CRCErrors > 100 {
		return FaultAnalysis{
			Origin:     FaultCustomerSide,
			Confidence: 0.85,
			Reason: fmt.Sprintf("High CRC errors (%d) indicate physical layer issue - bad cable, damaged router port, or EMI interference", c.CRCErrors),
			RecommendedAction: "Inspect and replace network cable. Check router port for damage. Look for sources of EMI.",
		}
	}

	// Scenario 4: interface down, admin up, no local physical evidence.
	if !ifaceOperUp && ifaceAdminUp {
		return FaultAnalysis{
			Origin:      FaultUndetermined,
			Confidence:  0.5,
			Reason:      "Link down with no local physical layer errors - could be ISP circuit down or remote equipment issue",
			RecommendedAction: fmt.Sprintf("Contact %s support to verify circuit status and remote equipment operation", ispName),
			AffectedISP: ispName,
		}
	}

	if ifaceOperUp {
		totalPackets := uint64(0)
		if c.InOctets > 0 {
			totalPackets = c.InOctets / 64
		}
		var errorRate, discardRate float64
		if totalPackets > 0 {
			errorRate = float64(c.InErrors) / float64(totalPackets) * 100
			discardRate = float64(c.InDiscards) / float64(totalPackets) * 100
		}

		// Scenario 5: high error rate -> ISP-side congestion/quality.
		if errorRate > 1.0 || c.InErrors > 1000 {
			return FaultAnalysis{
				Origin:     FaultISPSide,
				Confidence: 0.9,
				Reason: fmt.Sprintf("High input error rate (%.2f%% or %d errors) indicates ISP network congestion or quality degradation", errorRate, c.InErrors),
				RecommendedAction: fmt.Sprintf("Open a support ticket with %s with error statistics and timestamps", ispName),
				AffectedISP:       ispName,
			}
		}

		// Scenario 6: high discard rate -> congestion.
		if discardRate > 2.0 || c.InDiscards > 5000 {
			return FaultAnalysis{
				Origin:     FaultISPSide,
				Confidence: 0.75,
				Reason: fmt.Sprintf("High packet discard rate (%.2f%% or %d discards) indicates network congestion", discardRate, c.InDiscards),
				RecommendedAction: fmt.Sprintf("Monitor bandwidth utilization; contact %s about upstream congestion if link is underutilized locally", ispName),
				AffectedISP:       ispName,
			}
		}

		// Scenario 7: CRC errors even with link up -> physical degradation.
		if c.CRCErrors > 50 {
			return FaultAnalysis{
				Origin:     FaultCustomerSide,
				Confidence: 0.8,
				Reason: fmt.Sprintf("CRC errors (%d) present even with link up - indicates physical layer degradation", c.CRCErrors),
				RecommendedAction: "Inspect cabling, check for EMI sources, verify duplex settings match on both ends",
			}
		}
	}

	return FaultAnalysis{
		Origin:     FaultUndetermined,
		Confidence: 0,
		Reason:     "Interface operational with no significant errors detected",
		RecommendedAction: "No immediate action required",
	}
}
