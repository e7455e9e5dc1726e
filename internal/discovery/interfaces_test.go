package discovery

import "testing"

func TestClassifyInterfaceISPFromAlias(t *testing.T) {
	got := ClassifyInterface("Magti_Internet", "", "Gi0/0/1", "")
	if got.InterfaceType != "isp" {
		t.Fatalf("got type %q, want isp", got.InterfaceType)
	}
	if got.ISPProvider != "magti" {
		t.Errorf("got provider %q, want magti", got.ISPProvider)
	}
	if !got.IsCritical {
		t.Error("ISP interfaces must be critical")
	}
}

func TestClassifyInterfaceTrunkViaPortChannel(t *testing.T) {
	got := ClassifyInterface("", "", "Po1", "")
	if got.InterfaceType != "trunk" {
		t.Fatalf("got type %q, want trunk", got.InterfaceType)
	}
}

func TestClassifyInterfaceLoopbackByIfType(t *testing.T) {
	got := ClassifyInterface("", "whatever", "Loopback0", "softwareLoopback")
	if got.InterfaceType != "loopback" {
		t.Fatalf("got type %q, want loopback", got.InterfaceType)
	}
	if got.Confidence != 1.0 {
		t.Errorf("got confidence %f, want 1.0", got.Confidence)
	}
}

func TestClassifyInterfaceBranchLinkByCityName(t *testing.T) {
	got := ClassifyInterface("To_Rustavi_Branch", "", "", "")
	if got.InterfaceType != "branch_link" {
		t.Fatalf("got type %q, want branch_link", got.InterfaceType)
	}
}

func TestClassifyInterfaceAliasOutweighsDescr(t *testing.T) {
	// ifAlias has weight 1.0 vs ifDescr's 0.7; an ISP-indicating alias
	// should win even if ifDescr matches a weaker "other" pattern.
	got := ClassifyInterface("WAN Uplink", "GigabitEthernet", "", "")
	if got.InterfaceType != "isp" {
		t.Fatalf("got type %q, want isp", got.InterfaceType)
	}
}

func TestClassifyInterfaceFallsBackToOther(t *testing.T) {
	got := ClassifyInterface("", "", "", "")
	if got.InterfaceType != "other" || got.Confidence != 0 {
		t.Errorf("got %+v, want other/0", got)
	}
}

func TestIsCriticalInterfaceTrunkRequiresCoreKeyword(t *testing.T) {
	if IsCriticalInterface("trunk", "Trunk_to_AccessSwitch3") {
		t.Error("non-core trunk should not be critical")
	}
	if !IsCriticalInterface("trunk", "Core_Switch_Trunk") {
		t.Error("core-labeled trunk should be critical")
	}
}

func TestIsCriticalInterfaceServerLinkRequiresProdKeyword(t *testing.T) {
	if IsCriticalInterface("server_link", "Dev_Server_01") {
		t.Error("non-prod server link should not be critical")
	}
	if !IsCriticalInterface("server_link", "Production_DB_Server") {
		t.Error("prod-labeled server link should be critical")
	}
}
