package dispatcher

import (
	"testing"

	"github.com/ransomeye/core/pkg/rerrors"
)

func newTestRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(AgentInfo{AgentID: "a1", Platform: "windows", Capabilities: []string{"isolate"}, AssetClass: "server"})
	reg.Register(AgentInfo{AgentID: "a2", Platform: "windows", Capabilities: []string{"isolate", "block"}, AssetClass: "workstation"})
	reg.Register(AgentInfo{AgentID: "a3", Platform: "linux", Capabilities: []string{"isolate"}})
	return reg
}

func TestResolveTargets_ByAgentIDs(t *testing.T) {
	reg := newTestRegistry()
	ids, err := reg.ResolveTargets("isolate", TargetScope{AgentIDs: []string{"a1"}})
	if err != nil || len(ids) != 1 || ids[0] != "a1" {
		t.Fatalf("unexpected result: %v %v", ids, err)
	}
}

func TestResolveTargets_RejectsMissingCapability(t *testing.T) {
	reg := newTestRegistry()
	_, err := reg.ResolveTargets("block", TargetScope{AgentIDs: []string{"a1"}})
	if !rerrors.Is(err, rerrors.TargetResolutionFailed) {
		t.Fatalf("expected TargetResolutionFailed, got %v", err)
	}
}

func TestResolveTargets_RejectsUnregisteredAgent(t *testing.T) {
	reg := newTestRegistry()
	_, err := reg.ResolveTargets("isolate", TargetScope{AgentIDs: []string{"nonexistent"}})
	if !rerrors.Is(err, rerrors.TargetResolutionFailed) {
		t.Fatalf("expected TargetResolutionFailed, got %v", err)
	}
}

func TestResolveTargets_ByPlatform(t *testing.T) {
	reg := newTestRegistry()
	ids, err := reg.ResolveTargets("isolate", TargetScope{Platform: "windows"})
	if err != nil || len(ids) != 2 {
		t.Fatalf("expected both windows agents, got %v %v", ids, err)
	}
}

func TestResolveTargets_PlatformFiltersByAssetClass(t *testing.T) {
	reg := newTestRegistry()
	ids, err := reg.ResolveTargets("isolate", TargetScope{Platform: "windows", AssetClass: "server"})
	if err != nil || len(ids) != 1 || ids[0] != "a1" {
		t.Fatalf("expected only a1, got %v %v", ids, err)
	}
}

func TestResolveTargets_EmptyScopeIsAmbiguous(t *testing.T) {
	reg := newTestRegistry()
	_, err := reg.ResolveTargets("isolate", TargetScope{})
	if !rerrors.Is(err, rerrors.TargetResolutionFailed) {
		t.Fatalf("expected TargetResolutionFailed for empty scope, got %v", err)
	}
}

func TestResolveTargets_MultiplePathsIsAmbiguous(t *testing.T) {
	reg := newTestRegistry()
	_, err := reg.ResolveTargets("isolate", TargetScope{AgentIDs: []string{"a1"}, Platform: "windows"})
	if !rerrors.Is(err, rerrors.TargetResolutionFailed) {
		t.Fatalf("expected TargetResolutionFailed for ambiguous scope, got %v", err)
	}
}

func TestResolveTargets_HostAddressesNotImplemented(t *testing.T) {
	reg := newTestRegistry()
	_, err := reg.ResolveTargets("isolate", TargetScope{HostAddresses: []string{"10.0.0.1"}})
	if !rerrors.Is(err, rerrors.TargetResolutionFailed) {
		t.Fatalf("expected TargetResolutionFailed for host_addresses, got %v", err)
	}
}

func TestResolveTargets_NeverBroadcastsOnZeroMatches(t *testing.T) {
	reg := newTestRegistry()
	_, err := reg.ResolveTargets("quarantine", TargetScope{Platform: "windows"})
	if !rerrors.Is(err, rerrors.TargetResolutionFailed) {
		t.Fatalf("expected TargetResolutionFailed for zero matches, got %v", err)
	}
}
