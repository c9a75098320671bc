package dispatcher

import (
	"fmt"

	"github.com/ransomeye/core/pkg/rerrors"
)

// TargetScope names exactly one resolution path (§4.5). Ambiguity
// (more than one populated) or an empty scope is an error; there is no
// precedence rule between them because none is ever valid — the
// directive author must pick one.
type TargetScope struct {
	AgentIDs      []string `json:"agent_ids,omitempty"`
	Platform      string   `json:"platform,omitempty"`
	HostAddresses []string `json:"host_addresses,omitempty"`
	AssetClass    string   `json:"asset_class,omitempty"`
	Environment   string   `json:"environment,omitempty"`
}

func (s TargetScope) populatedPaths() int {
	n := 0
	if len(s.AgentIDs) > 0 {
		n++
	}
	if s.Platform != "" {
		n++
	}
	if len(s.HostAddresses) > 0 {
		n++
	}
	return n
}

// ResolveTargets resolves a target scope to a concrete, non-empty set
// of agent IDs for the given action. Never broadcasts: an empty scope,
// an ambiguous scope (more than one path populated), or zero matches is
// always an error, never "all agents."
func (reg *Registry) ResolveTargets(action string, scope TargetScope) ([]string, error) {
	switch scope.populatedPaths() {
	case 0:
		return nil, rerrors.New("dispatcher.ResolveTargets", rerrors.TargetResolutionFailed,
			fmt.Errorf("target scope is ambiguous: must specify exactly one of agent_ids, platform, or host_addresses"))
	case 1:
		// fall through to the single populated path below
	default:
		return nil, rerrors.New("dispatcher.ResolveTargets", rerrors.TargetResolutionFailed,
			fmt.Errorf("target scope is ambiguous: more than one of agent_ids, platform, host_addresses is set"))
	}

	if len(scope.AgentIDs) > 0 {
		return reg.resolveByAgentIDs(action, scope)
	}
	if scope.Platform != "" {
		return reg.resolveByPlatform(action, scope)
	}
	return nil, rerrors.New("dispatcher.ResolveTargets", rerrors.TargetResolutionFailed,
		fmt.Errorf("host address resolution is not implemented: specify agent_ids or platform"))
}

func (reg *Registry) resolveByAgentIDs(action string, scope TargetScope) ([]string, error) {
	resolved := make([]string, 0, len(scope.AgentIDs))
	for _, id := range scope.AgentIDs {
		agent, ok := reg.get(id)
		if !ok {
			return nil, rerrors.New("dispatcher.ResolveTargets", rerrors.TargetResolutionFailed,
				fmt.Errorf("agent %s is not registered", id))
		}
		if !agent.hasCapability(action) {
			return nil, rerrors.New("dispatcher.ResolveTargets", rerrors.TargetResolutionFailed,
				fmt.Errorf("agent %s does not advertise capability %q", id, action))
		}
		if scope.Platform != "" && agent.Platform != scope.Platform {
			return nil, rerrors.New("dispatcher.ResolveTargets", rerrors.TargetResolutionFailed,
				fmt.Errorf("agent %s platform %s does not match required %s", id, agent.Platform, scope.Platform))
		}
		if scope.AssetClass != "" && agent.AssetClass != "" && agent.AssetClass != scope.AssetClass {
			return nil, rerrors.New("dispatcher.ResolveTargets", rerrors.TargetResolutionFailed,
				fmt.Errorf("agent %s asset class %s does not match required %s", id, agent.AssetClass, scope.AssetClass))
		}
		if scope.Environment != "" && agent.Environment != "" && agent.Environment != scope.Environment {
			return nil, rerrors.New("dispatcher.ResolveTargets", rerrors.TargetResolutionFailed,
				fmt.Errorf("agent %s environment %s does not match required %s", id, agent.Environment, scope.Environment))
		}
		resolved = append(resolved, id)
	}
	if len(resolved) == 0 {
		return nil, rerrors.New("dispatcher.ResolveTargets", rerrors.TargetResolutionFailed,
			fmt.Errorf("no valid agents found for specified agent_ids"))
	}
	return resolved, nil
}

func (reg *Registry) resolveByPlatform(action string, scope TargetScope) ([]string, error) {
	candidates := reg.platformAgents(scope.Platform)
	resolved := make([]string, 0, len(candidates))
	for _, agent := range candidates {
		if !agent.hasCapability(action) {
			continue
		}
		if scope.AssetClass != "" && agent.AssetClass != "" && agent.AssetClass != scope.AssetClass {
			continue
		}
		if scope.Environment != "" && agent.Environment != "" && agent.Environment != scope.Environment {
			continue
		}
		resolved = append(resolved, agent.AgentID)
	}
	if len(resolved) == 0 {
		return nil, rerrors.New("dispatcher.ResolveTargets", rerrors.TargetResolutionFailed,
			fmt.Errorf("no agents found matching platform %s and requirements", scope.Platform))
	}
	return resolved, nil
}
