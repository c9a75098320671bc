// Package dispatcher implements target resolution, policy→playbook
// binding, and signed directive emission (§4.5): the last stage before
// a policy decision becomes an action against an enforcement point.
package dispatcher

import "sync"

// AgentInfo describes one registered enforcement agent.
type AgentInfo struct {
	AgentID      string
	Platform     string
	Capabilities []string
	AssetClass   string
	Environment  string
	APIURL       string
}

func (a AgentInfo) hasCapability(action string) bool {
	for _, c := range a.Capabilities {
		if c == action {
			return true
		}
	}
	return false
}

// Registry is the in-memory agent directory the router resolves against.
// Agents register once at connect time; there is no persistence layer —
// a restarted agent must re-register.
type Registry struct {
	mu         sync.RWMutex
	agents     map[string]AgentInfo
	byPlatform map[string][]string
}

func NewRegistry() *Registry {
	return &Registry{
		agents:     make(map[string]AgentInfo),
		byPlatform: make(map[string][]string),
	}
}

func (r *Registry) Register(agent AgentInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[agent.AgentID] = agent
	r.byPlatform[agent.Platform] = append(r.byPlatform[agent.Platform], agent.AgentID)
}

func (r *Registry) get(agentID string) (AgentInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	return a, ok
}

func (r *Registry) platformAgents(platform string) []AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byPlatform[platform]
	out := make([]AgentInfo, 0, len(ids))
	for _, id := range ids {
		if a, ok := r.agents[id]; ok {
			out = append(out, a)
		}
	}
	return out
}
