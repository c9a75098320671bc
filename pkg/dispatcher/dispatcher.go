package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ransomeye/core/pkg/audit"
	"github.com/ransomeye/core/pkg/crypto"
	"github.com/ransomeye/core/pkg/policy"
	"github.com/ransomeye/core/pkg/rerrors"
)

const defaultSendTimeout = 10 * time.Second

// AgentClient sends a signed, serialized directive to one agent's
// endpoint. Production wiring uses pkg/transport's mTLS *http.Client;
// tests inject a fake.
type AgentClient interface {
	Send(ctx context.Context, agent AgentInfo, directive []byte) error
}

// HTTPAgentClient posts the directive body to each agent's APIURL over
// an mTLS http.Client built by pkg/transport.
type HTTPAgentClient struct {
	Client *http.Client
}

func (c *HTTPAgentClient) Send(ctx context.Context, agent AgentInfo, directive []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, agent.APIURL, bytes.NewReader(directive))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("agent %s rejected directive: status %d", agent.AgentID, resp.StatusCode)
	}
	return nil
}

// AuditChain is the subset of *audit.Chain the dispatcher needs.
type AuditChain interface {
	Append(component, eventType, actor, host string, data interface{}) (*audit.Record, error)
}

// Dispatcher ties target resolution, policy→playbook binding and signed
// directive emission together (§4.5).
type Dispatcher struct {
	registry    *Registry
	bindings    *BindingSet
	signer      *crypto.Ed25519Signer
	client      AgentClient
	auditChain  AuditChain
	sendTimeout time.Duration
}

type Config struct {
	Registry    *Registry
	Bindings    *BindingSet
	Signer      *crypto.Ed25519Signer
	Client      AgentClient
	AuditChain  AuditChain
	SendTimeout time.Duration
}

func NewDispatcher(cfg Config) *Dispatcher {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Dispatcher{
		registry:    cfg.Registry,
		bindings:    cfg.Bindings,
		signer:      cfg.Signer,
		client:      cfg.Client,
		auditChain:  cfg.AuditChain,
		sendTimeout: timeout,
	}
}

// Dispatch binds a policy decision to a playbook, resolves its targets
// and emits one signed directive. A "no action" binding result (no
// matching binding, fail-closed per §4.5) returns (nil, nil) — not an
// error — since declining to act is the correct outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, decision *policy.Decision, severity, killChainStage string, scope TargetScope) (*Directive, error) {
	playbookID, ok := d.bindings.Resolve(decision.Action, severity, killChainStage)
	if !ok {
		return nil, nil
	}

	targets, err := d.registry.ResolveTargets(string(decision.Action), scope)
	if err != nil {
		return nil, err
	}

	directive := &Directive{
		DirectiveID: uuid.NewString(),
		TargetScope: scope,
		Action:      string(decision.Action),
		Parameters: map[string]interface{}{
			"playbook_id": playbookID,
			"decision_id": decision.DecisionID,
			"policy_id":   decision.PolicyID,
		},
	}
	if err := directive.sign(d.signer); err != nil {
		return nil, err
	}

	if err := d.send(ctx, targets, directive); err != nil {
		return directive, err
	}

	d.auditIssued(directive)
	return directive, nil
}

func (d *Dispatcher) send(ctx context.Context, targets []string, directive *Directive) error {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	body, err := json.Marshal(directive)
	if err != nil {
		return err
	}

	for _, agentID := range targets {
		agent, ok := d.registry.get(agentID)
		if !ok {
			continue
		}
		if err := d.client.Send(sendCtx, agent, body); err != nil {
			d.auditSendFailed(directive, agentID, err)
			return rerrors.New("dispatcher.Dispatcher.send", rerrors.DirectiveSendFailed, err)
		}
	}
	return nil
}

func (d *Dispatcher) auditIssued(directive *Directive) {
	if d.auditChain == nil {
		return
	}
	_, _ = d.auditChain.Append("dispatcher", "DirectiveIssued", directive.DirectiveID, "", directive)
}

func (d *Dispatcher) auditSendFailed(directive *Directive, agentID string, cause error) {
	if d.auditChain == nil {
		return
	}
	_, _ = d.auditChain.Append("dispatcher", "DirectiveSendFailed", directive.DirectiveID, "", map[string]interface{}{
		"agent_id": agentID,
		"error":    cause.Error(),
	})
}
