package dispatcher

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"

	"github.com/ransomeye/core/pkg/audit"
	"github.com/ransomeye/core/pkg/crypto"
	"github.com/ransomeye/core/pkg/policy"
	"github.com/ransomeye/core/pkg/rerrors"
)

type fakeClient struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (c *fakeClient) Send(ctx context.Context, agent AgentInfo, directive []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, agent.AgentID)
	return nil
}

type fakeAuditChain struct {
	mu      sync.Mutex
	entries []string
}

func (c *fakeAuditChain) Append(component, eventType, actor, host string, data interface{}) (*audit.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, eventType)
	return nil, nil
}

func testDispatcherSigner(t *testing.T) *crypto.Ed25519Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return crypto.NewEd25519Signer("dispatcher-key", priv)
}

func TestDispatch_NoBindingReturnsNoAction(t *testing.T) {
	reg := newTestRegistry()
	set := &BindingSet{}
	d := NewDispatcher(Config{Registry: reg, Bindings: set, Signer: testDispatcherSigner(t), Client: &fakeClient{}})

	decision := &policy.Decision{DecisionID: "d1", Action: policy.ActionAllow}
	directive, err := d.Dispatch(context.Background(), decision, "", "", TargetScope{AgentIDs: []string{"a1"}})
	if err != nil {
		t.Fatalf("expected no-action to be a nil error, got %v", err)
	}
	if directive != nil {
		t.Fatalf("expected no directive to be emitted, got %+v", directive)
	}
}

func TestDispatch_EmitsSignedDirectiveAndAudits(t *testing.T) {
	reg := newTestRegistry()
	set := &BindingSet{bindings: []Binding{{PolicyOutcome: "isolate", PlaybookID: "pb-1", Priority: 1}}}
	client := &fakeClient{}
	auditChain := &fakeAuditChain{}
	d := NewDispatcher(Config{Registry: reg, Bindings: set, Signer: testDispatcherSigner(t), Client: client, AuditChain: auditChain})

	decision := &policy.Decision{DecisionID: "d1", PolicyID: "p1", Action: policy.ActionIsolate}
	directive, err := d.Dispatch(context.Background(), decision, "", "", TargetScope{AgentIDs: []string{"a1"}})
	if err != nil {
		t.Fatalf("expected dispatch to succeed, got %v", err)
	}
	if directive == nil || directive.Signature == "" {
		t.Fatalf("expected a signed directive, got %+v", directive)
	}
	if len(client.sent) != 1 || client.sent[0] != "a1" {
		t.Fatalf("expected the directive sent to a1, got %v", client.sent)
	}
	if len(auditChain.entries) != 1 || auditChain.entries[0] != "DirectiveIssued" {
		t.Fatalf("expected one DirectiveIssued audit record, got %v", auditChain.entries)
	}
}

func TestDispatch_TargetResolutionFailurePropagates(t *testing.T) {
	reg := newTestRegistry()
	set := &BindingSet{bindings: []Binding{{PolicyOutcome: "isolate", PlaybookID: "pb-1", Priority: 1}}}
	d := NewDispatcher(Config{Registry: reg, Bindings: set, Signer: testDispatcherSigner(t), Client: &fakeClient{}})

	decision := &policy.Decision{DecisionID: "d1", Action: policy.ActionIsolate}
	_, err := d.Dispatch(context.Background(), decision, "", "", TargetScope{})
	if !rerrors.Is(err, rerrors.TargetResolutionFailed) {
		t.Fatalf("expected TargetResolutionFailed, got %v", err)
	}
}

func TestDispatch_SendFailureIsAuditedAndReturned(t *testing.T) {
	reg := newTestRegistry()
	set := &BindingSet{bindings: []Binding{{PolicyOutcome: "isolate", PlaybookID: "pb-1", Priority: 1}}}
	client := &fakeClient{err: errors.New("connection refused")}
	auditChain := &fakeAuditChain{}
	d := NewDispatcher(Config{Registry: reg, Bindings: set, Signer: testDispatcherSigner(t), Client: client, AuditChain: auditChain})

	decision := &policy.Decision{DecisionID: "d1", Action: policy.ActionIsolate}
	_, err := d.Dispatch(context.Background(), decision, "", "", TargetScope{AgentIDs: []string{"a1"}})
	if !rerrors.Is(err, rerrors.DirectiveSendFailed) {
		t.Fatalf("expected DirectiveSendFailed, got %v", err)
	}
	if len(auditChain.entries) != 1 || auditChain.entries[0] != "DirectiveSendFailed" {
		t.Fatalf("expected one DirectiveSendFailed audit record, got %v", auditChain.entries)
	}
}
