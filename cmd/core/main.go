// Command core runs the trust, event, and decision pipeline: mTLS
// admission of signed sensor telemetry, kill-chain correlation, policy
// evaluation, and signed directive dispatch, all against a single
// hash-chained audit log.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ransomeye/core/pkg/acl"
	"github.com/ransomeye/core/pkg/audit"
	"github.com/ransomeye/core/pkg/boundary"
	"github.com/ransomeye/core/pkg/config"
	"github.com/ransomeye/core/pkg/correlation"
	"github.com/ransomeye/core/pkg/crypto"
	"github.com/ransomeye/core/pkg/decisionlog"
	"github.com/ransomeye/core/pkg/dispatcher"
	"github.com/ransomeye/core/pkg/ingestion"
	"github.com/ransomeye/core/pkg/observability"
	"github.com/ransomeye/core/pkg/policy"
	"github.com/ransomeye/core/pkg/ratelimit"
	"github.com/ransomeye/core/pkg/replay"
	"github.com/ransomeye/core/pkg/schema"
	"github.com/ransomeye/core/pkg/transport"
	"github.com/ransomeye/core/pkg/trust"

	"github.com/redis/go-redis/v9"

	"log/slog"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := slog.Default()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		return 1
	}

	obsCfg := observability.DefaultConfig()
	if cfg.OTelExporterOTLPEndpoint != "" {
		obsCfg.OTLPEndpoint = cfg.OTelExporterOTLPEndpoint
	}
	obsCfg.ServiceName = cfg.OTelServiceName
	obs, err := observability.New(context.Background(), obsCfg)
	if err != nil {
		logger.Error("observability init failed", "error", err)
		return 1
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	trustStore := trust.New()
	if err := trustStore.Load(cfg.TrustStorePath, trust.LoadOptions{ModelKeysPath: cfg.ModelPublicKeyPath}); err != nil {
		logger.Error("trust store load failed", "error", err)
		return 1
	}

	auditChain, err := audit.Open(cfg.AuditLogPath,
		trustStore.ComponentSigner,
		func(component string) (*crypto.Ed25519Verifier, error) {
			signer, err := trustStore.ComponentSigner(component)
			if err != nil {
				return nil, err
			}
			return crypto.NewEd25519Verifier(signer.Public()), nil
		})
	if err != nil {
		logger.Error("audit chain open failed", "error", err)
		return 1
	}
	defer func() { _ = auditChain.Close() }()

	if idx, err := auditChain.VerifyChain(); err != nil {
		logger.Error("audit chain failed verification on boot", "error", err, "record_index", idx)
		return 1
	}

	boundaryClassifier := boundary.DefaultClassifier()
	boundaryEnforcer, err := newBoundaryEnforcer(cfg, boundaryClassifier, auditChain)
	if err != nil {
		logger.Error("boundary enforcer init failed", "error", err)
		return 1
	}

	policyResult, err := policy.Load(cfg.PolicyDir, trustStore)
	if err != nil {
		logger.Error("policy load failed", "error", err)
		return 1
	}
	policyEngine := policy.NewEngine(policy.Config{
		Rules:      policyResult.Rules,
		AuditChain: auditChain,
	})

	schemas := schema.NewRegistry()
	if cfg.SchemaDir != "" {
		if err := loadSchemas(schemas, cfg.SchemaDir); err != nil {
			logger.Error("schema registry load failed", "error", err)
			return 1
		}
	}

	limiter := ratelimit.New(ratelimit.Config{
		GlobalLimit:    cfg.GlobalRateLimit,
		ProducerLimit:  cfg.ProducerRateLimit,
		ComponentLimit: cfg.ProducerRateLimit,
		Window:         time.Duration(cfg.RateLimitWindowSeconds) * time.Second,
	})

	var sharedReplayCache replay.SharedCache
	if cfg.ReplayCacheRedisAddr != "" {
		sharedReplayCache = &replay.RedisCache{
			Client: redis.NewClient(&redis.Options{Addr: cfg.ReplayCacheRedisAddr}),
		}
	}
	replayProtector := replay.New(
		time.Duration(cfg.ReplayDedupeWindowSeconds)*time.Second,
		time.Duration(cfg.ReplayExpiryWindowSeconds)*time.Second,
		time.Duration(cfg.ClockToleranceSeconds)*time.Second,
		sharedReplayCache,
	)

	correlationEngine := correlation.NewEngine(
		correlation.NewTable(cfg.MaxEntities, time.Duration(cfg.EntityTTLSeconds)*time.Second),
		defaultStageConfigs(),
		cfg.DetectionThreshold,
		func(eventType string, detail map[string]string) {
			data := make(map[string]interface{}, len(detail))
			for k, v := range detail {
				data[k] = v
			}
			_, _ = auditChain.Append("correlation", eventType, "correlation", "", data)
		},
	)

	agentRegistry := dispatcher.NewRegistry()
	playbooks := dispatcher.NewPlaybookRegistry(cfg.PlaybookIDs)
	bindings, err := dispatcher.LoadBindings(cfg.DispatcherBindingPath, trustStore, playbooks)
	if err != nil {
		logger.Error("dispatcher binding load failed", "error", err)
		return 1
	}
	dispatcherSigner, err := trustStore.ComponentSigner("dispatcher")
	if err != nil {
		logger.Error("dispatcher signer unavailable", "error", err)
		return 1
	}
	agentClient, err := newAgentClient(trustStore, cfg)
	if err != nil {
		logger.Error("dispatcher agent client init failed", "error", err)
		return 1
	}
	dispatch := dispatcher.NewDispatcher(dispatcher.Config{
		Registry:   agentRegistry,
		Bindings:   bindings,
		Signer:     dispatcherSigner,
		Client:     agentClient,
		AuditChain: auditChain,
	})

	var decisions *decisionlog.Store
	if cfg.DecisionLogDSN != "" {
		decisions, err = decisionlog.Open(decisionlog.ConnectionConfig{Driver: decisionlog.DriverPostgres, DSN: cfg.DecisionLogDSN})
	} else {
		decisions, err = decisionlog.Open(decisionlog.ConnectionConfig{Driver: decisionlog.DriverSQLite, DSN: cfg.DecisionLogPath})
	}
	if err != nil {
		logger.Error("decision log open failed", "error", err)
		return 1
	}
	defer func() { _ = decisions.Close() }()

	toCorrelation := func(ctx context.Context, e *ingestion.Envelope) error {
		if err := boundaryEnforcer.EnforceCrossing("ingestion", "correlation", "AdmitEvent", ""); err != nil {
			return err
		}
		admission, err := envelopeToAdmission(e)
		if err != nil {
			return err
		}
		detection, err := correlationEngine.Admit(admission)
		if err != nil {
			return err
		}
		if detection == nil {
			return nil
		}
		return evaluatePolicyAndDispatch(ctx, policyEngine, dispatch, decisions, boundaryEnforcer, detection)
	}

	pipeline := ingestion.New(ingestion.Config{
		Trust:           trustStore,
		RoleOf:          func(string) acl.Role { return acl.RoleAgent },
		Schemas:         schemas,
		Limiter:         limiter,
		Replay:          replayProtector,
		AuditChain:      auditChain,
		Dispatch:        toCorrelation,
		AdmissionBudget: time.Duration(cfg.AdmissionBudgetMS) * time.Millisecond,
	})

	// Admit already hands each admitted envelope to toCorrelation directly
	// (stage 9); draining the buffer here just frees the slot stage 6
	// reserved for it so a long-running process never reports spurious
	// backpressure once bufferCap admissions have passed through.
	go func() {
		for range pipeline.Drain() {
		}
	}()

	server, err := newAdmissionServer(cfg, trustStore, pipeline, obs)
	if err != nil {
		logger.Error("admission server init failed", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admission endpoint listening", "addr", cfg.IngestionListenAddr)
		errCh <- server.ListenAndServeTLS("", "")
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return 0
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("admission server stopped", "error", err)
			return 1
		}
	}
	return 0
}

// newBoundaryEnforcer wires the cross-plane boundary enforcer (§4.6).
// Component identity verification is optional: it activates only when a
// signing key is configured, so a single-process deployment without
// cross-process callers doesn't need to mint tokens for itself.
func newBoundaryEnforcer(cfg *config.Config, classifier *boundary.Classifier, auditChain *audit.Chain) (*boundary.Enforcer, error) {
	var verifier *boundary.IdentityVerifier
	if cfg.BoundaryJWTSigningKeyPath != "" {
		priv, err := loadEd25519PrivateKeyPEM(cfg.BoundaryJWTSigningKeyPath)
		if err != nil {
			return nil, fmt.Errorf("boundary signing key: %w", err)
		}
		verifier = boundary.NewIdentityVerifier(priv.Public().(ed25519.PublicKey))
	}
	return boundary.NewEnforcer(boundary.Config{
		Classifier: classifier,
		Identity:   verifier,
		AuditChain: auditChain,
	}), nil
}

func loadEd25519PrivateKeyPEM(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s does not contain an Ed25519 private key", path)
	}
	return priv, nil
}

func loadSchemas(registry *schema.Registry, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		// filename convention: <component_type>__<schema_version>.json
		name := strings.TrimSuffix(entry.Name(), ".json")
		parts := strings.SplitN(name, "__", 2)
		if len(parts) != 2 {
			return fmt.Errorf("schema file %s does not match <component_type>__<schema_version>.json", entry.Name())
		}
		doc, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
		if err := registry.Register(parts[0], parts[1], string(doc)); err != nil {
			return err
		}
	}
	return nil
}

// defaultStageConfigs gives every kill-chain stage a confidence decay rate
// and a minimum signal set. spec.md leaves these deployment-tunable; the
// spec doesn't mandate fixed values, so these are reasonable production
// defaults, not a normative vocabulary.
func defaultStageConfigs() map[correlation.Stage]correlation.StageConfig {
	cfgs := make(map[correlation.Stage]correlation.StageConfig, 10)
	for stage := correlation.InitialAccess; stage <= correlation.Impact; stage++ {
		cfgs[stage] = correlation.StageConfig{
			ConfidenceDecayPerHour: 0.05,
			RequiredSignalKinds:    []string{"network", "host"},
		}
	}
	return cfgs
}

// signalPayload is the event_data shape correlation-bound telemetry must
// carry, on top of whatever component-specific fields its JSON Schema
// additionally allows.
type signalPayload struct {
	SignalID        string    `json:"signal_id"`
	Kind            string    `json:"kind"`
	Confidence      float64   `json:"confidence"`
	ObservedAt      time.Time `json:"observed_at"`
	ProposedStage   int       `json:"proposed_stage"`
	HasEvidenceFlag bool      `json:"has_evidence_flag"`
}

func envelopeToAdmission(e *ingestion.Envelope) (correlation.Admission, error) {
	var p signalPayload
	if err := json.Unmarshal(e.EventData, &p); err != nil {
		return correlation.Admission{}, err
	}
	return correlation.Admission{
		EntityID:      e.ProducerID,
		ProposedStage: correlation.Stage(p.ProposedStage),
		Signal: correlation.Signal{
			SignalID:   p.SignalID,
			Kind:       p.Kind,
			Confidence: p.Confidence,
			ObservedAt: p.ObservedAt,
		},
		HasEvidenceFlag: p.HasEvidenceFlag,
	}, nil
}

// severityFor maps a detection's confidence to the coarse severity
// vocabulary policy match conditions are written against.
func severityFor(confidence float64) string {
	switch {
	case confidence >= 0.9:
		return "CRITICAL"
	case confidence >= 0.75:
		return "HIGH"
	case confidence >= 0.5:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

func evaluatePolicyAndDispatch(ctx context.Context, engine *policy.Engine, dispatch *dispatcher.Dispatcher, decisions *decisionlog.Store, enforcer *boundary.Enforcer, detection *correlation.Detection) error {
	if err := enforcer.EnforceCrossing("correlation", "policy_engine", "EvaluateDetection", ""); err != nil {
		return err
	}
	policyCtx := policy.Context{
		"alert_id":           detection.ExplanationRef,
		"kill_chain_stage":   detection.Stage.String(),
		"alert_severity":     severityFor(detection.Confidence),
		"asset_class":        "unknown",
		"asset_id":           detection.EntityID,
		"evidence_reference": detection.ExplanationRef,
		"confidence":         detection.Confidence,
	}
	decision, err := engine.Evaluate(policyCtx, 0)
	if err != nil {
		return err
	}
	if err := decisions.Record(time.Now().UTC().Format(time.RFC3339), decision); err != nil {
		slog.Default().Warn("decision log record failed", "error", err, "decision_id", decision.DecisionID)
	}
	if err := enforcer.EnforceCrossing("policy_engine", "dispatcher", "DispatchDecision", ""); err != nil {
		return err
	}
	_, err = dispatch.Dispatch(ctx, decision, severityFor(detection.Confidence), detection.Stage.String(),
		dispatcher.TargetScope{AgentIDs: []string{detection.EntityID}})
	return err
}

func newAgentClient(trustStore *trust.Store, cfg *config.Config) (dispatcher.AgentClient, error) {
	if cfg.ClientCertPath == "" || cfg.ClientKeyPath == "" {
		return nil, fmt.Errorf("CLIENT_CERT_PATH and CLIENT_KEY_PATH are required for dispatcher directive delivery")
	}
	cert, err := tls.LoadX509KeyPair(cfg.ClientCertPath, cfg.ClientKeyPath)
	if err != nil {
		return nil, err
	}
	client := transport.NewClient(transport.DialerConfig{
		RootCA:     trustStore.RootCA(),
		ClientCert: cert,
	})
	return &dispatcher.HTTPAgentClient{Client: client}, nil
}

func newAdmissionServer(cfg *config.Config, trustStore *trust.Store, pipeline *ingestion.Pipeline, obs *observability.Provider) (*http.Server, error) {
	if cfg.ServerCertPath == "" || cfg.ServerKeyPath == "" {
		return nil, fmt.Errorf("SERVER_CERT_PATH and SERVER_KEY_PATH are required for the admission endpoint")
	}
	cert, err := tls.LoadX509KeyPair(cfg.ServerCertPath, cfg.ServerKeyPath)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		ctx, finish := obs.TrackOperation(r.Context(), "ingestion.admit")
		var admitErr error
		defer func() { finish(admitErr) }()

		if len(r.TLS.PeerCertificates) == 0 {
			http.Error(w, "client certificate required", http.StatusUnauthorized)
			return
		}
		producerID := r.TLS.PeerCertificates[0].Subject.CommonName

		var envelope ingestion.Envelope
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			http.Error(w, "malformed envelope", http.StatusBadRequest)
			return
		}

		priority := ratelimit.Priority(r.Header.Get("X-Priority"))
		result := pipeline.Admit(ctx, &envelope, producerID, priority)
		if result.Response != ingestion.Accepted {
			admitErr = fmt.Errorf("admission rejected: %s", result.Response)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	})

	return transport.NewServer(transport.ServerConfig{
		Addr:       cfg.IngestionListenAddr,
		Handler:    mux,
		RootCA:     trustStore.RootCA(),
		ServerCert: cert,
	}), nil
}
