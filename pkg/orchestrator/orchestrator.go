// Package orchestrator drives the fabric's startup and shutdown
// lifecycle: environment validation, database and schema
// initialization, trust and policy loading, service dependency
// checks, and the ordered reverse-sequence shutdown.
package orchestrator

import (
	"context"
	"crypto/rsa"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/ransomeye/core/pkg/artifacts"
	"github.com/ransomeye/core/pkg/auditchain"
	"github.com/ransomeye/core/pkg/canonicalize"
	"github.com/ransomeye/core/pkg/config"
	"github.com/ransomeye/core/pkg/database"
	"github.com/ransomeye/core/pkg/deception"
	"github.com/ransomeye/core/pkg/identity"
	"github.com/ransomeye/core/pkg/observability"
	"github.com/ransomeye/core/pkg/policy"
	"github.com/ransomeye/core/pkg/retention"
	"github.com/ransomeye/core/pkg/schema"
)

// State is the orchestrator's position in its startup/shutdown lifecycle.
type State string

const (
	StateInitializing        State = "Initializing"
	StateEnvironmentValidated State = "EnvironmentValidated"
	StateTrustInitialized    State = "TrustInitialized"
	StatePolicyInitialized   State = "PolicyInitialized"
	StateBusInitialized      State = "BusInitialized"
	StateServicesInitialized State = "ServicesInitialized"
	StateReady               State = "Ready"
	StateRunning             State = "Running"
	StateShuttingDown        State = "ShuttingDown"
	StateFailed              State = "Failed"
)

// Orchestrator owns the fabric's long-lived subsystems and drives them
// through the lifecycle state machine.
type Orchestrator struct {
	cfg      *config.Config
	log      *slog.Logger
	identity identity.Identity
	state    State

	db       *sql.DB
	chain    *auditchain.Chain
	trust    *identity.TrustStore
	policies *policy.Loader
	assets   *deception.Registry
	deployer *deception.Deployer
	teardown *deception.TeardownEngine
	enforcer *retention.Enforcer
	obs      *observability.Provider
}

// New builds an orchestrator bound to cfg. It performs no I/O.
func New(cfg *config.Config, log *slog.Logger, ident identity.Identity) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{cfg: cfg, log: log, identity: ident, state: StateInitializing}
}

// Observability returns the lifecycle tracer/metrics provider brought
// up at the start of Start. It is nil until Start has run.
func (o *Orchestrator) Observability() *observability.Provider {
	return o.obs
}

// State returns the orchestrator's current lifecycle state.
func (o *Orchestrator) State() State {
	return o.state
}

// DB returns the pooled database connection established during
// startup. Callers must not invoke it before Start has completed.
func (o *Orchestrator) DB() *sql.DB {
	return o.db
}

// Trust returns the loaded trust store. Callers must not invoke it
// before Start has completed.
func (o *Orchestrator) Trust() *identity.TrustStore {
	return o.trust
}

// Enforcer returns the retention enforcer brought up during database
// initialization, already run once in dry-run mode as a startup gate.
func (o *Orchestrator) Enforcer() *retention.Enforcer {
	return o.enforcer
}

// Chain returns the audit chain brought up during database
// initialization, for wiring into the forensics export route.
func (o *Orchestrator) Chain() *auditchain.Chain {
	return o.chain
}

// Assets returns the deception asset registry. Start always creates
// it; it holds zero assets if the asset directory is unset or missing.
func (o *Orchestrator) Assets() *deception.Registry {
	return o.assets
}

// Teardown returns the deception teardown engine, satisfying
// adminapi.TeardownEngine, for wiring into the operator control
// surface.
func (o *Orchestrator) Teardown() *deception.TeardownEngine {
	return o.teardown
}

func (o *Orchestrator) transition(s State) {
	o.log.Info("orchestrator state transition", "from", o.state, "to", s)
	o.state = s
}

// Start runs the full fail-closed startup sequence: environment,
// database + schema, trust, policy, bus, services, health gate, then
// Running. Any step failure records a best-effort error_events row and
// an orchestrator_fatal_error audit record before returning.
func (o *Orchestrator) Start(ctx context.Context) error {
	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    string(o.identity.ComponentType),
		ServiceVersion: o.cfg.Version,
		OTLPEndpoint:   o.cfg.OTLPEndpoint,
		SampleRate:     o.cfg.OTLPSampleRate,
		BatchTimeout:   5 * time.Second,
		Enabled:        o.cfg.OTLPEnabled,
		Insecure:       o.cfg.OTLPInsecure,
	})
	if err != nil {
		return o.fail(ctx, "observability initialization", err)
	}
	o.obs = obs

	ctx, span := o.obs.StartSpan(ctx, "orchestrator.start")
	defer span.End()

	if err := o.validateEnvironment(ctx); err != nil {
		return o.fail(ctx, "environment validation", err)
	}
	o.transition(StateEnvironmentValidated)

	ctx, done := o.obs.TrackOperation(ctx, "orchestrator.init_database",
		observability.OrchestratorAttributes(string(StateEnvironmentValidated))...)
	err = o.initDatabase(ctx)
	done(err)
	if err != nil {
		return o.fail(ctx, "database initialization", err)
	}

	if err := o.initTrust(ctx); err != nil {
		return o.fail(ctx, "trust initialization", err)
	}
	o.transition(StateTrustInitialized)

	if err := o.initPolicy(ctx); err != nil {
		return o.fail(ctx, "policy initialization", err)
	}
	o.transition(StatePolicyInitialized)

	o.initBus(ctx)
	o.transition(StateBusInitialized)

	if err := o.validateServices(ctx); err != nil {
		return o.fail(ctx, "service validation", err)
	}
	o.transition(StateServicesInitialized)

	ctx, done = o.obs.TrackOperation(ctx, "orchestrator.health_gate",
		observability.OrchestratorAttributes(string(StateServicesInitialized))...)
	err = o.healthGate(ctx)
	done(err)
	if err != nil {
		return o.fail(ctx, "health gate", err)
	}
	o.transition(StateReady)

	if err := o.markRunning(ctx); err != nil {
		return o.fail(ctx, "transition to running", err)
	}
	o.transition(StateRunning)
	return nil
}

// validateEnvironment checks that every path the config references
// actually exists on disk — config.Load already enforced that the
// required env vars themselves are present.
func (o *Orchestrator) validateEnvironment(ctx context.Context) error {
	for _, path := range []string{o.cfg.PolicyDir, o.cfg.TrustStorePath} {
		if err := requireDirExists(path); err != nil {
			return err
		}
	}
	if err := requireFileExists(o.cfg.SchemaSQLPath); err != nil {
		return err
	}
	return nil
}

func (o *Orchestrator) initDatabase(ctx context.Context) error {
	db, err := database.Connect(ctx, o.cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	o.db = db

	mgr, err := schema.NewManager(db, o.cfg.SchemaSQLPath)
	if err != nil {
		return fmt.Errorf("schema manager: %w", err)
	}
	if err := mgr.Apply(ctx); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if err := schema.ValidateContract(ctx, db); err != nil {
		return fmt.Errorf("validate contract: %w", err)
	}

	o.chain = auditchain.NewChain(db)

	if err := o.upsertComponent(ctx); err != nil {
		return fmt.Errorf("upsert component: %w", err)
	}

	fingerprint := canonicalize.SortedEnvPairsHash(nonSecretEnvPairs())
	if _, err := o.db.ExecContext(ctx,
		`INSERT INTO startup_events (component_id, event_time, detail) VALUES ($1, now(), $2)`,
		o.componentUUID(ctx), fmt.Sprintf(`{"env_fingerprint":"%s"}`, fingerprint),
	); err != nil {
		return fmt.Errorf("write startup_events: %w", err)
	}

	if _, err := o.db.ExecContext(ctx,
		`INSERT INTO component_health (component_id, status, checked_at) VALUES ($1,$2,now())`,
		o.componentUUID(ctx), "healthy/startup_db_initialized",
	); err != nil {
		return fmt.Errorf("write component_health: %w", err)
	}

	if _, err := o.chain.Append(ctx, o.identity.ComponentID, "orchestrator_db_initialized", "orchestrator", o.identity.ComponentID, map[string]interface{}{
		"status": "STARTING",
	}); err != nil {
		return fmt.Errorf("audit db initialized: %w", err)
	}

	enforcer := retention.NewEnforcer(o.db, o.chain, retention.Config{
		BatchSize:           o.cfg.RetentionBatchSize,
		MaxBatchesPerTable:  o.cfg.RetentionMaxBatchesPerTable,
		SleepBetweenBatches: time.Duration(o.cfg.RetentionSleepMSBetweenBatches) * time.Millisecond,
	}, nil)
	if store, archErr := artifacts.NewStoreFromEnv(ctx); archErr == nil {
		enforcer.SetArchiver(artifacts.NewExporter(store))
	} else {
		o.log.Warn("retention archive-before-purge disabled", "reason", archErr)
	}
	enforcer.SetObservability(o.obs)
	enforcer.SetLiveRun(false)
	o.enforcer = enforcer
	if _, err := o.enforcer.Run(ctx); err != nil {
		return fmt.Errorf("retention dry-run gate: %w", err)
	}

	return nil
}

func (o *Orchestrator) initTrust(ctx context.Context) error {
	trust, err := identity.LoadTrustDirectory(o.cfg.TrustStorePath)
	if err != nil {
		return err
	}
	if trust.Count() == 0 {
		return fmt.Errorf("trust store at %s contains no verifying keys", o.cfg.TrustStorePath)
	}
	o.trust = trust
	return nil
}

func (o *Orchestrator) initPolicy(ctx context.Context) error {
	rsaKey, ok := o.firstRSAVerifyingKey()
	if !ok {
		return fmt.Errorf("no RSA-PSS verifying key available to validate policy documents")
	}
	loader := policy.NewLoader(o.cfg.PolicyDir, rsaKey, "^1.0.0")
	results, err := loader.LoadAll()
	if err != nil {
		return err
	}
	var loadedAny bool
	for _, r := range results {
		if r.Err != nil {
			o.log.Warn("policy document failed to load", "file", r.FileName, "error", r.Err)
			continue
		}
		loadedAny = true
	}
	if !loadedAny {
		return fmt.Errorf("no policy documents loaded successfully from %s", o.cfg.PolicyDir)
	}
	o.policies = loader
	return nil
}

func (o *Orchestrator) firstRSAVerifyingKey() (*rsa.PublicKey, bool) {
	if o.trust == nil {
		return nil, false
	}
	for _, key := range o.trust.Keys() {
		if key.Algorithm == identity.AlgorithmRSAPSS && key.RSA != nil {
			return key.RSA, true
		}
	}
	return nil, false
}

// initBus stands in for the optional event transport. No bus is wired
// in: it always logs a warning and skips, and startup continues.
func (o *Orchestrator) initBus(ctx context.Context) {
	o.log.Warn("event bus certificates not configured, skipping bus initialization")
}

func (o *Orchestrator) validateServices(ctx context.Context) error {
	registry, err := deception.NewRegistry()
	if err != nil {
		return fmt.Errorf("compile deception asset schema: %w", err)
	}
	o.assets = registry
	o.deployer = deception.NewDeployer(registry, nil)
	o.deployer.SetObservability(o.obs)
	o.teardown = deception.NewTeardownEngine(registry, o.deployer, o.log)

	if err := requireDirExists(o.cfg.DeceptionAssetDir); err != nil {
		o.log.Warn("deception asset directory unavailable, deception subsystem will load zero assets", "error", err)
		return nil
	}
	results, err := registry.LoadDirectory(o.cfg.DeceptionAssetDir, o.verifyKeyForTrustedSigner)
	if err != nil {
		return fmt.Errorf("load deception assets: %w", err)
	}
	for _, r := range results {
		if r.Err != nil {
			o.log.Warn("deception asset failed to load", "file", r.FileName, "error", r.Err)
		}
	}
	return nil
}

// verifyKeyForTrustedSigner adapts the trust store's Ed25519 lookup to
// the hex-string verifying-key callback the deception registry expects,
// so it never needs a compile-time dependency on pkg/identity.
func (o *Orchestrator) verifyKeyForTrustedSigner(signerID string) (string, bool) {
	key, ok := o.trust.Lookup(signerID)
	if !ok || key.Algorithm != identity.AlgorithmEd25519 {
		return "", false
	}
	return hex.EncodeToString(key.Ed25519), true
}

func (o *Orchestrator) healthGate(ctx context.Context) error {
	if o.trust == nil || o.trust.Count() == 0 {
		return fmt.Errorf("trust store is not live")
	}
	if o.policies == nil || o.policies.Count() == 0 {
		return fmt.Errorf("policy loader is not live")
	}
	return nil
}

func (o *Orchestrator) markRunning(ctx context.Context) error {
	if _, err := o.db.ExecContext(ctx,
		`INSERT INTO component_health (component_id, status, checked_at) VALUES ($1,$2,now())`,
		o.componentUUID(ctx), "healthy/running",
	); err != nil {
		return err
	}
	_, err := o.chain.Append(ctx, o.identity.ComponentID, "orchestrator_running", "orchestrator", o.identity.ComponentID, map[string]interface{}{
		"status": "RUNNING",
	})
	return err
}

// Shutdown drives the reverse-order shutdown: services, bus, policy,
// trust. In-flight requests are allowed to complete; no transaction is
// forcibly cancelled.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.transition(StateShuttingDown)
	o.log.Info("shutdown: services")
	o.log.Info("shutdown: bus")
	o.log.Info("shutdown: policy")
	o.log.Info("shutdown: trust")
	if o.obs != nil {
		if err := o.obs.Shutdown(ctx); err != nil {
			o.log.Warn("observability shutdown failed", "error", err)
		}
	}
	if o.db != nil {
		return o.db.Close()
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, step string, cause error) error {
	o.transition(StateFailed)
	o.log.Error("orchestrator startup step failed", "step", step, "error", cause)

	if o.db != nil {
		_, _ = o.db.ExecContext(ctx,
			`INSERT INTO error_events (component_id, error_kind, message, occurred_at) VALUES ($1,$2,$3,now())`,
			o.componentUUID(ctx), "startup_failure", fmt.Sprintf("%s: %v", step, cause),
		)
		if o.chain != nil {
			_, _ = o.chain.Append(ctx, o.identity.ComponentID, "orchestrator_fatal_error", "orchestrator", o.identity.ComponentID, map[string]interface{}{
				"step":  step,
				"error": cause.Error(),
			})
		}
	}
	return fmt.Errorf("orchestrator: %s: %w", step, cause)
}

func (o *Orchestrator) componentUUID(ctx context.Context) string {
	var id string
	_ = o.db.QueryRowContext(ctx,
		`SELECT id FROM components WHERE component_type = $1 AND component_name = $2 AND instance_id = $3`,
		string(o.identity.ComponentType), o.identity.ComponentName, o.identity.InstanceID,
	).Scan(&id)
	return id
}

func (o *Orchestrator) upsertComponent(ctx context.Context) error {
	_, err := o.db.ExecContext(ctx,
		`INSERT INTO components (component_type, component_name, instance_id, build_hash, version, started_at, last_heartbeat_at)
		 VALUES ($1,$2,$3,$4,$5,now(),now())
		 ON CONFLICT (component_type, component_name, instance_id) DO UPDATE SET last_heartbeat_at = now()`,
		string(o.identity.ComponentType), o.identity.ComponentName, o.identity.InstanceID, o.identity.BuildHash, o.identity.Version,
	)
	return err
}
