package deception

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// TeardownStatus is a teardown run's position in its own state machine:
// Pending -> Running -> (Completed | Failed | SafeHalt).
type TeardownStatus string

const (
	TeardownPending   TeardownStatus = "Pending"
	TeardownRunning   TeardownStatus = "Running"
	TeardownCompleted TeardownStatus = "Completed"
	TeardownFailed    TeardownStatus = "Failed"
	TeardownSafeHalt  TeardownStatus = "SafeHalt"
)

// TeardownEngine executes the teardown procedure for deployed assets
// under explicit, automatic, and emergency triggers. It satisfies the
// admin control surface's TeardownEngine interface via TeardownExplicit.
type TeardownEngine struct {
	registry *Registry
	deployer *Deployer
	log      *slog.Logger
	safeHalt atomic.Bool
}

// NewTeardownEngine builds a teardown engine over registry and deployer.
func NewTeardownEngine(registry *Registry, deployer *Deployer, log *slog.Logger) *TeardownEngine {
	if log == nil {
		log = slog.Default()
	}
	return &TeardownEngine{registry: registry, deployer: deployer, log: log}
}

// InSafeHalt reports whether a prior emergency teardown failure has
// tripped the subsystem into SafeHalt. Once tripped, explicit and
// automatic teardown refuse to run until ResetSafeHalt is called;
// TeardownEmergency does not check the flag.
func (e *TeardownEngine) InSafeHalt() bool {
	return e.safeHalt.Load()
}

// ResetSafeHalt clears the SafeHalt flag. Callers are expected to only
// do this after an operator has confirmed the underlying failure is
// resolved.
func (e *TeardownEngine) ResetSafeHalt() {
	e.safeHalt.Store(false)
}

// TeardownExplicit tears a single asset down on an operator or API
// request. It satisfies adminapi.TeardownEngine.
func (e *TeardownEngine) TeardownExplicit(ctx context.Context, assetID, operatorID, reason string) error {
	if e.InSafeHalt() {
		return fmt.Errorf("deception: teardown engine is in SafeHalt, refusing explicit teardown of %q", assetID)
	}
	e.log.Info("explicit teardown requested", "asset_id", assetID, "operator_id", operatorID, "reason", reason)
	return e.teardownOne(ctx, assetID)
}

// TeardownAutomatic scans every tracked deployment and tears down any
// whose expires_at has passed, transitioning it to Expired first.
func (e *TeardownEngine) TeardownAutomatic(ctx context.Context) error {
	if e.InSafeHalt() {
		return fmt.Errorf("deception: teardown engine is in SafeHalt, refusing automatic sweep")
	}
	now := time.Now().UTC()
	for _, dep := range e.deployer.All() {
		if dep.Status != DeploymentActive || now.Before(dep.ExpiresAt) {
			continue
		}
		dep.Status = DeploymentExpired
		e.deployer.setDeployment(dep.AssetID, dep)
		if err := e.teardownOne(ctx, dep.AssetID); err != nil {
			return fmt.Errorf("deception: automatic teardown of %q: %w", dep.AssetID, err)
		}
	}
	return nil
}

// TeardownEmergency tears every asset in assetIDs down. A single
// failure trips SafeHalt and aborts the remaining work — an
// emergency teardown that only half-completes is worse than one that
// stops and surfaces the problem loudly.
func (e *TeardownEngine) TeardownEmergency(ctx context.Context, assetIDs []string) error {
	for _, assetID := range assetIDs {
		if err := e.teardownOne(ctx, assetID); err != nil {
			e.safeHalt.Store(true)
			e.log.Error("emergency teardown failed, entering SafeHalt", "asset_id", assetID, "error", err)
			return fmt.Errorf("deception: emergency teardown of %q failed, SafeHalt engaged: %w", assetID, err)
		}
	}
	return nil
}

func (e *TeardownEngine) teardownOne(ctx context.Context, assetID string) error {
	asset, ok := e.registry.Get(assetID)
	if !ok {
		return fmt.Errorf("unknown asset %q", assetID)
	}
	deployment, ok := e.deployer.Get(assetID)
	if !ok {
		return fmt.Errorf("asset %q has no tracked deployment", assetID)
	}

	deployment.Status = DeploymentTeardownInProgress
	e.deployer.setDeployment(assetID, deployment)

	for _, step := range asset.TeardownSteps {
		if err := e.runStep(ctx, asset, deployment, step); err != nil {
			deployment.Status = DeploymentFailed
			e.deployer.setDeployment(assetID, deployment)
			return fmt.Errorf("teardown step %q failed: %w", step, err)
		}
	}

	deployment.Status = DeploymentTeardownComplete
	e.deployer.setDeployment(assetID, deployment)
	return nil
}

func (e *TeardownEngine) runStep(ctx context.Context, asset Asset, deployment Deployment, step TeardownStep) error {
	deployer, ok := e.deployer.typeDeploys[asset.AssetType]
	if !ok {
		return fmt.Errorf("no type deployer registered for %q", asset.AssetType)
	}
	switch step {
	case StepStopService, StepRemoveListener, StepDeleteFile, StepRemoveCredential:
		return deployer.Teardown(ctx, asset, deployment)
	default:
		return fmt.Errorf("unrecognized teardown step %q", step)
	}
}
