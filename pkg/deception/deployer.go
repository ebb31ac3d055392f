package deception

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ransomeye/core/pkg/observability"
)

// DeploymentStatus is a deployment's position in its state machine:
// Pending -> Active -> (Expired | TeardownInProgress) -> TeardownComplete | Failed.
type DeploymentStatus string

const (
	DeploymentPending            DeploymentStatus = "Pending"
	DeploymentActive             DeploymentStatus = "Active"
	DeploymentExpired            DeploymentStatus = "Expired"
	DeploymentTeardownInProgress DeploymentStatus = "TeardownInProgress"
	DeploymentTeardownComplete   DeploymentStatus = "TeardownComplete"
	DeploymentFailed             DeploymentStatus = "Failed"
)

// Deployment is one live (or formerly live) instance of a deployed asset.
type Deployment struct {
	AssetID    string
	DeployedAt time.Time
	ExpiresAt  time.Time
	Status     DeploymentStatus
	Metadata   map[string]interface{}
}

// ProductionOverlapChecker tells the deployer whether a candidate
// deployment (by its metadata, e.g. a port or address) would collide
// with a real production asset. Defined here rather than imported so
// the deployer never has a compile-time dependency on whatever
// inventory system answers this question in a given environment.
type ProductionOverlapChecker interface {
	Overlaps(ctx context.Context, asset Asset) (bool, error)
}

// conservativeOverlapChecker refuses every deployment unless a real
// checker is wired in — the safe default when no inventory source is
// configured is to assume overlap rather than risk colliding with
// production.
type conservativeOverlapChecker struct{}

func (conservativeOverlapChecker) Overlaps(ctx context.Context, asset Asset) (bool, error) {
	return true, nil
}

// typeDeployer performs the type-specific half of a deployment: the
// side effect of actually advertising presence, binding a decoy port,
// dropping a fake credential, or placing a fake file. Concrete
// implementations live outside this package; a no-op stand-in is
// registered for each allowed type until then.
type typeDeployer interface {
	Deploy(ctx context.Context, asset Asset) (map[string]interface{}, error)
	Teardown(ctx context.Context, asset Asset, deployment Deployment) error
}

// Deployer deploys and idempotently re-returns deception assets. It
// never touches real production ports, addresses, or traffic — every
// type-specific deployer it dispatches to is constrained to synthetic
// decoy surfaces only.
type Deployer struct {
	mu          sync.Mutex
	registry    *Registry
	overlap     ProductionOverlapChecker
	typeDeploys map[AssetType]typeDeployer
	deployments map[string]Deployment
	obs         *observability.Provider
}

// SetObservability wires a tracer/metrics provider; a nil provider
// (the default) leaves Deploy's deployment counter inert.
func (d *Deployer) SetObservability(obs *observability.Provider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.obs = obs
}

// NewDeployer builds a Deployer over registry. overlap may be nil, in
// which case every deployment is conservatively refused.
func NewDeployer(registry *Registry, overlap ProductionOverlapChecker) *Deployer {
	if overlap == nil {
		overlap = conservativeOverlapChecker{}
	}
	return &Deployer{
		registry:    registry,
		overlap:     overlap,
		typeDeploys: defaultTypeDeployers(),
		deployments: make(map[string]Deployment),
	}
}

// Deploy deploys assetID, or returns the existing deployment if one is
// already Active — deployment is idempotent by design.
func (d *Deployer) Deploy(ctx context.Context, assetID string) (Deployment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.deployments[assetID]; ok && existing.Status == DeploymentActive {
		return existing, nil
	}

	asset, ok := d.registry.Get(assetID)
	if !ok {
		return Deployment{}, fmt.Errorf("deception: unknown asset %q", assetID)
	}
	if !allowedTypes[asset.AssetType] {
		return Deployment{}, fmt.Errorf("deception: asset type %q is not deployable", asset.AssetType)
	}

	overlaps, err := d.overlap.Overlaps(ctx, asset)
	if err != nil {
		return Deployment{}, fmt.Errorf("deception: overlap check: %w", err)
	}
	if overlaps {
		return Deployment{}, fmt.Errorf("deception: asset %q overlaps a production surface, refusing to deploy", assetID)
	}

	deployer, ok := d.typeDeploys[asset.AssetType]
	if !ok {
		return Deployment{}, fmt.Errorf("deception: no type deployer registered for %q", asset.AssetType)
	}

	metadata, err := deployer.Deploy(ctx, asset)
	if err != nil {
		return Deployment{}, fmt.Errorf("deception: deploy %q: %w", assetID, err)
	}

	now := time.Now().UTC()
	deployment := Deployment{
		AssetID:    assetID,
		DeployedAt: now,
		ExpiresAt:  now.Add(time.Duration(asset.MaxLifetimeSecs) * time.Second),
		Status:     DeploymentActive,
		Metadata:   metadata,
	}
	d.deployments[assetID] = deployment
	if d.obs != nil {
		d.obs.RecordDeceptionDeployment(ctx, observability.DeceptionAttributes(assetID, string(asset.AssetType))...)
	}
	return deployment, nil
}

// Get returns the current deployment for assetID, if any.
func (d *Deployer) Get(assetID string) (Deployment, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dep, ok := d.deployments[assetID]
	return dep, ok
}

// All returns every tracked deployment.
func (d *Deployer) All() []Deployment {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Deployment, 0, len(d.deployments))
	for _, dep := range d.deployments {
		out = append(out, dep)
	}
	return out
}

// setDeployment is used by the teardown engine to transition a
// deployment's status after it runs the asset's teardown procedure.
func (d *Deployer) setDeployment(assetID string, dep Deployment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deployments[assetID] = dep
}
