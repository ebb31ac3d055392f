// Package identity implements the component identity and trust store
// (C2): the stable identifier a running component presents as
// signer_id/actor_component_id, and the directory of verifying keys used
// to check signatures produced elsewhere in the fabric.
package identity

// ComponentKind enumerates the broad category a component identity
// belongs to; it is informational and does not gate trust decisions.
type ComponentKind string

const (
	KindOrchestrator ComponentKind = "master_core"
	KindSensor       ComponentKind = "edge_sensor"
	KindIngest       ComponentKind = "ingest_service"
	KindDeception    ComponentKind = "deception_subsystem"
)

// Identity is the stable identity anchor a component loads at startup.
// ComponentID is what other components reference as signer_id or
// actor_component_id.
type Identity struct {
	ComponentID   string        `json:"component_id"`
	ComponentType ComponentKind `json:"component_type"`
	ComponentName string        `json:"component_name"`
	InstanceID    string        `json:"instance_id"`
	BuildHash     string        `json:"build_hash"`
	Version       string        `json:"version"`
}
