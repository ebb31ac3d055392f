package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Semantic attribute keys shared across the ingest, audit chain, and
// deception subsystems' spans and metrics.
var (
	AttrComponentID   = attribute.Key("ransomeye.component.id")
	AttrSignerID      = attribute.Key("ransomeye.signer.id")
	AttrEventKind     = attribute.Key("ransomeye.event.kind")
	AttrEventID       = attribute.Key("ransomeye.event.id")

	AttrAuditAction   = attribute.Key("ransomeye.audit.action")
	AttrAuditObjectID = attribute.Key("ransomeye.audit.object_id")

	AttrRetentionTable = attribute.Key("ransomeye.retention.table")
	AttrRetentionDryRun = attribute.Key("ransomeye.retention.dry_run")

	AttrDeceptionAssetID   = attribute.Key("ransomeye.deception.asset_id")
	AttrDeceptionAssetType = attribute.Key("ransomeye.deception.asset_type")

	AttrOrchestratorState = attribute.Key("ransomeye.orchestrator.state")
)

// IngestAttributes builds the attribute set recorded for one ingest
// request span.
func IngestAttributes(componentID, signerID, kind, eventID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrComponentID.String(componentID),
		AttrSignerID.String(signerID),
		AttrEventKind.String(kind),
		AttrEventID.String(eventID),
	}
}

// AuditAttributes builds the attribute set recorded for one audit
// chain append span.
func AuditAttributes(actorComponentID, action, objectID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrComponentID.String(actorComponentID),
		AttrAuditAction.String(action),
		AttrAuditObjectID.String(objectID),
	}
}

// RetentionAttributes builds the attribute set recorded for one
// retention batch span.
func RetentionAttributes(table string, dryRun bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRetentionTable.String(table),
		AttrRetentionDryRun.Bool(dryRun),
	}
}

// DeceptionAttributes builds the attribute set recorded for deployer
// and teardown spans.
func DeceptionAttributes(assetID, assetType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrDeceptionAssetID.String(assetID),
		AttrDeceptionAssetType.String(assetType),
	}
}

// OrchestratorAttributes builds the attribute set recorded for
// lifecycle transition spans.
func OrchestratorAttributes(state string) []attribute.KeyValue {
	return []attribute.KeyValue{AttrOrchestratorState.String(state)}
}

// SpanFromContext extracts the active span from ctx.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds a named event to the active span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the active span, if any.
func SetSpanStatus(ctx context.Context, err error) {
	if err == nil {
		return
	}
	trace.SpanFromContext(ctx).RecordError(err)
}
