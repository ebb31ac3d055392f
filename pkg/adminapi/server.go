package adminapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ransomeye/core/pkg/artifacts"
)

// TeardownEngine is the subset of the deception subsystem's teardown
// engine the control surface drives. Defined here rather than imported
// so this package has no compile-time dependency on pkg/deception;
// the orchestrator wires the concrete implementation in at startup.
type TeardownEngine interface {
	TeardownExplicit(ctx context.Context, assetID, operatorID, reason string) error
}

// RetentionEnforcer is the subset of the retention subsystem the
// control surface drives: the switch from dry-run to live execution.
type RetentionEnforcer interface {
	SetLiveRun(enabled bool)
	LiveRun() bool
}

// AuditExporter is the subset of the audit chain the control surface
// drives for forensics export: assembling an evidence bundle from a
// closed range of audit_id values.
type AuditExporter interface {
	ExportRange(ctx context.Context, firstAuditID, lastAuditID int64) (artifacts.EvidenceBundle, error)
}

type teardownRequest struct {
	AssetID string `json:"asset_id"`
	Reason  string `json:"reason"`
}

type teardownResponse struct {
	AssetID string `json:"asset_id"`
	Status  string `json:"status"`
}

// Server exposes the operator control surface: explicit deception
// asset teardown and the retention live-run trigger. Ingestion (C3)
// never touches this server — it runs on a separate listener
// (cmd/ransomeyectl binds it to :8444, ingest to :8443).
type Server struct {
	keys      KeySet
	teardown  TeardownEngine
	retention RetentionEnforcer
	auditor   AuditExporter
	archiver  *artifacts.Exporter
	log       *slog.Logger
}

// NewServer wires a control surface over the given key set and
// subsystem handles. auditor/archiver may be nil, in which case the
// forensics export route always fails closed with a 503 rather than
// panicking.
func NewServer(keys KeySet, teardown TeardownEngine, retention RetentionEnforcer, auditor AuditExporter, archiver *artifacts.Exporter, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{keys: keys, teardown: teardown, retention: retention, auditor: auditor, archiver: archiver, log: log}
}

// Routes returns the mux for the control surface, with role-gated
// middleware applied per route. /admin/health is unauthenticated and
// answers 200 for `ransomeyectl health`.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/admin/deception/teardown", RequireRole(s.keys, RoleDeceptionAdmin, http.HandlerFunc(s.handleTeardown)))
	mux.Handle("/admin/retention/live-run", RequireRole(s.keys, RoleRetentionAdmin, http.HandlerFunc(s.handleRetentionLiveRun)))
	mux.Handle("/admin/forensics/export", RequireRole(s.keys, RoleForensicsAdmin, http.HandlerFunc(s.handleForensicsExport)))
	return mux
}

func (s *Server) handleTeardown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req teardownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.AssetID == "" {
		http.Error(w, "asset_id is required", http.StatusBadRequest)
		return
	}

	operatorID := operatorFromRequest(r)
	if err := s.teardown.TeardownExplicit(r.Context(), req.AssetID, operatorID, req.Reason); err != nil {
		s.log.Error("explicit teardown failed", "asset_id", req.AssetID, "operator_id", operatorID, "error", err)
		http.Error(w, "teardown failed", http.StatusInternalServerError)
		return
	}

	s.log.Info("explicit teardown executed", "asset_id", req.AssetID, "operator_id", operatorID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(teardownResponse{AssetID: req.AssetID, Status: "torn_down"})
}

func (s *Server) handleRetentionLiveRun(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"live_run": s.retention.LiveRun()})
	case http.MethodPost:
		s.retention.SetLiveRun(true)
		s.log.Warn("retention enforcer switched to live run", "operator_id", operatorFromRequest(r))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"live_run": true})
	case http.MethodDelete:
		s.retention.SetLiveRun(false)
		s.log.Info("retention enforcer switched back to dry run", "operator_id", operatorFromRequest(r))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"live_run": false})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type forensicsExportRequest struct {
	FirstAuditID int64 `json:"first_audit_id"`
	LastAuditID  int64 `json:"last_audit_id"`
}

type forensicsExportResponse struct {
	ContentHash string `json:"content_hash"`
	RecordCount int    `json:"record_count"`
}

func (s *Server) handleForensicsExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.auditor == nil || s.archiver == nil {
		http.Error(w, "forensics export is not configured on this instance", http.StatusServiceUnavailable)
		return
	}

	var req forensicsExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.FirstAuditID <= 0 || req.LastAuditID < req.FirstAuditID {
		http.Error(w, "first_audit_id and last_audit_id must describe a non-empty range", http.StatusBadRequest)
		return
	}

	operatorID := operatorFromRequest(r)
	bundle, err := s.auditor.ExportRange(r.Context(), req.FirstAuditID, req.LastAuditID)
	if err != nil {
		s.log.Error("forensics export range failed", "operator_id", operatorID, "error", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}

	contentHash, err := s.archiver.ExportEvidenceBundle(r.Context(), bundle)
	if err != nil {
		s.log.Error("forensics export archival failed", "operator_id", operatorID, "error", err)
		http.Error(w, "archival failed", http.StatusInternalServerError)
		return
	}

	s.log.Info("forensics evidence bundle exported", "operator_id", operatorID,
		"first_audit_id", req.FirstAuditID, "last_audit_id", req.LastAuditID, "content_hash", contentHash)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(forensicsExportResponse{ContentHash: contentHash, RecordCount: bundle.RecordCount})
}

// operatorFromRequest reads the operator_id claim out of the bearer
// token already validated by RequireRole. It does not re-verify the
// signature — that already happened in the middleware — it only
// decodes the claims for the audit log line.
func operatorFromRequest(r *http.Request) string {
	raw := bearerToken(r)
	if raw == "" {
		return "unknown"
	}
	claims := &OperatorClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return "unknown"
	}
	return claims.OperatorID
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > len(bearerPrefix) {
		return h[len(bearerPrefix):]
	}
	return ""
}
