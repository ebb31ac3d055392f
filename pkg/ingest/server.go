// Package ingest implements the signed-event ingestion endpoint (C3):
// POST /ingest/linux and POST /ingest/dpi, each verifying the signed
// envelope against the trust store and persisting a raw_events row
// plus a kind-specific typed telemetry row in a single transaction.
package ingest

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/ransomeye/core/pkg/canonicalize"
	"github.com/ransomeye/core/pkg/crypto"
	"github.com/ransomeye/core/pkg/envelope"
	"github.com/ransomeye/core/pkg/identity"
	"github.com/ransomeye/core/pkg/observability"
)

// Kind identifies which typed telemetry table an ingested event lands in.
type Kind string

const (
	KindLinux Kind = "linux"
	KindDPI   Kind = "dpi"
)

// Server serves the two signed-ingest routes over a dedicated listener,
// separate from the operator control surface.
type Server struct {
	db    *sql.DB
	trust *identity.TrustStore
	log   *slog.Logger
	obs   *observability.Provider
}

// NewServer builds an ingest server bound to db for persistence and
// trust for signature verification. obs may be nil, in which case a
// disabled provider is substituted so spans/counters are always safe
// to call.
func NewServer(db *sql.DB, trust *identity.TrustStore, log *slog.Logger, obs *observability.Provider) *Server {
	if log == nil {
		log = slog.Default()
	}
	if obs == nil {
		obs, _ = observability.New(context.Background(), &observability.Config{Enabled: false})
	}
	return &Server{db: db, trust: trust, log: log, obs: obs}
}

// Routes returns the ingest mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest/linux", s.handleIngest(KindLinux))
	mux.HandleFunc("POST /ingest/dpi", s.handleIngest(KindDPI))
	return mux
}

type ingestResponse struct {
	Status    string `json:"status"`
	MessageID int64  `json:"message_id,omitempty"`
}

func (s *Server) handleIngest(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, done := s.obs.TrackOperation(r.Context(), "ingest."+string(kind))
		var finalErr error
		defer func() { done(finalErr) }()

		var evt envelope.SignedEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			finalErr = err
			writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}

		if err := envelope.ValidateSignedEvent(evt); err != nil {
			finalErr = err
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		observability.AddSpanEvent(ctx, "ingest.envelope_validated",
			observability.IngestAttributes(evt.Envelope.ComponentID, evt.SignerID, string(kind), evt.Envelope.EventID)...)

		if err := s.verifySignature(evt); err != nil {
			s.log.Warn("ingest signature verification failed", "signer_id", evt.SignerID, "kind", kind, "error", err)
			finalErr = err
			writeError(w, http.StatusBadRequest, "signature verification failed")
			return
		}

		messageID, err := s.persist(ctx, kind, evt)
		if err != nil {
			s.log.Error("ingest persistence failed", "signer_id", evt.SignerID, "kind", kind, "error", err)
			finalErr = err
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ingestResponse{Status: "ok", MessageID: messageID})
	}
}

// verifySignature recomputes the canonical envelope hash rather than
// trusting evt.PayloadHash, then checks the recomputed hash's
// signature against the signer's registered verifying key.
func (s *Server) verifySignature(evt envelope.SignedEvent) error {
	_, recomputedHashHex, err := canonicalize.EnvelopeHash(evt.Envelope)
	if err != nil {
		return fmt.Errorf("recompute envelope hash: %w", err)
	}
	if recomputedHashHex != evt.PayloadHash {
		return fmt.Errorf("payload_hash mismatch: claimed %s, recomputed %s", evt.PayloadHash, recomputedHashHex)
	}

	key, ok := s.trust.Lookup(evt.SignerID)
	if !ok {
		return fmt.Errorf("unknown signer_id %q", evt.SignerID)
	}

	hashBytes, err := hex.DecodeString(recomputedHashHex)
	if err != nil {
		return fmt.Errorf("decode recomputed hash: %w", err)
	}

	switch key.Algorithm {
	case identity.AlgorithmEd25519:
		ok, err := crypto.VerifySequenced(key.Ed25519, evt.Sequence, hashBytes, evt.Signature)
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		if !ok {
			return fmt.Errorf("signature does not verify")
		}
		return nil
	default:
		return fmt.Errorf("signer %q uses unsupported algorithm %q for event signing", evt.SignerID, key.Algorithm)
	}
}

func (s *Server) persist(ctx context.Context, kind Kind, evt envelope.SignedEvent) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	agentID, err := resolveAgent(ctx, tx, evt.Envelope.ComponentID, string(kind))
	if err != nil {
		return 0, fmt.Errorf("resolve agent: %w", err)
	}

	envelopeJSON, err := json.Marshal(evt.Envelope)
	if err != nil {
		return 0, fmt.Errorf("marshal envelope: %w", err)
	}

	var rawEventID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO raw_events (message_id, signer_id, ingest_kind, received_at, envelope_json, payload_hash)
		 VALUES ($1,$2,$3,now(),$4,$5) RETURNING id`,
		evt.Envelope.EventID, evt.SignerID, string(kind), envelopeJSON, evt.PayloadHash,
	).Scan(&rawEventID)
	if err != nil {
		return 0, fmt.Errorf("insert raw_events: %w", err)
	}

	nonce, err := identity.RandomNonceHex()
	if err != nil {
		return 0, fmt.Errorf("generate nonce: %w", err)
	}

	key, ok := s.trust.Lookup(evt.SignerID)
	if !ok {
		return 0, fmt.Errorf("signer %q vanished from trust store between verification and persistence", evt.SignerID)
	}

	if err := s.insertTypedTelemetry(ctx, tx, kind, rawEventID, agentID, nonce, string(key.Algorithm), evt); err != nil {
		return 0, fmt.Errorf("insert typed telemetry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return rawEventID, nil
}

// resolveAgent looks up (host, kind) in the agents registry, inserting
// a fresh row on first contact and always touching last_seen_at.
func resolveAgent(ctx context.Context, tx *sql.Tx, host, kind string) (string, error) {
	var agentID string
	err := tx.QueryRowContext(ctx,
		`UPDATE agents SET last_seen_at = now() WHERE host = $1 AND kind = $2 RETURNING id`,
		host, kind,
	).Scan(&agentID)
	if err == sql.ErrNoRows {
		err = tx.QueryRowContext(ctx,
			`INSERT INTO agents (host, kind, is_active, last_seen_at) VALUES ($1,$2,TRUE,now()) RETURNING id`,
			host, kind,
		).Scan(&agentID)
	}
	if err != nil {
		return "", err
	}
	return agentID, nil
}

// bindINET parses raw as an IP address and re-stringifies it so the
// driver never sees a malformed value; an unparseable address binds
// NULL rather than failing the whole request.
func bindINET(raw string) interface{} {
	if raw == "" {
		return nil
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return nil
	}
	return ip.String()
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": message})
}

