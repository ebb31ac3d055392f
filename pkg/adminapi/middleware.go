package adminapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OperatorClaims identifies the operator principal a control-surface
// bearer token was issued to.
type OperatorClaims struct {
	jwt.RegisteredClaims
	OperatorID string `json:"operator_id"`
	Role       string `json:"role"`
}

// RoleRetentionAdmin authorizes switching the retention enforcer from
// dry-run to live execution. RoleDeceptionAdmin authorizes explicit
// deception asset teardown.
// RoleForensicsAdmin authorizes exporting an audit log range as an
// evidence bundle for off-host archival.
const (
	RoleRetentionAdmin = "retention_admin"
	RoleDeceptionAdmin = "deception_admin"
	RoleForensicsAdmin = "forensics_admin"
	bearerPrefix       = "Bearer "
	defaultTokenTTL    = 15 * time.Minute
)

// IssueToken mints a bearer token for an operator with the given role,
// valid for 15 minutes.
func IssueToken(ctx context.Context, ks KeySet, operatorID, role string) (string, error) {
	claims := &OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(defaultTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		OperatorID: operatorID,
		Role:       role,
	}
	return ks.Sign(ctx, claims)
}

// RequireRole returns HTTP middleware that rejects requests lacking a
// valid bearer token carrying the given role. Authorization is
// fail-closed: any parse error, expired token, or role mismatch yields
// 401/403, never a silent pass-through.
func RequireRole(ks KeySet, role string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, bearerPrefix) {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		raw := strings.TrimPrefix(auth, bearerPrefix)

		claims := &OperatorClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			return ks.KeyFunc()(t)
		})
		if err != nil || !token.Valid {
			http.Error(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}
		if claims.Role != role {
			http.Error(w, "forbidden: wrong role", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ErrUnauthorized is returned by non-HTTP control-surface callers
// (e.g. CLI) performing the same role check out of band.
var ErrUnauthorized = errors.New("adminapi: unauthorized")
