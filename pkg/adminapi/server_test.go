package adminapi_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ransomeye/core/pkg/adminapi"
	"github.com/ransomeye/core/pkg/artifacts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTeardown struct {
	calledAsset string
	err         error
}

func (f *fakeTeardown) TeardownExplicit(ctx context.Context, assetID, operatorID, reason string) error {
	f.calledAsset = assetID
	return f.err
}

type fakeRetention struct {
	live bool
}

func (f *fakeRetention) SetLiveRun(enabled bool) { f.live = enabled }
func (f *fakeRetention) LiveRun() bool            { return f.live }

type fakeAuditor struct {
	firstSeen, lastSeen int64
	bundle              artifacts.EvidenceBundle
	err                 error
}

func (f *fakeAuditor) ExportRange(ctx context.Context, firstAuditID, lastAuditID int64) (artifacts.EvidenceBundle, error) {
	f.firstSeen, f.lastSeen = firstAuditID, lastAuditID
	return f.bundle, f.err
}

func newTestServer(t *testing.T) (*adminapi.Server, *adminapi.ControlKeySet, *fakeTeardown, *fakeRetention) {
	t.Helper()
	ks, err := adminapi.NewControlKeySet()
	require.NoError(t, err)
	td := &fakeTeardown{}
	rt := &fakeRetention{}
	return adminapi.NewServer(ks, td, rt, nil, nil, nil), ks, td, rt
}

func newTestServerWithForensics(t *testing.T) (*adminapi.Server, *adminapi.ControlKeySet, *fakeAuditor, *artifacts.Exporter) {
	t.Helper()
	ks, err := adminapi.NewControlKeySet()
	require.NoError(t, err)
	dir := t.TempDir()
	store, err := artifacts.NewFileStore(dir)
	require.NoError(t, err)
	archiver := artifacts.NewExporter(store)
	auditor := &fakeAuditor{bundle: artifacts.EvidenceBundle{
		GeneratedAt:  time.Now().UTC(),
		FirstAuditID: "1",
		LastAuditID:  "3",
		RecordCount:  3,
		ChainHeadHex: "deadbeef",
	}}
	return adminapi.NewServer(ks, &fakeTeardown{}, &fakeRetention{}, auditor, archiver, nil), ks, auditor, archiver
}

func TestTeardown_RequiresBearerToken(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/admin/deception/teardown", bytes.NewBufferString(`{"asset_id":"a1"}`))
	rec := httptest.NewRecorder()

	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTeardown_WrongRoleForbidden(t *testing.T) {
	srv, ks, _, _ := newTestServer(t)
	token, err := adminapi.IssueToken(context.Background(), ks, "op-1", adminapi.RoleRetentionAdmin)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/admin/deception/teardown", bytes.NewBufferString(`{"asset_id":"a1"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTeardown_ValidTokenInvokesEngine(t *testing.T) {
	srv, ks, td, _ := newTestServer(t)
	token, err := adminapi.IssueToken(context.Background(), ks, "op-1", adminapi.RoleDeceptionAdmin)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/admin/deception/teardown", bytes.NewBufferString(`{"asset_id":"honeypot-7","reason":"incident review"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "honeypot-7", td.calledAsset)
}

func TestRetentionLiveRun_TogglesViaTrustedToken(t *testing.T) {
	srv, ks, _, rt := newTestServer(t)
	token, err := adminapi.IssueToken(context.Background(), ks, "op-2", adminapi.RoleRetentionAdmin)
	require.NoError(t, err)

	require.False(t, rt.LiveRun())

	req := httptest.NewRequest(http.MethodPost, "/admin/retention/live-run", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, rt.LiveRun())
}

func TestRetentionLiveRun_TokenStillValidAfterOneRotation(t *testing.T) {
	srv, ks, _, _ := newTestServer(t)
	token, err := adminapi.IssueToken(context.Background(), ks, "op-3", adminapi.RoleRetentionAdmin)
	require.NoError(t, err)

	require.NoError(t, ks.Rotate())

	req := httptest.NewRequest(http.MethodGet, "/admin/retention/live-run", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestForensicsExport_ServiceUnavailableWhenUnconfigured(t *testing.T) {
	srv, ks, _, _ := newTestServer(t)
	token, err := adminapi.IssueToken(context.Background(), ks, "op-4", adminapi.RoleForensicsAdmin)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/admin/forensics/export", bytes.NewBufferString(`{"first_audit_id":1,"last_audit_id":3}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestForensicsExport_ValidTokenArchivesBundle(t *testing.T) {
	srv, ks, auditor, _ := newTestServerWithForensics(t)
	token, err := adminapi.IssueToken(context.Background(), ks, "op-5", adminapi.RoleForensicsAdmin)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/admin/forensics/export", bytes.NewBufferString(`{"first_audit_id":1,"last_audit_id":3}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), auditor.firstSeen)
	assert.Equal(t, int64(3), auditor.lastSeen)
	assert.Contains(t, rec.Body.String(), "content_hash")
}

func TestForensicsExport_RejectsInvertedRange(t *testing.T) {
	srv, ks, _, _ := newTestServerWithForensics(t)
	token, err := adminapi.IssueToken(context.Background(), ks, "op-6", adminapi.RoleForensicsAdmin)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/admin/forensics/export", bytes.NewBufferString(`{"first_audit_id":5,"last_audit_id":1}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
