package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablekeep/tenant-integrity-service/internal/model"
	"github.com/tablekeep/tenant-integrity-service/internal/service"
	"github.com/tablekeep/tenant-integrity-service/internal/store"
)

const testSigningKey = "test-signing-key"

func setupAPI(t *testing.T) (*echo.Echo, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	handler := NewHandler(service.NewReconciler(mem), mem)
	e := echo.New()
	handler.Register(e, JWTAuthMiddleware(testSigningKey))
	return e, mem
}

func operatorToken(t *testing.T, email string) string {
	t.Helper()
	claims := OperatorClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	require.NoError(t, err)
	return token
}

func doRequest(t *testing.T, e *echo.Echo, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth_Open(t *testing.T) {
	e, _ := setupAPI(t)
	rec := doRequest(t, e, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_Required(t *testing.T) {
	e, _ := setupAPI(t)

	rec := doRequest(t, e, http.MethodPost, "/v1/provision", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, e, http.MethodPost, "/v1/provision", "not-a-token", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_WrongSigningKey(t *testing.T) {
	e, _ := setupAPI(t)

	claims := jwt.RegisteredClaims{Subject: "ops", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("wrong-key"))
	require.NoError(t, err)

	rec := doRequest(t, e, http.MethodPost, "/v1/provision", forged, `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProvision_Created(t *testing.T) {
	e, mem := setupAPI(t)
	token := operatorToken(t, "ops@example.com")

	rec := doRequest(t, e, http.MethodPost, "/v1/provision", token,
		`{"name":"Nature Village","slug":"nature-village","owner_email":"nv@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var result service.ProvisionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	// The authenticated operator is recorded as the audit actor.
	audits, err := mem.AuditLog().List(context.Background(), "tenants", 1)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, "ops@example.com", audits[0].Actor)
}

func TestProvision_Errors(t *testing.T) {
	e, _ := setupAPI(t)
	token := operatorToken(t, "ops@example.com")

	// Invalid body.
	rec := doRequest(t, e, http.MethodPost, "/v1/provision", token,
		`{"name":"","slug":"x","owner_email":"bad"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Slug conflict.
	rec = doRequest(t, e, http.MethodPost, "/v1/provision", token,
		`{"name":"A","slug":"dup","owner_email":"a@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doRequest(t, e, http.MethodPost, "/v1/provision", token,
		`{"name":"B","slug":"dup","owner_email":"b@example.com"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Owner already bound.
	rec = doRequest(t, e, http.MethodPost, "/v1/provision", token,
		`{"name":"C","slug":"other","owner_email":"a@example.com"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSweepAndInvariants(t *testing.T) {
	e, mem := setupAPI(t)
	token := operatorToken(t, "ops@example.com")

	rec := doRequest(t, e, http.MethodPost, "/v1/provision", token,
		`{"name":"Nature Village","slug":"nature-village","owner_email":"nv@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var result service.ProvisionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	mem.SetOwner(result.TenantID, nil)

	rec = doRequest(t, e, http.MethodGet, "/v1/invariants", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var invariants struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &invariants))
	assert.Equal(t, 1, invariants.Count)

	rec = doRequest(t, e, http.MethodPost, "/v1/sweep", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report service.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Len(t, report.OwnerBackfills, 1)

	rec = doRequest(t, e, http.MethodGet, "/v1/invariants", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &invariants))
	assert.Equal(t, 0, invariants.Count)
}

func TestSweep_Conflict(t *testing.T) {
	e, mem := setupAPI(t)
	token := operatorToken(t, "ops@example.com")

	release, ok, err := mem.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	rec := doRequest(t, e, http.MethodPost, "/v1/sweep", token, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRoles_GrantAndRevoke(t *testing.T) {
	e, mem := setupAPI(t)
	token := operatorToken(t, "ops@example.com")

	identity, err := mem.Identities().Create(context.Background(), "admin@example.com")
	require.NoError(t, err)

	rec := doRequest(t, e, http.MethodPost, "/v1/roles/grant", token,
		`{"identity_id":"`+identity.ID.String()+`","role":"`+model.RoleAdministrator+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	has, err := mem.Roles().HasRole(context.Background(), identity.ID, model.RoleAdministrator)
	require.NoError(t, err)
	assert.True(t, has)

	rec = doRequest(t, e, http.MethodPost, "/v1/roles/revoke", token,
		`{"identity_id":"`+identity.ID.String()+`","role":"`+model.RoleAdministrator+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// Revoking a role never granted is not found.
	rec = doRequest(t, e, http.MethodPost, "/v1/roles/revoke", token,
		`{"identity_id":"`+identity.ID.String()+`","role":"`+model.RoleStaff+`"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Unknown roles and malformed ids are rejected up front.
	rec = doRequest(t, e, http.MethodPost, "/v1/roles/grant", token,
		`{"identity_id":"`+identity.ID.String()+`","role":"superuser"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doRequest(t, e, http.MethodPost, "/v1/roles/grant", token,
		`{"identity_id":"not-a-uuid","role":"`+model.RoleStaff+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditTrail(t *testing.T) {
	e, _ := setupAPI(t)
	token := operatorToken(t, "ops@example.com")

	rec := doRequest(t, e, http.MethodPost, "/v1/provision", token,
		`{"name":"Nature Village","slug":"nature-village","owner_email":"nv@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, e, http.MethodGet, "/v1/audit?table=tenants", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Records []json.RawMessage `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Records)

	rec = doRequest(t, e, http.MethodGet, "/v1/audit", token, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, e, http.MethodGet, "/v1/audit?table=tenants&limit=zero", token, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
