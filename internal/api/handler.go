package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/tablekeep/tenant-integrity-service/internal/model"
	"github.com/tablekeep/tenant-integrity-service/internal/service"
	"github.com/tablekeep/tenant-integrity-service/internal/store"
)

// Handler serves the operator console's administrative commands.
type Handler struct {
	reconciler *service.Reconciler
	roles      store.AccessRoleStore
	auditLog   store.AuditLog
}

// NewHandler creates the admin API handler.
func NewHandler(reconciler *service.Reconciler, backend store.Backend) *Handler {
	return &Handler{
		reconciler: reconciler,
		roles:      backend.Roles(),
		auditLog:   backend.AuditLog(),
	}
}

// Register mounts the routes. The auth middleware guards everything under
// /v1; health stays open for probes.
func (h *Handler) Register(e *echo.Echo, auth echo.MiddlewareFunc) {
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	v1 := e.Group("/v1", auth)
	v1.POST("/provision", h.Provision)
	v1.POST("/sweep", h.Sweep)
	v1.GET("/invariants", h.Invariants)
	v1.POST("/roles/grant", h.GrantRole)
	v1.POST("/roles/revoke", h.RevokeRole)
	v1.GET("/audit", h.AuditTrail)
}

// Provision handles POST /v1/provision.
func (h *Handler) Provision(c echo.Context) error {
	var req service.ProvisionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request body"})
	}

	result, err := h.reconciler.Provision(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, result)
}

// Sweep handles POST /v1/sweep.
func (h *Handler) Sweep(c echo.Context) error {
	report, err := h.reconciler.RepairSweep(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// Invariants handles GET /v1/invariants.
func (h *Handler) Invariants(c echo.Context) error {
	violations, err := h.reconciler.VerifyInvariants(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"violations": violations,
		"count":      len(violations),
	})
}

type roleRequest struct {
	IdentityID string `json:"identity_id"`
	Role       string `json:"role"`
}

// GrantRole handles POST /v1/roles/grant.
func (h *Handler) GrantRole(c echo.Context) error {
	identityID, role, err := parseRoleRequest(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if err := h.roles.Grant(c.Request().Context(), identityID, role); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "granted"})
}

// RevokeRole handles POST /v1/roles/revoke.
func (h *Handler) RevokeRole(c echo.Context) error {
	identityID, role, err := parseRoleRequest(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if err := h.roles.Revoke(c.Request().Context(), identityID, role); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "revoked"})
}

// AuditTrail handles GET /v1/audit?table=tenants&limit=50.
func (h *Handler) AuditTrail(c echo.Context) error {
	table := c.QueryParam("table")
	if table == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "table is required"})
	}
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		}
		limit = parsed
	}
	records, err := h.auditLog.List(c.Request().Context(), table, limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"records": records})
}

func parseRoleRequest(c echo.Context) (uuid.UUID, string, error) {
	var req roleRequest
	if err := c.Bind(&req); err != nil {
		return uuid.Nil, "", errors.New("malformed request body")
	}
	identityID, err := uuid.Parse(req.IdentityID)
	if err != nil {
		return uuid.Nil, "", errors.New("invalid identity_id")
	}
	switch req.Role {
	case model.RoleAdministrator, model.RoleOwner, model.RoleStaff:
	default:
		return uuid.Nil, "", errors.Errorf("unknown role %q", req.Role)
	}
	return identityID, req.Role, nil
}

func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, service.ErrOwnerAlreadyBound),
		errors.Is(err, service.ErrSweepRunning):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrIdentityCreateFailed):
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		log.Error().Err(err).Msg("Internal server error")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}
