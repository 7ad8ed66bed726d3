// Package handler exposes the approval service over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/veloprocure/be-proc-approvals/internal/apperrors"
	"github.com/veloprocure/be-proc-approvals/internal/repository"
	"github.com/veloprocure/be-proc-approvals/internal/service"
)

// WorkflowAPI is the engine surface the handler needs.
type WorkflowAPI interface {
	Initiate(ctx context.Context, wctx *service.WorkflowContext) ([]service.ApprovalStep, error)
	ProcessAction(ctx context.Context, approvalID string, action service.Action, approverID string, comments *string) (*service.ActionResult, error)
	Status(ctx context.Context, entityID string, entityType repository.EntityType) (*service.WorkflowStatus, error)
	PendingForUser(ctx context.Context, userID string) ([]*repository.Approval, error)
	AuditTrail(ctx context.Context, entityID string, entityType repository.EntityType) ([]*repository.AuditEntry, error)
}

// HierarchyAPI is the configuration surface the handler needs.
type HierarchyAPI interface {
	List(ctx context.Context, entityType repository.EntityType) ([]*repository.ApprovalHierarchy, error)
	Get(ctx context.Context, id string) (*repository.ApprovalHierarchy, []*repository.ApprovalLevel, error)
	Create(ctx context.Context, h *repository.ApprovalHierarchy) error
	Update(ctx context.Context, h *repository.ApprovalHierarchy) error
	Delete(ctx context.Context, id string) error
	AddLevel(ctx context.Context, l *repository.ApprovalLevel) error
	UpdateLevel(ctx context.Context, l *repository.ApprovalLevel) error
	DeleteLevel(ctx context.Context, id string) error
}

// HTTPHandler handles HTTP requests.
type HTTPHandler struct {
	workflows   WorkflowAPI
	hierarchies HierarchyAPI
	log         zerolog.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(workflows WorkflowAPI, hierarchies HierarchyAPI, log zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		workflows:   workflows,
		hierarchies: hierarchies,
		log:         log,
	}
}

// Register wires all routes onto the router.
func (h *HTTPHandler) Register(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	v1 := r.Group("/api/v1")

	v1.POST("/workflows/initiate", h.InitiateWorkflow)
	v1.GET("/workflows/status", h.WorkflowStatus)
	v1.POST("/approvals/:id/action", h.ProcessApprovalAction)
	v1.GET("/approvals/pending", h.PendingApprovals)
	v1.GET("/audit", h.AuditTrail)

	v1.GET("/hierarchies", h.ListHierarchies)
	v1.POST("/hierarchies", h.CreateHierarchy)
	v1.GET("/hierarchies/:id", h.GetHierarchy)
	v1.PUT("/hierarchies/:id", h.UpdateHierarchy)
	v1.DELETE("/hierarchies/:id", h.DeleteHierarchy)
	v1.POST("/hierarchies/:id/levels", h.AddLevel)
	v1.PUT("/levels/:id", h.UpdateLevel)
	v1.DELETE("/levels/:id", h.DeleteLevel)
}

// ── Workflow endpoints ────────────────────────────────────────────────────────

type initiateRequest struct {
	EntityID    string  `json:"entity_id" binding:"required"`
	EntityType  string  `json:"entity_type" binding:"required"`
	Amount      *int64  `json:"amount"`
	Department  *string `json:"department"`
	RequestedBy string  `json:"requested_by" binding:"required"`
}

// InitiateWorkflow starts the approval workflow for a submitted entity.
func (h *HTTPHandler) InitiateWorkflow(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	steps, err := h.workflows.Initiate(c.Request.Context(), &service.WorkflowContext{
		EntityID:    req.EntityID,
		EntityType:  repository.EntityType(req.EntityType),
		Amount:      req.Amount,
		Department:  req.Department,
		RequestedBy: req.RequestedBy,
	})
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"steps": steps})
}

type actionRequest struct {
	Action   string  `json:"action" binding:"required"`
	Comments *string `json:"comments"`
}

// ProcessApprovalAction records an approve/reject decision from the
// authenticated approver. The acting user arrives on the X-User-ID header
// set by the API gateway.
func (h *HTTPHandler) ProcessApprovalAction(c *gin.Context) {
	approverID := c.GetHeader("X-User-ID")
	if approverID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing X-User-ID header"})
		return
	}

	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.workflows.ProcessAction(c.Request.Context(),
		c.Param("id"), service.Action(req.Action), approverID, req.Comments)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// WorkflowStatus reports the aggregate approval status of an entity.
func (h *HTTPHandler) WorkflowStatus(c *gin.Context) {
	entityID := c.Query("entity_id")
	entityType := repository.EntityType(c.Query("entity_type"))
	if entityID == "" || entityType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity_id and entity_type are required"})
		return
	}

	status, err := h.workflows.Status(c.Request.Context(), entityID, entityType)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// PendingApprovals lists the approval rows awaiting action from a user.
func (h *HTTPHandler) PendingApprovals(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		userID = c.GetHeader("X-User-ID")
	}
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	approvals, err := h.workflows.PendingForUser(c.Request.Context(), userID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"approvals": toApprovalResponses(approvals)})
}

// AuditTrail returns the approval audit log for an entity.
func (h *HTTPHandler) AuditTrail(c *gin.Context) {
	entityID := c.Query("entity_id")
	entityType := repository.EntityType(c.Query("entity_type"))
	if entityID == "" || entityType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity_id and entity_type are required"})
		return
	}

	entries, err := h.workflows.AuditTrail(c.Request.Context(), entityID, entityType)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// ── Hierarchy configuration endpoints ─────────────────────────────────────────

// ListHierarchies returns all hierarchies for an entity type.
func (h *HTTPHandler) ListHierarchies(c *gin.Context) {
	entityType := repository.EntityType(c.Query("entity_type"))
	hierarchies, err := h.hierarchies.List(c.Request.Context(), entityType)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hierarchies": hierarchies})
}

type hierarchyRequest struct {
	EntityType  string                 `json:"entity_type" binding:"required"`
	Name        string                 `json:"name" binding:"required"`
	Description *string                `json:"description"`
	IsActive    bool                   `json:"is_active"`
	IsDefault   bool                   `json:"is_default"`
	Conditions  map[string]interface{} `json:"conditions"`
}

// CreateHierarchy inserts a new approval hierarchy.
func (h *HTTPHandler) CreateHierarchy(c *gin.Context) {
	var req hierarchyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	hierarchy := &repository.ApprovalHierarchy{
		EntityType:  repository.EntityType(req.EntityType),
		Name:        req.Name,
		Description: req.Description,
		IsActive:    req.IsActive,
		IsDefault:   req.IsDefault,
		Conditions:  req.Conditions,
	}
	if err := h.hierarchies.Create(c.Request.Context(), hierarchy); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, hierarchy)
}

// GetHierarchy returns one hierarchy with its levels.
func (h *HTTPHandler) GetHierarchy(c *gin.Context) {
	hierarchy, levels, err := h.hierarchies.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hierarchy": hierarchy, "levels": levels})
}

// UpdateHierarchy persists changes to a hierarchy.
func (h *HTTPHandler) UpdateHierarchy(c *gin.Context) {
	var req hierarchyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	hierarchy := &repository.ApprovalHierarchy{
		ID:          c.Param("id"),
		EntityType:  repository.EntityType(req.EntityType),
		Name:        req.Name,
		Description: req.Description,
		IsActive:    req.IsActive,
		IsDefault:   req.IsDefault,
		Conditions:  req.Conditions,
	}
	if err := h.hierarchies.Update(c.Request.Context(), hierarchy); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, hierarchy)
}

// DeleteHierarchy removes a hierarchy and its levels.
func (h *HTTPHandler) DeleteHierarchy(c *gin.Context) {
	if err := h.hierarchies.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type levelRequest struct {
	LevelNumber   int     `json:"level_number" binding:"required"`
	Name          string  `json:"name" binding:"required"`
	Description   *string `json:"description"`
	RequiredRole  string  `json:"required_role" binding:"required"`
	RequiredCount int     `json:"required_count"`
	IsParallel    bool    `json:"is_parallel"`
	TimeoutHours  *int    `json:"timeout_hours"`
	SortOrder     int     `json:"sort_order"`
}

func (r *levelRequest) toLevel(hierarchyID, id string) *repository.ApprovalLevel {
	count := r.RequiredCount
	if count == 0 {
		count = 1
	}
	return &repository.ApprovalLevel{
		ID:            id,
		HierarchyID:   hierarchyID,
		LevelNumber:   r.LevelNumber,
		Name:          r.Name,
		Description:   r.Description,
		RequiredRole:  repository.ApproverRole(r.RequiredRole),
		RequiredCount: count,
		IsParallel:    r.IsParallel,
		TimeoutHours:  r.TimeoutHours,
		SortOrder:     r.SortOrder,
	}
}

// AddLevel inserts a level under a hierarchy.
func (h *HTTPHandler) AddLevel(c *gin.Context) {
	var req levelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	level := req.toLevel(c.Param("id"), "")
	if err := h.hierarchies.AddLevel(c.Request.Context(), level); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, level)
}

type updateLevelRequest struct {
	levelRequest
	HierarchyID string `json:"hierarchy_id" binding:"required"`
}

// UpdateLevel persists changes to a level.
func (h *HTTPHandler) UpdateLevel(c *gin.Context) {
	var req updateLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	level := req.toLevel(req.HierarchyID, c.Param("id"))
	if err := h.hierarchies.UpdateLevel(c.Request.Context(), level); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, level)
}

// DeleteLevel removes a single level.
func (h *HTTPHandler) DeleteLevel(c *gin.Context) {
	if err := h.hierarchies.DeleteLevel(c.Request.Context(), c.Param("id")); err != nil {
		h.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ── Response shaping / error mapping ─────────────────────────────────────────

type approvalResponse struct {
	ID          string  `json:"id"`
	EntityType  string  `json:"entity_type"`
	EntityID    string  `json:"entity_id"`
	LevelNumber int     `json:"level_number"`
	Status      string  `json:"status"`
	AssignedAt  string  `json:"assigned_at"`
	RequiredBy  *string `json:"required_by,omitempty"`
}

func toApprovalResponses(approvals []*repository.Approval) []approvalResponse {
	out := make([]approvalResponse, 0, len(approvals))
	for _, a := range approvals {
		resp := approvalResponse{
			ID:          a.ID,
			EntityType:  string(a.EntityType),
			EntityID:    a.EntityID,
			LevelNumber: a.LevelNumber,
			Status:      string(a.Status),
			AssignedAt:  a.AssignedAt.Format(time.RFC3339),
		}
		if a.RequiredBy != nil {
			due := a.RequiredBy.Format(time.RFC3339)
			resp.RequiredBy = &due
		}
		out = append(out, resp)
	}
	return out
}

func (h *HTTPHandler) renderError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": string(apperrors.CodeOf(err))})
}
