// Package handler exposes the operator HTTP API for campaign rounds.
package handler

import (
	"net/http"

	"campaign_backend/internal/rounds/service"
	"campaign_backend/internal/rounds/transport"
	"campaign_backend/platform/httpkit"
	"campaign_backend/platform/logger"
	"campaign_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "Invalid request body"
	msgValidationFailed = "Validation failed"
	msgInvalidRoundID   = "Invalid round id"
)

// Handler handles round HTTP requests.
type Handler struct {
	svc *service.Service
	val *validator.Validator
	log *logger.Logger
}

// New creates a rounds handler.
func New(svc *service.Service, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{
		svc: svc,
		val: val,
		log: log,
	}
}

// RegisterRoutes mounts the round endpoints.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/campaigns", h.CreateCampaign)
	rg.GET("/rounds/lost", h.ListLostRounds)
	rg.GET("/rounds/:id", h.GetRound)
	rg.POST("/rounds/:id/stages", h.TriggerStage)
	rg.PATCH("/rounds/:id/schedule", h.Reschedule)
	rg.POST("/rounds/:id/cancel", h.Cancel)
	rg.GET("/rounds/:id/maintenance", h.MaintenanceLogs)
}

// CreateCampaign registers every round of a campaign and schedules their
// stage jobs.
func (h *Handler) CreateCampaign(c *gin.Context) {
	var req transport.CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	rounds, err := h.svc.CreateCampaign(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}

	resp := make([]transport.RoundResponse, 0, len(rounds))
	for _, r := range rounds {
		resp = append(resp, transport.FromRound(r))
	}
	httpkit.JSON(c, http.StatusCreated, resp)
}

// GetRound returns one round with its registered stage jobs.
func (h *Handler) GetRound(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRoundID, nil)
		return
	}

	round, err := h.svc.GetRound(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	jobList, err := h.svc.ListJobs(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}

	resp := transport.FromRound(round)
	resp.Jobs = transport.FromJobs(jobList)
	httpkit.OK(c, resp)
}

// ListLostRounds surfaces past-due rounds with no live stage job.
func (h *Handler) ListLostRounds(c *gin.Context) {
	lost, err := h.svc.ListLostRounds(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}

	resp := make([]transport.RoundResponse, 0, len(lost))
	for _, r := range lost {
		resp = append(resp, transport.FromRound(r))
	}
	httpkit.OK(c, resp)
}

// TriggerStage manually fires a stage for recovery.
func (h *Handler) TriggerStage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRoundID, nil)
		return
	}

	var req transport.TriggerStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	round, err := h.svc.TriggerStage(c.Request.Context(), id, req.Stage)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.FromRound(round))
}

// Reschedule moves a round's launch instant.
func (h *Handler) Reschedule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRoundID, nil)
		return
	}

	var req transport.RescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	round, err := h.svc.Reschedule(c.Request.Context(), id, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.FromRound(round))
}

// Cancel terminates a round and withdraws its pending stage jobs.
func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRoundID, nil)
		return
	}

	round, err := h.svc.Cancel(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.FromRound(round))
}

// MaintenanceLogs returns a round's maintenance history.
func (h *Handler) MaintenanceLogs(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRoundID, nil)
		return
	}

	logs, err := h.svc.MaintenanceLogs(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.FromMaintenanceLogs(logs))
}
