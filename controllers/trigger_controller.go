package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"stock_alerts_backend/middleware"
	"stock_alerts_backend/models"
	"stock_alerts_backend/services/triggers"
)

// TriggerService is implemented by triggers.Service
type TriggerService interface {
	ProcessAITrigger(ctx context.Context, p triggers.Payload) (*models.TriggerEvent, error)
	GetAITriggersByTicker(ctx context.Context, ticker string) ([]models.TriggerEvent, error)
}

// TriggerController accepts external trigger payloads
type TriggerController struct {
	svc TriggerService
}

func NewTriggerController(svc TriggerService) *TriggerController {
	return &TriggerController{svc: svc}
}

// CreateTrigger persists a payload and notifies watchers of its ticker
// POST /api/v1/triggers
func (tc *TriggerController) CreateTrigger(c *gin.Context) {
	var payload triggers.Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid trigger payload", err)
		return
	}
	if payload.Source == "" {
		if source, ok := middleware.GetIngestSourceFromContext(c); ok {
			payload.Source = source
		}
	}

	event, err := tc.svc.ProcessAITrigger(c.Request.Context(), payload)
	switch {
	case errors.Is(err, triggers.ErrInvalidPayload):
		respondError(c, http.StatusBadRequest, "Invalid trigger payload", err)
	case err != nil && event != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Trigger stored but notification failed",
			"error":   err.Error(),
			"data":    event,
		})
	case err != nil:
		respondError(c, http.StatusInternalServerError, "Failed to process trigger", err)
	default:
		respond(c, http.StatusCreated, "Trigger processed", event)
	}
}

// GetTriggersByTicker lists recent events for a ticker
// GET /api/v1/triggers/:ticker
func (tc *TriggerController) GetTriggersByTicker(c *gin.Context) {
	events, err := tc.svc.GetAITriggersByTicker(c.Request.Context(), c.Param("ticker"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to load triggers", err)
		return
	}
	respond(c, http.StatusOK, "Triggers loaded", events)
}
