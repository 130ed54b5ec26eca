package delivery

import (
	"errors"
	"net/http"
	"strconv"

	"crm-backend/internal/insight/domain"
	"crm-backend/internal/insight/usecase"

	"github.com/gin-gonic/gin"
)

type InsightHandler struct {
	insightUsecase usecase.InsightUsecase
}

func NewInsightHandler(insightUsecase usecase.InsightUsecase) *InsightHandler {
	return &InsightHandler{insightUsecase: insightUsecase}
}

// GetSummary returns the cached or freshly generated conversation summary.
func (h *InsightHandler) GetSummary(c *gin.Context) {
	out, err := h.insightUsecase.Summarize(c.Request.Context(), c.Param("id"), refresh(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "result": out})
}

// GetClassification returns the cached or freshly generated status classification.
func (h *InsightHandler) GetClassification(c *gin.Context) {
	out, err := h.insightUsecase.Classify(c.Request.Context(), c.Param("id"), refresh(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "result": out})
}

// TriggerClassifyBatch classifies the next page of contacts.
func (h *InsightHandler) TriggerClassifyBatch(c *gin.Context) {
	res, err := h.insightUsecase.ClassifyBatch(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error(), "result": res})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "result": res})
}

func refresh(c *gin.Context) bool {
	v, _ := strconv.ParseBool(c.Query("refresh"))
	return v
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, usecase.ErrContactNotFound):
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "contact not found"})
	case errors.Is(err, domain.ErrModelResponseInvalid):
		c.JSON(http.StatusBadGateway, gin.H{"status": "error", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
	}
}
