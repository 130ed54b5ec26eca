package delivery

import (
	"errors"
	"net/http"

	emaildto "crm-backend/internal/email/dto"
	"crm-backend/internal/email/usecase"
	"crm-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

type SyncHandler struct {
	syncUsecase     usecase.SyncUsecase
	outboundUsecase usecase.OutboundUsecase
}

func NewSyncHandler(syncUsecase usecase.SyncUsecase, outboundUsecase usecase.OutboundUsecase) *SyncHandler {
	return &SyncHandler{
		syncUsecase:     syncUsecase,
		outboundUsecase: outboundUsecase,
	}
}

// TriggerSync runs one mailbox sync pass.
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	result, err := h.syncUsecase.Run(c.Request.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, usecase.ErrMailboxLocked) {
			status = http.StatusConflict
		}

		body := gin.H{"status": "error", "error": err.Error(), "result": result}
		var syncErr *usecase.SyncError
		if errors.As(err, &syncErr) {
			body["phase"] = syncErr.Phase
			if syncErr.UID != 0 {
				body["uid"] = syncErr.UID
			}
		}
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "result": result})
}

// RecordOutbound stores an email sent through the external send path.
func (h *SyncHandler) RecordOutbound(c *gin.Context) {
	var req emaildto.RecordOutboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}

	resp, err := h.outboundUsecase.RecordOutbound(c.Request.Context(), req)
	if err != nil {
		logger.With("outbound").Error().Err(err).Msg("record outbound email")
		if resp != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error(), "result": resp})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "ok", "result": resp})
}
