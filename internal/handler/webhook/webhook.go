package webhook

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dwarvesf/escrow-backend/internal/consts"
	"github.com/dwarvesf/escrow-backend/internal/ingestor"
	"github.com/dwarvesf/escrow-backend/internal/utils/logger"
	"github.com/dwarvesf/escrow-backend/internal/view"
)

// maxBodyBytes bounds a single indexer delivery.
const maxBodyBytes = 5 << 20

type handler struct {
	ingestor ingestor.IIngestor
	logger   *logger.Logger
}

func New(ingestor ingestor.IIngestor, logger *logger.Logger) IHandler {
	return &handler{
		ingestor: ingestor,
		logger:   logger,
	}
}

// Receive godoc
// @Summary Indexer webhook
// @Description Accepts a batch of confirmed transactions. Always acknowledges unless signature enforcement rejects the delivery
// @id receiveWebhook
// @Tags Webhook
// @Accept json
// @Produce json
// @Param Blockfrost-Signature header string false "t=<unix>,v1=<hmac>"
// @Success 200 {object} view.OkResponse
// @Failure 401 {object} view.ErrorResponse
// @Router /webhook [post]
func (h *handler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		h.logger.Error("[Receive][ReadAll]", map[string]string{
			"error": err.Error(),
		})
		c.JSON(http.StatusOK, view.OkResponse{Ok: true})
		return
	}

	if err := h.ingestor.Authenticate(c.GetHeader(consts.WebhookSignatureHeader), body); err != nil {
		c.JSON(http.StatusUnauthorized, view.ErrorResponse{Error: "invalid signature"})
		return
	}

	if _, err := h.ingestor.Ingest(c.Request.Context(), body); err != nil {
		h.logger.Error("[Receive][Ingest]", map[string]string{
			"error": err.Error(),
		})
	}

	c.JSON(http.StatusOK, view.OkResponse{Ok: true})
}
