package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	appdelivery "github.com/itechsmart/sentinel/internal/application/delivery"
	"github.com/itechsmart/sentinel/internal/domain/delivery"
	"github.com/itechsmart/sentinel/internal/infrastructure/storage"
	"github.com/itechsmart/sentinel/internal/interfaces/http/dto"
)

// DeliveryService is the subset of the delivery application service used here
type DeliveryService interface {
	Submit(ctx context.Context, req appdelivery.SubmitMessageRequest) (*appdelivery.SubmitResult, error)
	Message(ctx context.Context, id string) (*delivery.Message, error)
	MessageAttempts(ctx context.Context, id string) ([]appdelivery.AttemptResponse, error)
	Quarantine(ctx context.Context, id, reason string) error
	RetryDeadLetter(ctx context.Context, id string) error
	RetryAllDeadLetters(ctx context.Context) (int, error)
	Statistics(ctx context.Context) (*delivery.Statistics, error)
	RetryQueue(ctx context.Context, limit int) ([]appdelivery.MessageResponse, error)
	DeadLetterQueue(ctx context.Context, limit int) ([]appdelivery.MessageResponse, error)
	QuarantineQueue(ctx context.Context, limit int) ([]appdelivery.MessageResponse, error)
}

// ArchiveLocator presigns downloads of archived dead letters
type ArchiveLocator interface {
	DownloadURL(ctx context.Context, messageID string, ts time.Time, expiresIn time.Duration) (string, time.Time, error)
}

// ArchiveURLResponse is a temporary link to an archived message
type ArchiveURLResponse struct {
	MessageID string    `json:"message_id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MessageHandler serves message submission and queue management
type MessageHandler struct {
	BaseHandler
	deliveryService DeliveryService
	archive         ArchiveLocator
	presignExpiry   time.Duration
}

// MessageHandlerOption configures a MessageHandler
type MessageHandlerOption func(*MessageHandler)

// WithArchive enables the archive download endpoint
func WithArchive(archive ArchiveLocator, expiry time.Duration) MessageHandlerOption {
	return func(h *MessageHandler) {
		h.archive = archive
		h.presignExpiry = expiry
	}
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(deliveryService DeliveryService, opts ...MessageHandlerOption) *MessageHandler {
	h := &MessageHandler{deliveryService: deliveryService}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Submit handles POST /messages
func (h *MessageHandler) Submit(c *gin.Context) {
	var req appdelivery.SubmitMessageRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.deliveryService.Submit(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if result.Duplicate {
		h.Success(c, result)
		return
	}
	h.Created(c, result)
}

// Get handles GET /messages/:id
func (h *MessageHandler) Get(c *gin.Context) {
	msg, err := h.deliveryService.Message(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, appdelivery.ToMessageDetailResponse(msg))
}

// Attempts handles GET /messages/:id/attempts
func (h *MessageHandler) Attempts(c *gin.Context) {
	attempts, err := h.deliveryService.MessageAttempts(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.List(c, attempts, int64(len(attempts)), len(attempts), 0)
}

// Quarantine handles POST /messages/:id/quarantine
func (h *MessageHandler) Quarantine(c *gin.Context) {
	var req appdelivery.QuarantineRequest
	if !bindJSON(c, &req) {
		return
	}

	id := c.Param("id")
	if err := h.deliveryService.Quarantine(c.Request.Context(), id, req.Reason); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"message_id": id, "status": delivery.StatusQuarantined})
}

// RetryQueue handles GET /queues/retry
func (h *MessageHandler) RetryQueue(c *gin.Context) {
	h.listQueue(c, h.deliveryService.RetryQueue, func(s *delivery.Statistics) int64 { return s.RetryQueueSize })
}

// DeadLetterQueue handles GET /queues/dead-letter
func (h *MessageHandler) DeadLetterQueue(c *gin.Context) {
	h.listQueue(c, h.deliveryService.DeadLetterQueue, func(s *delivery.Statistics) int64 { return s.DeadLetterQueueSize })
}

// QuarantineQueue handles GET /queues/quarantine
func (h *MessageHandler) QuarantineQueue(c *gin.Context) {
	h.listQueue(c, h.deliveryService.QuarantineQueue, func(s *delivery.Statistics) int64 { return s.QuarantineQueueSize })
}

func (h *MessageHandler) listQueue(
	c *gin.Context,
	list func(context.Context, int) ([]appdelivery.MessageResponse, error),
	size func(*delivery.Statistics) int64,
) {
	limit, ok := h.queryInt(c, "limit", appdelivery.DefaultQueueLimit, 1, appdelivery.MaxQueueLimit)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	msgs, err := list(ctx, limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	stats, err := h.deliveryService.Statistics(ctx)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.List(c, msgs, size(stats), len(msgs), limit)
}

// RetryDeadLetter handles POST /queues/dead-letter/:id/retry
func (h *MessageHandler) RetryDeadLetter(c *gin.Context) {
	id := c.Param("id")
	if err := h.deliveryService.RetryDeadLetter(c.Request.Context(), id); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"message_id": id, "status": delivery.StatusPending})
}

// RetryAllDeadLetters handles POST /queues/dead-letter/retry-all
func (h *MessageHandler) RetryAllDeadLetters(c *gin.Context) {
	n, err := h.deliveryService.RetryAllDeadLetters(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"requeued": n})
}

// ArchiveURL handles GET /queues/dead-letter/:id/archive-url
func (h *MessageHandler) ArchiveURL(c *gin.Context) {
	if h.archive == nil {
		h.Unavailable(c, "Dead letter archive is not enabled")
		return
	}

	ctx := c.Request.Context()
	msg, err := h.deliveryService.Message(ctx, c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if msg.Status != delivery.StatusDeadLetter {
		h.Error(c, dto.GetHTTPStatus(dto.ErrCodeInvalidState), dto.ErrCodeInvalidState, "message is not in the dead letter queue")
		return
	}

	url, expiresAt, err := h.archive.DownloadURL(ctx, msg.ID, msg.UpdatedAt, h.presignExpiry)
	if err != nil {
		if errors.Is(err, storage.ErrNotArchived) {
			h.NotFound(c, "message has not been archived")
			return
		}
		h.HandleError(c, err)
		return
	}
	h.Success(c, ArchiveURLResponse{MessageID: msg.ID, URL: url, ExpiresAt: expiresAt})
}

// Statistics handles GET /statistics
func (h *MessageHandler) Statistics(c *gin.Context) {
	stats, err := h.deliveryService.Statistics(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, stats)
}
