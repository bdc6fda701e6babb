package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/provinciadigital41-cpu/provincia/config"
	"github.com/provinciadigital41-cpu/provincia/model"
	"github.com/provinciadigital41-cpu/provincia/pkg/logger"
	"github.com/provinciadigital41-cpu/provincia/service"
)

// WebhookHandler receives the card trigger and runs the whole pipeline
// synchronously; the response is the run summary.
type WebhookHandler struct {
	cfg      *config.Config
	pipefy   *service.PipefyService
	pipeline *service.Pipeline
	locker   service.RunLocker
	store    service.RunStore
	archive  *service.ArchiveService // nil when archiving is disabled
}

func NewWebhookHandler(cfg *config.Config, pipefySvc *service.PipefyService, pipeline *service.Pipeline, locker service.RunLocker, store service.RunStore, archive *service.ArchiveService) *WebhookHandler {
	return &WebhookHandler{
		cfg:      cfg,
		pipefy:   pipefySvc,
		pipeline: pipeline,
		locker:   locker,
		store:    store,
		archive:  archive,
	}
}

// cardIDExtractors are tried in priority order against the decoded trigger
// body; the first non-empty result wins. The shapes accumulated historically
// across webhook configurations are all accepted.
var cardIDExtractors = []func(body map[string]any) string{
	func(b map[string]any) string { return digString(b, "data", "card", "id") },
	func(b map[string]any) string { return digString(b, "card", "id") },
	func(b map[string]any) string { return digString(b, "data", "id") },
	func(b map[string]any) string { return digString(b, "cardId") },
}

// digString walks nested maps along the path and stringifies the leaf.
// Numeric ids keep their integer form.
func digString(body map[string]any, path ...string) string {
	var current any = body
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current = m[key]
	}

	switch v := current.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// ExtractCardID resolves the card identifier from a raw trigger body.
func ExtractCardID(raw []byte) string {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var body map[string]any
	if err := decoder.Decode(&body); err != nil {
		return ""
	}

	for _, extract := range cardIDExtractors {
		if id := extract(body); id != "" {
			return id
		}
	}
	return ""
}

// Liveness answers GET probes on the webhook path.
func (h *WebhookHandler) Liveness(c *gin.Context) {
	c.String(http.StatusOK, "OK - use POST")
}

// HandleTrigger processes one webhook delivery end to end.
func (h *WebhookHandler) HandleTrigger(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "input_error", "message": "unreadable body"})
		return
	}

	cardID := ExtractCardID(raw)
	if cardID == "" {
		logger.Warn(c.Request.Context(), "card identifier missing from webhook body")
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "input_error",
			"message": "card identifier missing from webhook body",
		})
		return
	}

	if h.cfg.Pipefy.Token == "" {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "config_error",
			"message": "pipefy token is not configured",
		})
		return
	}

	ctx := context.WithValue(c.Request.Context(), logger.CardIDKey, cardID)

	acquired, err := h.locker.Acquire(ctx, cardID)
	if err != nil {
		logger.Error(ctx, "failed to acquire run lock", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	if !acquired {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": "a run for this card is already in progress",
		})
		return
	}
	// The request context may already be canceled by the time the run
	// finishes; release with a fresh one.
	defer func() {
		if err := h.locker.Release(context.Background(), cardID); err != nil {
			logger.Error(ctx, "failed to release run lock", "error", err)
		}
	}()

	run := &model.Run{
		ID:        uuid.New().String(),
		CardID:    cardID,
		Status:    model.RunFailed,
		StartedAt: time.Now(),
	}
	ctx = context.WithValue(ctx, logger.RunIDKey, run.ID)
	logger.Info(ctx, "webhook trigger accepted")

	card, err := h.pipefy.GetCard(ctx, cardID)
	if errors.Is(err, service.ErrCardNotFound) {
		run.ErrorMsg = err.Error()
		h.finishRun(ctx, run)
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "card not found, invalid id or token without permission",
		})
		return
	}
	if err != nil {
		run.ErrorMsg = err.Error()
		h.finishRun(ctx, run)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "upstream_error",
			"message": err.Error(),
		})
		return
	}
	run.CardTitle = card.Title

	outcome, err := h.pipeline.Execute(ctx, card)
	var unmapped *service.ErrVaultUnmapped
	if errors.As(err, &unmapped) {
		run.ErrorMsg = err.Error()
		h.finishRun(ctx, run)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "vault_error",
			"message": err.Error(),
		})
		return
	}
	if err != nil {
		run.ErrorMsg = err.Error()
		h.finishRun(ctx, run)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	result := outcome.Result
	run.Jobs = result.Jobs
	run.PrimaryLink = result.PrimaryLink
	if result.Success {
		run.Status = model.RunSucceeded
	}

	if outcome.Aborted {
		run.ErrorMsg = outcome.AbortErr.Error()
		h.finishRun(ctx, run)

		response := gin.H{
			"error":    "provider_error",
			"message":  outcome.AbortErr.Error(),
			"card_id":  cardID,
			"workflow": result,
		}
		var provider *service.ProviderError
		if errors.As(outcome.AbortErr, &provider) && len(provider.Response) > 0 {
			response["response"] = provider.Response
		}
		c.JSON(http.StatusBadGateway, response)
		return
	}

	h.finishRun(ctx, run)
	c.JSON(http.StatusOK, gin.H{
		"ok":           true,
		"run_id":       run.ID,
		"card_id":      cardID,
		"card_title":   card.Title,
		"primary_link": result.PrimaryLink,
		"workflow":     result,
	})
}

// finishRun records the run; store and archive failures are logged, never
// surfaced to the webhook caller.
func (h *WebhookHandler) finishRun(ctx context.Context, run *model.Run) {
	run.FinishedAt = time.Now()

	if err := h.store.Save(ctx, run); err != nil {
		logger.Error(ctx, "failed to save run", "error", err)
	}

	if h.archive != nil {
		if err := h.archive.StoreRunReport(ctx, run); err != nil {
			logger.Error(ctx, "failed to archive run report", "error", err)
		}
	}
}
