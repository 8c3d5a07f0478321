package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/logging"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/queue"
)

const maxCallbackBody = 64 << 10

// queueCallback is the worker entrypoint. The signature is checked against
// the raw body before anything is decoded, so an unsigned request never
// reaches the job store.
func (a *API) queueCallback(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.WithContext(ctx, a.logger)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		a.deps.Metrics.Callback("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "body could not be read"})
		return
	}

	claims, err := a.deps.Verifier.Verify(ctx, c.GetHeader(queue.SignatureHeader), body)
	if err != nil {
		a.deps.Metrics.Callback("unauthorized")
		logger.Warn("callback.signature.rejected", "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
		return
	}

	var cb queue.CallbackBody
	if err := json.Unmarshal(body, &cb); err != nil || cb.JobID == uuid.Nil {
		a.deps.Metrics.Callback("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "job_id is required"})
		return
	}
	if claims.Subject != "" && claims.Subject != cb.JobID.String() {
		a.deps.Metrics.Callback("unauthorized")
		logger.Warn("callback.subject.mismatch", "subject", claims.Subject, "job_id", cb.JobID)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
		return
	}

	// The worker's own timeout is the only budget; a dropped caller must not
	// cancel a run whose failure would be terminal.
	res, err := a.deps.Worker.Handle(context.WithoutCancel(ctx), cb.JobID, cb.Focus)
	if err != nil {
		a.deps.Metrics.Callback("error")
		logger.Error("callback.handle.failed", "job_id", cb.JobID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "job could not be claimed"})
		return
	}
	a.deps.Metrics.Callback(string(res.Outcome))
	c.JSON(http.StatusOK, gin.H{
		"acknowledged": true,
		"job_id":       res.JobID,
		"outcome":      res.Outcome,
		"status":       res.Status,
	})
}
