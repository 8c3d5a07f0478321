// Package server exposes the pipeline over HTTP (gin) and the gRPC health
// service.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/constants"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/common"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/dispatch"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/export"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/metrics"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/pipeline"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/queue"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/status"
)

// Enqueuer accepts uploads; *dispatch.Dispatcher satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, req dispatch.EnqueueRequest) (uuid.UUID, error)
}

// JobHandler runs the pipeline for one callback; *pipeline.Worker satisfies it.
type JobHandler interface {
	Handle(ctx context.Context, jobID uuid.UUID, focus string) (pipeline.Result, error)
}

// Deps are the collaborators the HTTP surface routes to. Metrics may be nil.
type Deps struct {
	Dispatcher     Enqueuer
	Worker         JobHandler
	Verifier       *queue.Verifier
	Reader         *status.Reader
	Export         *export.Service
	Metrics        *metrics.Metrics
	Ping           func(ctx context.Context) error
	MaxUploadBytes int64
	Logger         *slog.Logger
}

type API struct {
	deps   Deps
	logger *slog.Logger
}

func NewAPI(d Deps) *API {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = constants.DefaultMaxUploadBytes
	}
	return &API{deps: d, logger: d.Logger}
}

// Router builds the gin engine with request id, recovery and access logging.
func (a *API) Router() *gin.Engine {
	r := gin.New()
	r.Use(RequestID())
	r.Use(Recovery(a.logger))
	r.Use(AccessLog(a.logger))

	r.GET("/healthz", a.healthz)
	if a.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(a.deps.Metrics.Handler()))
	}

	v1 := r.Group("/api/v1")
	v1.POST("/sites/:siteID/documents", a.uploadDocument)
	v1.GET("/sites/:siteID/jobs/export", a.exportJobs)
	v1.POST("/queue/callback", a.queueCallback)
	v1.GET("/jobs/:id", a.getJob)
	v1.GET("/documents/:id/summary", a.getSummary)
	v1.GET("/documents/:id/analysis", a.getAnalysis)
	return r
}

func (a *API) healthz(c *gin.Context) {
	if a.deps.Ping != nil {
		if err := a.deps.Ping(c.Request.Context()); err != nil {
			a.logger.Warn("health.db.failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": "down"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError renders err using its kind; the message is the user-facing one.
func writeError(c *gin.Context, err error) {
	code := common.HTTPStatus(err)
	if code == http.StatusBadGateway {
		code = http.StatusInternalServerError
	}
	c.JSON(code, gin.H{
		"error":      string(common.KindOf(err)),
		"message":    common.UserMessage(err),
		"request_id": requestID(c),
	})
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "id must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}
