package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/common"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/dispatch"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/export"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/status"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// multipart envelope allowance on top of the file itself
const formOverhead = 1 << 20

func (a *API) uploadDocument(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.deps.MaxUploadBytes+formOverhead)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, common.ValidationError(fmt.Sprintf("file must be at most %d bytes", a.deps.MaxUploadBytes)))
			return
		}
		writeError(c, common.ValidationError("file is required"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, common.ValidationError("file could not be read"))
		return
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(io.LimitReader(f, a.deps.MaxUploadBytes+1))
	if err != nil {
		writeError(c, common.ValidationError("file could not be read"))
		return
	}

	jobID, err := a.deps.Dispatcher.Enqueue(c.Request.Context(), dispatch.EnqueueRequest{
		File:     data,
		OwnerID:  strings.TrimSpace(c.PostForm("owner_id")),
		SiteID:   c.Param("siteID"),
		FileName: fh.Filename,
		MimeType: fh.Header.Get("Content-Type"),
		Focus:    c.PostForm("focus"),
	})
	if err != nil {
		a.logger.Warn("http.upload.failed", "site_id", c.Param("siteID"), "request_id", requestID(c), "error", err)
		if jobID != uuid.Nil {
			c.Header("X-Job-ID", jobID.String())
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "status": "queued"})
}

func (a *API) getJob(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	job, err := a.deps.Reader.GetJob(c.Request.Context(), id)
	if err != nil {
		writeNotFoundOr(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (a *API) getSummary(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	doc, err := a.deps.Reader.GetSummary(c.Request.Context(), id)
	if err != nil {
		writeNotFoundOr(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (a *API) getAnalysis(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	analysis, err := a.deps.Reader.GetAnalysis(c.Request.Context(), id)
	var unavailable *status.AnalysisError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, analysis)
	case errors.Is(err, status.ErrAnalysisPending):
		c.JSON(http.StatusAccepted, gin.H{"status": "pending"})
	case errors.As(err, &unavailable):
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": unavailable.Reason})
	default:
		writeNotFoundOr(c, err)
	}
}

func writeNotFoundOr(c *gin.Context, err error) {
	if common.IsKind(err, common.KindNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	writeError(c, err)
}

func (a *API) exportJobs(c *gin.Context) {
	filter := export.Filter{SiteID: c.Param("siteID")}
	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		v := strings.TrimSpace(c.Query(p.key))
		if v == "" {
			continue
		}
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(c, common.ValidationError(p.key+" must be YYYY-MM-DD"))
			return
		}
		*p.dst = &t
	}

	b, err := a.deps.Export.JobsXLSX(c.Request.Context(), filter)
	if err != nil {
		a.logger.Error("export.xlsx.failed", "site_id", filter.SiteID, "err", err)
		writeError(c, err)
		return
	}
	name := fmt.Sprintf("jobs-%s.xlsx", filter.SiteID)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, xlsxContentType, b)
}
