// Package ingest bulk-uploads planning documents from local directories by
// handing each file to the dispatcher, exactly as an HTTP upload would.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/constants"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/dispatch"
)

// Enqueuer is the dispatcher surface an upload needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req dispatch.EnqueueRequest) (uuid.UUID, error)
}

type Options struct {
	OwnerID    string
	SiteID     string
	Focus      string
	Exts       []string // without the dot; empty means every supported upload type
	SkipHidden bool
	// OnFile is called after each matched file, in walk order.
	OnFile func(FileResult)
}

// FileResult is the outcome for one file. JobID is set even when publishing
// failed after the job row was created.
type FileResult struct {
	Path  string    `json:"path"`
	JobID uuid.UUID `json:"job_id,omitempty"`
	Err   string    `json:"error,omitempty"`
}

type DirStats struct {
	Scanned uint32 `json:"scanned"`
	Matched uint32 `json:"matched"`
	Queued  uint32 `json:"queued"`
	Failed  uint32 `json:"failed"`
}

type Uploader struct {
	enq    Enqueuer
	opts   Options
	exts   map[string]struct{}
	logger *slog.Logger
}

func NewUploader(enq Enqueuer, opts Options, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	exts := map[string]struct{}{}
	for _, e := range opts.Exts {
		if e = constants.NormalizeExt(strings.TrimSpace(e)); e != "" {
			exts[e] = struct{}{}
		}
	}
	return &Uploader{enq: enq, opts: opts, exts: exts, logger: logger}
}

func (u *Uploader) matches(path string) bool {
	if len(u.exts) > 0 {
		_, ok := u.exts[constants.NormalizeExt(filepath.Ext(path))]
		return ok
	}
	return constants.MIMEFromFileName(path) != ""
}

// UploadFile reads one file and enqueues it.
func (u *Uploader) UploadFile(ctx context.Context, path string) FileResult {
	start := time.Now()
	res := FileResult{Path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		res.Err = err.Error()
		return res
	}
	name := filepath.Base(path)
	jobID, err := u.enq.Enqueue(ctx, dispatch.EnqueueRequest{
		File:     data,
		OwnerID:  u.opts.OwnerID,
		SiteID:   u.opts.SiteID,
		FileName: name,
		MimeType: constants.MIMEFromFileName(name),
		Focus:    u.opts.Focus,
	})
	res.JobID = jobID
	if err != nil {
		res.Err = err.Error()
		u.logger.Warn("ingest.file.failed", "path", path, "job_id", jobID, "error", err)
		return res
	}
	u.logger.Info("ingest.file.queued", "path", path, "job_id", jobID, "elapsed_ms", time.Since(start).Milliseconds())
	return res
}

// UploadDirectory walks root and enqueues every matching file. A failing file
// is recorded and the walk continues.
func (u *Uploader) UploadDirectory(ctx context.Context, root string) ([]FileResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}
	var (
		results []FileResult
		stats   DirStats
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, FileResult{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if u.opts.SkipHidden && path != root && isHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !u.matches(path) {
			return nil
		}
		stats.Matched++

		res := u.UploadFile(ctx, path)
		results = append(results, res)
		if u.opts.OnFile != nil {
			u.opts.OnFile(res)
		}
		if res.Err != "" {
			stats.Failed++
		} else {
			stats.Queued++
		}
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	u.logger.Info("ingest.directory.done",
		"root", root,
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"queued", stats.Queued,
		"failed", stats.Failed,
	)
	return results, stats, nil
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

func isRegularFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}
