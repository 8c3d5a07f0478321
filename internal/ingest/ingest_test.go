package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/dispatch"
)

type fakeEnqueuer struct {
	mu   sync.Mutex
	reqs []dispatch.EnqueueRequest
	fail map[string]error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, req dispatch.EnqueueRequest) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if err := f.fail[req.FileName]; err != nil {
		return uuid.Nil, err
	}
	return uuid.New(), nil
}

func (f *fakeEnqueuer) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.reqs))
	for _, r := range f.reqs {
		out = append(out, r.FileName)
	}
	return out
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 test"), 0o644))
}

func TestUploadDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "notice.pdf"))
	writeFile(t, filepath.Join(root, "plans", "elevation.PNG"))
	writeFile(t, filepath.Join(root, "plans", "readme.txt"))
	writeFile(t, filepath.Join(root, ".cache", "old.pdf"))
	writeFile(t, filepath.Join(root, "broken.pdf"))

	enq := &fakeEnqueuer{fail: map[string]error{"broken.pdf": errors.New("publish failed")}}
	u := NewUploader(enq, Options{OwnerID: "owner-1", SiteID: "site-1", Focus: "flood risk", SkipHidden: true}, nil)

	results, stats, err := u.UploadDirectory(context.Background(), root)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"notice.pdf", "elevation.PNG", "broken.pdf"}, enq.names())
	assert.Equal(t, uint32(3), stats.Matched)
	assert.Equal(t, uint32(2), stats.Queued)
	assert.Equal(t, uint32(1), stats.Failed)
	require.Len(t, results, 3)

	for _, r := range enq.reqs {
		assert.Equal(t, "owner-1", r.OwnerID)
		assert.Equal(t, "site-1", r.SiteID)
		assert.Equal(t, "flood risk", r.Focus)
		assert.NotEmpty(t, r.MimeType)
	}
	for _, r := range results {
		if filepath.Base(r.Path) == "broken.pdf" {
			assert.Equal(t, "publish failed", r.Err)
		} else {
			assert.Empty(t, r.Err)
			assert.NotEqual(t, uuid.Nil, r.JobID)
		}
	}
}

func TestUploadDirectoryExtensionFilter(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.pdf"))
	writeFile(t, filepath.Join(root, "b.jpg"))

	enq := &fakeEnqueuer{}
	var seen []string
	u := NewUploader(enq, Options{
		OwnerID: "o",
		SiteID:  "s",
		Exts:    []string{".PDF"},
		OnFile:  func(r FileResult) { seen = append(seen, filepath.Base(r.Path)) },
	}, nil)
	_, stats, err := u.UploadDirectory(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf"}, enq.names())
	assert.Equal(t, []string{"a.pdf"}, seen)
	assert.Equal(t, uint32(1), stats.Queued)
}

func TestUploadDirectoryRequiresRoot(t *testing.T) {
	u := NewUploader(&fakeEnqueuer{}, Options{}, nil)
	_, _, err := u.UploadDirectory(context.Background(), " ")
	require.Error(t, err)
}

func TestStartWatcherEmitsNewFiles(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	u := NewUploader(&fakeEnqueuer{}, Options{}, nil)
	paths, _, err := u.StartWatcher(ctx, []string{root}, 20*time.Millisecond)
	require.NoError(t, err)

	writeFile(t, filepath.Join(root, "ignored.txt"))
	target := filepath.Join(root, "decision.pdf")
	writeFile(t, target)

	select {
	case p := <-paths:
		assert.Equal(t, target, p)
	case <-time.After(5 * time.Second):
		t.Fatal("no event for new pdf")
	}

	cancel()
	for range paths {
	}
}

func TestStartWatcherRequiresRoots(t *testing.T) {
	u := NewUploader(&fakeEnqueuer{}, Options{}, nil)
	_, _, err := u.StartWatcher(context.Background(), nil, 0)
	require.Error(t, err)
}
