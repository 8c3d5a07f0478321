package repository

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/constants"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/common"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDriver(t *testing.T) *entsql.Driver {
	t.Helper()
	ctx := context.Background()
	drv, err := OpenSQLite(ctx, SQLiteFileDSN(filepath.Join(t.TempDir(), "pipeline.db")), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = drv.Close() })
	require.NoError(t, Migrate(ctx, drv, nil))
	return drv
}

func newRepos(t *testing.T) (JobRepository, DocumentRepository, *testClock) {
	t.Helper()
	drv := newTestDriver(t)
	clock := &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewJobRepository(drv, nil, WithClock(clock.Now)),
		NewDocumentRepository(drv, nil, WithClock(clock.Now)),
		clock
}

func createJob(t *testing.T, jobs JobRepository) uuid.UUID {
	t.Helper()
	focus := "prioritize drawings"
	job, err := jobs.Create(context.Background(), NewJob{
		UserID:      "user-1",
		SiteID:      "site-1",
		StoragePath: "sites/site-1/doc.pdf",
		FileName:    "doc.pdf",
		MimeType:    constants.MIMEPDF,
		Focus:       &focus,
	})
	require.NoError(t, err)
	return job.ID
}

func TestMigrateIsIdempotent(t *testing.T) {
	drv := newTestDriver(t)
	require.NoError(t, Migrate(context.Background(), drv, nil))
	require.NoError(t, HealthCheck(context.Background(), drv, time.Second, nil))
}

func TestJobCreateAndGet(t *testing.T) {
	jobs, _, _ := newRepos(t)
	ctx := context.Background()
	id := createJob(t, jobs)

	got, err := jobs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusQueued, got.Status)
	assert.Equal(t, 0, got.Attempts)
	assert.Equal(t, 0, got.Progress)
	assert.Equal(t, constants.MessageQueued, got.ProgressMessage)
	assert.Equal(t, constants.AnalysisStatusPending, got.AnalysisStatus)
	assert.Equal(t, "prioritize drawings", got.FocusHint())
	assert.Nil(t, got.PlanningDocumentID)
	assert.Nil(t, got.StartedAt)

	_, err = jobs.Get(ctx, uuid.New())
	assert.True(t, common.IsKind(err, common.KindNotFound))
}

func TestClaimOnlyOnce(t *testing.T) {
	jobs, _, clock := newRepos(t)
	ctx := context.Background()
	id := createJob(t, jobs)

	job, claimed, err := jobs.Claim(ctx, id, clock.Now().Add(-15*time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)
	assert.Equal(t, constants.JobStatusProcessing, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, constants.ProgressDownloading, job.Progress)
	require.NotNil(t, job.StartedAt)

	job, claimed, err = jobs.Claim(ctx, id, clock.Now().Add(-15*time.Minute))
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, 1, job.Attempts)

	_, _, err = jobs.Claim(ctx, uuid.New(), time.Time{})
	assert.True(t, common.IsKind(err, common.KindNotFound))
}

func TestReclaimStaleProcessingKeepsProgress(t *testing.T) {
	jobs, _, clock := newRepos(t)
	ctx := context.Background()
	id := createJob(t, jobs)

	_, claimed, err := jobs.Claim(ctx, id, time.Time{})
	require.NoError(t, err)
	require.True(t, claimed)
	ok, err := jobs.UpdateProgress(ctx, id, constants.ProgressExtracting, constants.MessageExtracting)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(20 * time.Minute)
	job, claimed, err := jobs.Claim(ctx, id, clock.Now().Add(-15*time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, constants.ProgressExtracting, job.Progress)
}

func TestUpdateProgressNeverDecreases(t *testing.T) {
	jobs, _, _ := newRepos(t)
	ctx := context.Background()
	id := createJob(t, jobs)

	ok, err := jobs.UpdateProgress(ctx, id, 35, "x")
	require.NoError(t, err)
	assert.False(t, ok, "queued jobs are not progressed")

	_, _, err = jobs.Claim(ctx, id, time.Time{})
	require.NoError(t, err)
	ok, err = jobs.UpdateProgress(ctx, id, 70, constants.MessageAnalyzing)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = jobs.UpdateProgress(ctx, id, 35, constants.MessageExtracting)
	require.NoError(t, err)
	assert.False(t, ok)

	job, err := jobs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 70, job.Progress)
	assert.Equal(t, constants.MessageAnalyzing, job.ProgressMessage)
}

func TestCompleteRequiresSummary(t *testing.T) {
	jobs, docs, _ := newRepos(t)
	ctx := context.Background()
	id := createJob(t, jobs)
	_, _, err := jobs.Claim(ctx, id, time.Time{})
	require.NoError(t, err)

	ok, err := jobs.Complete(ctx, id, constants.AnalysisStatusReady, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	doc, err := docs.CreateSummaryAndLink(ctx, NewDocument{
		JobID: id, UserID: "user-1", SiteID: "site-1", FileName: "doc.pdf",
		Summary: json.RawMessage(`{"site":{"address":"1 High St"}}`), ModelName: "gpt-test",
	})
	require.NoError(t, err)

	job, err := jobs.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, job.PlanningDocumentID)
	assert.Equal(t, doc.ID, *job.PlanningDocumentID)
	assert.Equal(t, constants.ProgressAnalyzing, job.Progress)

	msg := "analysis timed out"
	ok, err = jobs.Complete(ctx, id, constants.AnalysisStatusError, &msg)
	require.NoError(t, err)
	require.True(t, ok)

	job, err = jobs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, constants.MessageSummaryReady, job.ProgressMessage)
	assert.Equal(t, constants.AnalysisStatusError, job.AnalysisStatus)
	require.NotNil(t, job.AnalysisError)
	assert.Equal(t, msg, *job.AnalysisError)
	assert.NotNil(t, job.CompletedAt)

	// terminal: nothing moves it any more
	ok, err = jobs.MarkFailed(ctx, id, "late failure")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSummaryLinkRollsBackWhenJobNotProcessing(t *testing.T) {
	jobs, docs, _ := newRepos(t)
	ctx := context.Background()
	id := createJob(t, jobs)

	_, err := docs.CreateSummaryAndLink(ctx, NewDocument{
		JobID: id, Summary: json.RawMessage(`{}`), ModelName: "m",
	})
	assert.True(t, errors.Is(err, ErrJobNotProcessing))

	summaries, analyses, err := docs.CountByJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, summaries)
	assert.Equal(t, 0, analyses)
}

func TestAnalysisLookup(t *testing.T) {
	jobs, docs, clock := newRepos(t)
	ctx := context.Background()
	id := createJob(t, jobs)
	_, _, err := jobs.Claim(ctx, id, time.Time{})
	require.NoError(t, err)
	doc, err := docs.CreateSummaryAndLink(ctx, NewDocument{JobID: id, Summary: json.RawMessage(`{}`), ModelName: "m"})
	require.NoError(t, err)

	_, err = docs.GetAnalysisByDocument(ctx, doc.ID)
	assert.True(t, common.IsKind(err, common.KindNotFound))

	risk := "HIGH"
	_, err = docs.CreateAnalysis(ctx, NewAnalysis{
		PlanningDocumentID: doc.ID, JobID: id,
		Analysis: json.RawMessage(`{"riskLevel":"HIGH"}`), RiskLevel: &risk, ModelName: "m",
	})
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = docs.CreateAnalysis(ctx, NewAnalysis{
		PlanningDocumentID: doc.ID, JobID: id,
		Analysis: json.RawMessage(`{"riskLevel":null}`), ModelName: "m2",
	})
	require.NoError(t, err)

	got, err := docs.GetAnalysisByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "m2", got.ModelName)
	assert.Nil(t, got.RiskLevel)
	assert.JSONEq(t, `{"riskLevel":null}`, string(got.Analysis))

	byJob, err := docs.FindAnalysisByJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, got.ID, byJob.ID)

	sum, err := docs.GetSummary(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, id, sum.JobID)

	summaries, analyses, err := docs.CountByJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, summaries)
	assert.Equal(t, 2, analyses)
}

func TestListAndStale(t *testing.T) {
	jobs, _, clock := newRepos(t)
	ctx := context.Background()
	a := createJob(t, jobs)
	clock.Advance(time.Minute)
	b := createJob(t, jobs)

	_, _, err := jobs.Claim(ctx, a, time.Time{})
	require.NoError(t, err)

	all, err := jobs.List(ctx, JobFilter{SiteID: "site-1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b, all[0].ID, "newest first")

	queued, err := jobs.List(ctx, JobFilter{Status: constants.JobStatusQueued})
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, b, queued[0].ID)

	clock.Advance(time.Hour)
	stale, err := jobs.ListStale(ctx, constants.JobStatusProcessing, clock.Now().Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, a, stale[0].ID)

	ok, err := jobs.TimeOut(ctx, a, clock.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	job, err := jobs.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, constants.MessageProcessingTimeout, *job.ErrorMessage)
}

func TestTouchOnlyQueued(t *testing.T) {
	jobs, _, clock := newRepos(t)
	ctx := context.Background()
	id := createJob(t, jobs)

	clock.Advance(time.Hour)
	ok, err := jobs.Touch(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	job, err := jobs.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, clock.Now().Equal(job.UpdatedAt))

	_, _, err = jobs.Claim(ctx, id, time.Time{})
	require.NoError(t, err)
	ok, err = jobs.Touch(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}
