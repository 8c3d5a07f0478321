package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/constants"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/entity"
)

type recordingRepublisher struct {
	ids []uuid.UUID
	err error
}

func (r *recordingRepublisher) Republish(_ context.Context, job *entity.Job) error {
	if r.err != nil {
		return r.err
	}
	r.ids = append(r.ids, job.ID)
	return nil
}

func TestReaperSweep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stuck := h.enqueue(t, "stuck.pdf", constants.MIMEPDF, pdf, "")
	_, claimed, err := h.jobs.Claim(ctx, stuck, time.Time{})
	require.NoError(t, err)
	require.True(t, claimed)
	neverWoken := h.enqueue(t, "lost.pdf", constants.MIMEPDF, pdf, "")

	h.clock.Advance(45 * time.Minute)
	fresh := h.enqueue(t, "fresh.pdf", constants.MIMEPDF, pdf, "")
	busy := h.enqueue(t, "busy.pdf", constants.MIMEPDF, pdf, "")
	_, claimed, err = h.jobs.Claim(ctx, busy, time.Time{})
	require.NoError(t, err)
	require.True(t, claimed)

	pub := &recordingRepublisher{}
	reaper := NewReaper(h.jobs, pub, nil, WithStaleAfter(30*time.Minute), WithReaperClock(h.clock.Now))

	res, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{TimedOut: 1, Republished: 1}, res)
	assert.Equal(t, []uuid.UUID{neverWoken}, pub.ids)

	job := h.job(t, stuck)
	assert.Equal(t, constants.JobStatusFailed, job.Status)
	assert.Equal(t, constants.ProgressDone, job.Progress)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, constants.MessageProcessingTimeout, *job.ErrorMessage)

	assert.Equal(t, constants.JobStatusQueued, h.job(t, neverWoken).Status)
	assert.Equal(t, constants.JobStatusQueued, h.job(t, fresh).Status)
	assert.Equal(t, constants.JobStatusProcessing, h.job(t, busy).Status)

	// the republished job was touched, so the next sweep leaves it alone
	res, err = reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)
	assert.Len(t, pub.ids, 1)
}

func TestReaperRepublishFailureIsSkipped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.enqueue(t, "doc.pdf", constants.MIMEPDF, pdf, "")
	h.clock.Advance(time.Hour)

	reaper := NewReaper(h.jobs, &recordingRepublisher{err: errors.New("broker down")}, nil, WithReaperClock(h.clock.Now))
	res, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Republished)

	job := h.job(t, id)
	assert.Equal(t, constants.JobStatusQueued, job.Status)
}

func TestReaperWithoutRepublisher(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "doc.pdf", constants.MIMEPDF, pdf, "")
	h.clock.Advance(time.Hour)

	res, err := NewReaper(h.jobs, nil, nil, WithReaperClock(h.clock.Now)).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)
}
