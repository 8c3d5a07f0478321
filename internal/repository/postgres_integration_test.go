//go:build integration

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/constants"
)

func TestPostgresJobLifecycle(t *testing.T) {
	ctx := context.Background()

	pg, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("planning_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pg.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	host, err := pg.Host(ctx)
	require.NoError(t, err)
	port, err := pg.MappedPort(ctx, "5432")
	require.NoError(t, err)

	drv, pool, err := Open(ctx, Config{
		Driver:      "postgres",
		DSN:         fmt.Sprintf("postgres://test:test@%s:%s/planning_test?sslmode=disable", host, port.Port()),
		MaxConns:    4,
		DialTimeout: 10 * time.Second,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { Close(drv, pool, nil) })

	require.NoError(t, Migrate(ctx, drv, nil))
	require.NoError(t, HealthCheck(ctx, drv, 5*time.Second, nil))

	jobs := NewJobRepository(drv, nil)
	docs := NewDocumentRepository(drv, nil)

	id := createJob(t, jobs)
	_, claimed, err := jobs.Claim(ctx, id, time.Now().Add(-15*time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	_, claimed, err = jobs.Claim(ctx, id, time.Now().Add(-15*time.Minute))
	require.NoError(t, err)
	assert.False(t, claimed)

	doc, err := docs.CreateSummaryAndLink(ctx, NewDocument{
		JobID: id, UserID: "user-1", SiteID: "site-1", FileName: "doc.pdf",
		Summary: json.RawMessage(`{"site":{"address":"1 High St"}}`), ModelName: "gpt-test",
	})
	require.NoError(t, err)

	ok, err := jobs.Complete(ctx, id, constants.AnalysisStatusReady, nil)
	require.NoError(t, err)
	require.True(t, ok)

	job, err := jobs.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, job.Status)
	assert.Equal(t, doc.ID, *job.PlanningDocumentID)

	got, err := docs.GetSummary(ctx, doc.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"site":{"address":"1 High St"}}`, string(got.Summary))
}
