package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/constants"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/blob"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/common"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/dispatch"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/export"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/extract"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/llm"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/metrics"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/pipeline"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/queue"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/repository"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/status"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/textextract"
)

const (
	signingKey  = "test-signing-key"
	issuer      = "planning-queue"
	callbackURL = "http://api.test/api/v1/queue/callback"
)

func init() { gin.SetMode(gin.TestMode) }

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []queue.Message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, m queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, m)
	return nil
}

type stubText struct{}

func (stubText) ExtractPDF(context.Context, []byte) (textextract.Result, error) {
	return textextract.Result{Text: strings.Repeat("Outline application for nine dwellings at Mill Lane. ", 6), Pages: 2, Method: "stub"}, nil
}

type fakeModel struct {
	analysisErr error
	onSummarize func()
}

// Summarize answers like a real client: an ended ctx aborts the call.
func (m *fakeModel) Summarize(ctx context.Context, _ llm.Content, _ string) (llm.PlanningSummary, []byte, error) {
	if m.onSummarize != nil {
		m.onSummarize()
	}
	if err := ctx.Err(); err != nil {
		return llm.PlanningSummary{}, nil, common.UpstreamError("openai request failed", err)
	}
	return llm.PlanningSummary{}, []byte(`{"site":{"address":"Land at 14 Mill Lane"},"process":{"applicationReference":"24/01234/FUL"}}`), nil
}

func (m *fakeModel) Analyze(context.Context, llm.Content, string) (llm.PlanningAnalysis, []byte, error) {
	if m.analysisErr != nil {
		return llm.PlanningAnalysis{}, nil, m.analysisErr
	}
	risk := "high"
	return llm.PlanningAnalysis{RiskLevel: &risk}, []byte(`{"riskLevel":"HIGH","keyIssues":[]}`), nil
}

func (m *fakeModel) ModelName(mode llm.Mode) string { return "fake-" + string(mode) }

type env struct {
	router  *gin.Engine
	jobs    repository.JobRepository
	docs    repository.DocumentRepository
	pub     *recordingPublisher
	model   *fakeModel
	signer  *queue.Signer
	metrics *metrics.Metrics
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	drv, err := repository.OpenSQLite(ctx, repository.SQLiteFileDSN(filepath.Join(t.TempDir(), "server.db")), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = drv.Close() })
	require.NoError(t, repository.Migrate(ctx, drv, nil))

	jobs := repository.NewJobRepository(drv, nil)
	docs := repository.NewDocumentRepository(drv, nil)
	blobs := blob.NewMemoryStore()
	pub := &recordingPublisher{}
	model := &fakeModel{}
	m := metrics.New()

	api := NewAPI(Deps{
		Dispatcher: dispatch.New(blobs, jobs, pub, callbackURL, nil, dispatch.WithMetrics(m)),
		Worker:     pipeline.NewWorker(jobs, docs, blobs, extract.NewAdapter(model, stubText{}, nil), nil, pipeline.WithMetrics(m)),
		Verifier:   queue.NewVerifier(signingKey, issuer, nil),
		Reader:     status.NewReader(jobs, docs, nil),
		Export:     export.NewService(jobs, docs, nil),
		Metrics:    m,
		Ping: func(ctx context.Context) error {
			return repository.HealthCheck(ctx, drv, time.Second, nil)
		},
	})
	return &env{
		router:  api.Router(),
		jobs:    jobs,
		docs:    docs,
		pub:     pub,
		model:   model,
		signer:  queue.NewSigner(signingKey, issuer, time.Minute),
		metrics: m,
	}
}

func (e *env) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, site, fileName string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if data != nil {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sites/"+site+"/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (e *env) callback(t *testing.T, jobID uuid.UUID, focus string, tamper func(r *http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(queue.CallbackBody{JobID: jobID, Focus: focus})
	require.NoError(t, err)
	token, err := e.signer.Sign(jobID.String(), body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/queue/callback", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(queue.SignatureHeader, token)
	if tamper != nil {
		tamper(req)
	}
	return e.do(req)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

var pdf = []byte("%PDF-1.7\n% planning decision notice\n")

func TestUploadCallbackAndPoll(t *testing.T) {
	e := newEnv(t)

	w := e.do(uploadRequest(t, "site-1", "decision.pdf", pdf, map[string]string{"owner_id": "user-1", "focus": "conditions"}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, "queued", out["status"])
	jobID, err := uuid.Parse(out["job_id"].(string))
	require.NoError(t, err)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	require.Len(t, e.pub.msgs, 1)
	msg := e.pub.msgs[0]
	assert.Equal(t, jobID, msg.JobID)
	assert.Equal(t, "conditions", msg.Focus)
	assert.Equal(t, callbackURL, msg.CallbackURL)

	// queued job is visible before the callback arrives
	w = e.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "queued", decode(t, w)["status"])

	w = e.callback(t, msg.JobID, msg.Focus, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out = decode(t, w)
	assert.Equal(t, true, out["acknowledged"])
	assert.Equal(t, "completed", out["outcome"])

	w = e.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	job := decode(t, w)
	assert.Equal(t, "completed", job["status"])
	assert.Equal(t, float64(100), job["progress"])
	assert.Equal(t, "ready", job["analysis_status"])
	docID := job["planning_document_id"].(string)

	w = e.do(httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+docID+"/summary", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "24/01234/FUL")

	w = e.do(httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+docID+"/analysis", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HIGH", decode(t, w)["risk_level"])

	// redelivery acknowledges without doing anything
	w = e.callback(t, msg.JobID, msg.Focus, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "skipped", decode(t, w)["outcome"])

	w = e.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "planning_jobs_enqueued_total 1")
	assert.Contains(t, w.Body.String(), `planning_callbacks_total{outcome="completed"} 1`)
}

func TestCallbackOutlivesDroppedCaller(t *testing.T) {
	e := newEnv(t)
	w := e.do(uploadRequest(t, "site-1", "decision.pdf", pdf, map[string]string{"owner_id": "user-1"}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	msg := e.pub.msgs[0]

	// the queue side hangs up while the summary call is in flight
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.model.onSummarize = cancel

	w = e.callback(t, msg.JobID, "", func(r *http.Request) { *r = *r.WithContext(ctx) })
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "completed", decode(t, w)["outcome"])

	job, err := e.jobs.Get(context.Background(), msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, job.Status)
	assert.Nil(t, job.ErrorMessage)
	assert.NotNil(t, job.PlanningDocumentID)
}

func TestAnalysisUnavailable(t *testing.T) {
	e := newEnv(t)
	e.model.analysisErr = common.UpstreamError("openai returned status 429", errors.New("rate limited"))

	w := e.do(uploadRequest(t, "site-1", "decision.pdf", pdf, map[string]string{"owner_id": "user-1"}))
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := uuid.MustParse(decode(t, w)["job_id"].(string))

	w = e.callback(t, jobID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	job, err := e.jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, constants.MessageSummaryReady, job.ProgressMessage)
	require.NotNil(t, job.PlanningDocumentID)

	w = e.do(httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+job.PlanningDocumentID.String()+"/analysis", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	out := decode(t, w)
	assert.Equal(t, "error", out["status"])
	assert.Equal(t, "analysis failed: openai returned status 429", out["error"])
}

func TestAnalysisPending(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	w := e.do(uploadRequest(t, "site-1", "decision.pdf", pdf, map[string]string{"owner_id": "user-1"}))
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := uuid.MustParse(decode(t, w)["job_id"].(string))

	// mid-flight: summary linked, analysis not written
	_, _, err := e.jobs.Claim(ctx, jobID, time.Time{})
	require.NoError(t, err)
	doc, err := e.docs.CreateSummaryAndLink(ctx, repository.NewDocument{JobID: jobID, UserID: "user-1", SiteID: "site-1", FileName: "decision.pdf", Summary: []byte(`{}`), ModelName: "m"})
	require.NoError(t, err)

	w = e.do(httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+doc.ID.String()+"/analysis", nil))
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "pending", decode(t, w)["status"])
}

func TestUploadValidation(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"missing file", uploadRequest(t, "site-1", "", nil, map[string]string{"owner_id": "user-1"})},
		{"missing owner", uploadRequest(t, "site-1", "decision.pdf", pdf, nil)},
		{"unsupported type", uploadRequest(t, "site-1", "notes.txt", []byte("just some notes"), map[string]string{"owner_id": "user-1"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(tt.req)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, "validation", decode(t, w)["error"])
		})
	}
	assert.Empty(t, e.pub.msgs)
}

func TestUploadPublishFailure(t *testing.T) {
	e := newEnv(t)
	e.pub.err = errors.New("broker unavailable")

	w := e.do(uploadRequest(t, "site-1", "decision.pdf", pdf, map[string]string{"owner_id": "user-1"}))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	jobID := uuid.MustParse(w.Header().Get("X-Job-ID"))

	job, err := e.jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.True(t, strings.HasPrefix(*job.ErrorMessage, "failed to enqueue processing job:"))
}

func TestCallbackRejectsBadRequests(t *testing.T) {
	e := newEnv(t)
	w := e.do(uploadRequest(t, "site-1", "decision.pdf", pdf, map[string]string{"owner_id": "user-1"}))
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := uuid.MustParse(decode(t, w)["job_id"].(string))

	tests := []struct {
		name   string
		tamper func(r *http.Request)
		want   int
	}{
		{"missing signature", func(r *http.Request) { r.Header.Del(queue.SignatureHeader) }, http.StatusUnauthorized},
		{"wrong key", func(r *http.Request) {
			token, _ := queue.NewSigner("other-key", issuer, time.Minute).Sign(jobID.String(), []byte(`{}`))
			r.Header.Set(queue.SignatureHeader, token)
		}, http.StatusUnauthorized},
		{"body swapped", func(r *http.Request) {
			other, _ := json.Marshal(queue.CallbackBody{JobID: uuid.New()})
			r.Body = io.NopCloser(bytes.NewReader(other))
		}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.callback(t, jobID, "", tt.tamper)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	t.Run("signed but empty job id", func(t *testing.T) {
		body := []byte(`{"focus":"x"}`)
		token, err := e.signer.Sign("", body)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/queue/callback", bytes.NewReader(body))
		req.Header.Set(queue.SignatureHeader, token)
		assert.Equal(t, http.StatusBadRequest, e.do(req).Code)
	})

	job, err := e.jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusQueued, job.Status)
	assert.Zero(t, job.Attempts)
}

func TestStatusEndpointsNotFound(t *testing.T) {
	e := newEnv(t)
	for _, path := range []string{
		"/api/v1/jobs/" + uuid.NewString(),
		"/api/v1/documents/" + uuid.NewString() + "/summary",
		"/api/v1/documents/" + uuid.NewString() + "/analysis",
	} {
		w := e.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, "not_found", decode(t, w)["error"], path)
	}

	w := e.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportAndHealth(t *testing.T) {
	e := newEnv(t)
	w := e.do(uploadRequest(t, "site-1", "decision.pdf", pdf, map[string]string{"owner_id": "user-1"}))
	require.Equal(t, http.StatusAccepted, w.Code)

	w = e.do(httptest.NewRequest(http.MethodGet, "/api/v1/sites/site-1/jobs/export?from=2020-01-01", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "jobs-site-1.xlsx")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))

	w = e.do(httptest.NewRequest(http.MethodGet, "/api/v1/sites/site-1/jobs/export?from=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestRecoveryMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Recovery(nil), AccessLog(nil))
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
	assert.Contains(t, w.Body.String(), "req-123")
}

func TestGRPCHealth(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv, hs := NewGRPCServer()
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go WatchHealth(ctx, hs, func(context.Context) error { return nil }, time.Hour, nil)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	client := healthpb.NewHealthClient(conn)
	require.Eventually(t, func() bool {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: PipelineService})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)
}
