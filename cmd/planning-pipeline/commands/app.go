package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/blob"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/extract"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/llm/openai"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/queue"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/repository"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/textextract"
)

// store is an open database plus the two repositories on top of it.
type store struct {
	drv  *entsql.Driver
	pool *pgxpool.Pool
	jobs repository.JobRepository
	docs repository.DocumentRepository
}

func openStore(ctx context.Context) (*store, error) {
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("DB_URL is required")
	}
	d := cfg.Database
	drv, pool, err := repository.Open(ctx, repository.Config{
		Driver:           d.Driver,
		DSN:              d.DSN,
		MaxConns:         d.MaxConns,
		MinConns:         d.MinConns,
		MaxConnLifetime:  d.MaxConnLifetime,
		MaxConnIdleTime:  d.MaxConnIdleTime,
		DialTimeout:      d.DialTimeout,
		StatementTimeout: d.StatementTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &store{
		drv:  drv,
		pool: pool,
		jobs: repository.NewJobRepository(drv, logger),
		docs: repository.NewDocumentRepository(drv, logger),
	}, nil
}

func (s *store) ping(ctx context.Context) error {
	return repository.HealthCheck(ctx, s.drv, 2*time.Second, logger)
}

func (s *store) Close() {
	repository.Close(s.drv, s.pool, logger)
}

func openBlobs(ctx context.Context) (blob.Store, error) {
	b := cfg.Blob
	switch b.Driver {
	case "minio":
		ms, err := blob.NewMinioStore(blob.MinioConfig{
			Endpoint:  b.Endpoint,
			AccessKey: b.AccessKey,
			SecretKey: b.SecretKey,
			Bucket:    b.Bucket,
			UseSSL:    b.UseSSL,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := ms.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return ms, nil
	case "", "fs":
		return blob.NewFSStore(b.RootDir, logger)
	}
	return nil, fmt.Errorf("unknown blob driver %q", b.Driver)
}

func newAdapter() (*extract.Adapter, error) {
	text, err := textextract.New(cfg.Pipeline.TextExtractor, logger)
	if err != nil {
		return nil, err
	}
	model := openai.NewClient(openai.ConfigFromApp(cfg.LLM), logger)
	return extract.NewAdapter(model, text, logger, extract.WithMinTextChars(cfg.Pipeline.MinTextChars)), nil
}

func newSigner() *queue.Signer {
	return queue.NewSigner(cfg.Queue.SigningKey, cfg.Queue.Issuer, cfg.Queue.SignatureTTL)
}

// callbackDeliverer posts signed callbacks with enough headroom for a full
// worker run on the other end.
func callbackDeliverer() *queue.CallbackClient {
	return queue.NewCallbackClient(newSigner(), nil, logger)
}

// newPublisher returns the configured queue front and a closer for it.
func newPublisher() (queue.Publisher, io.Closer, error) {
	switch cfg.Queue.Driver {
	case "amqp":
		client, err := queue.DialAMQP(queue.AMQPConfigFromApp(cfg.Queue), logger)
		if err != nil {
			return nil, nil, err
		}
		if err := client.SetupTopology(); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return client, client, nil
	case "", "local":
		lp := queue.NewLocalPublisher(callbackDeliverer(), logger,
			queue.WithWorkers(cfg.Queue.Concurrency),
			queue.WithDeliveryTimeout(cfg.Pipeline.WorkerTimeout+time.Minute),
		)
		return lp, shutdownCloser{lp, cfg.Server.ShutdownTimeout}, nil
	}
	return nil, nil, fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
}

type shutdownCloser struct {
	lp      *queue.LocalPublisher
	timeout time.Duration
}

func (s shutdownCloser) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.lp.Shutdown(ctx)
	return nil
}

// newVerifier uses Redis for replay detection when configured, otherwise a
// per-process memory guard. The returned client is nil without Redis.
func newVerifier(ctx context.Context) (*queue.Verifier, *redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return queue.NewVerifier(cfg.Queue.SigningKey, cfg.Queue.Issuer, logger,
			queue.WithReplayGuard(queue.NewMemoryReplayGuard(), cfg.Redis.RejectReplays)), nil, nil
	}
	client, err := queue.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	guard := queue.NewRedisReplayGuard(client, cfg.Redis.Prefix)
	return queue.NewVerifier(cfg.Queue.SigningKey, cfg.Queue.Issuer, logger,
		queue.WithReplayGuard(guard, cfg.Redis.RejectReplays)), client, nil
}
