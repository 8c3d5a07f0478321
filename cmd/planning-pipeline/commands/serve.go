package commands

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/dispatch"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/export"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/metrics"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/pipeline"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/repository"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/server"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/status"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, queue callback endpoint and gRPC health server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply the schema before serving")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	if serveMigrate {
		if err := repository.Migrate(ctx, st.drv, logger); err != nil {
			return err
		}
	}

	blobs, err := openBlobs(ctx)
	if err != nil {
		return err
	}
	adapter, err := newAdapter()
	if err != nil {
		return err
	}
	publisher, closePublisher, err := newPublisher()
	if err != nil {
		return err
	}
	defer func() { _ = closePublisher.Close() }()

	verifier, redisClient, err := newVerifier(ctx)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	m := metrics.New()
	dispatcher := dispatch.New(blobs, st.jobs, publisher, cfg.CallbackURL(), logger,
		dispatch.WithMaxUploadBytes(cfg.Pipeline.MaxUploadBytes),
		dispatch.WithMetrics(m),
	)
	worker := pipeline.NewWorker(st.jobs, st.docs, blobs, adapter, logger,
		pipeline.WithTimeout(cfg.Pipeline.WorkerTimeout),
		pipeline.WithReclaimAfter(cfg.Pipeline.ReclaimAfter),
		pipeline.WithMetrics(m),
	)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	api := server.NewAPI(server.Deps{
		Dispatcher:     dispatcher,
		Worker:         worker,
		Verifier:       verifier,
		Reader:         status.NewReader(st.jobs, st.docs, logger),
		Export:         export.NewService(st.jobs, st.docs, logger),
		Metrics:        m,
		Ping:           st.ping,
		MaxUploadBytes: cfg.Pipeline.MaxUploadBytes,
		Logger:         logger,
	})
	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcSrv, hs := server.NewGRPCServer()
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http.listen", "addr", cfg.Server.HTTPAddr, "callback_url", cfg.CallbackURL())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc.listen", "addr", cfg.Server.GRPCAddr)
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		server.WatchHealth(gctx, hs, st.ping, 10*time.Second, logger)
		return nil
	})
	if cfg.Pipeline.ReapInterval > 0 {
		reaper := pipeline.NewReaper(st.jobs, dispatcher, logger,
			pipeline.WithStaleAfter(cfg.Pipeline.StaleAfter),
			pipeline.WithReaperMetrics(m),
		)
		g.Go(func() error {
			logger.Info("reaper.start", "interval", cfg.Pipeline.ReapInterval, "stale_after", cfg.Pipeline.StaleAfter)
			reaper.Run(gctx, cfg.Pipeline.ReapInterval)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown.start")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		grpcSrv.GracefulStop()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("shutdown.done")
	return err
}
