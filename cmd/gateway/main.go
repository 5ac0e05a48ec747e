// Command auth-gateway exposes the auth worker as a JSON HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/and161185/authcore/internal/config"
	"github.com/and161185/authcore/internal/gateway"
	"github.com/and161185/authcore/internal/obs"
	"github.com/and161185/authcore/internal/rpc/authv1"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	configFile := flag.String("config", "", "YAML config file (default: ./config.yaml if present)")
	envFile := flag.String("env-file", "", "dotenv file loaded before the environment (default: ./.env if present)")
	flag.Parse()

	cfg, err := config.LoadGateway(config.Source{ConfigFile: *configFile, EnvFile: *envFile})
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	var logger *zap.Logger
	if cfg.Development() {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		logger = zap.NewNop()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.HTTPAddr),
		zap.String("worker", cfg.WorkerAddr),
	)

	creds := insecure.NewCredentials()
	if cfg.WorkerTLSCA != "" {
		creds, err = credentials.NewClientTLSFromFile(cfg.WorkerTLSCA, "")
		if err != nil {
			logger.Fatal("load worker CA", zap.Error(err))
		}
	}
	cc, err := grpc.NewClient(cfg.WorkerAddr, grpc.WithTransportCredentials(creds))
	if err != nil {
		logger.Fatal("dial worker", zap.Error(err))
	}
	defer func() { _ = cc.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gw := gateway.New(gateway.Deps{
		Worker:   authv1.NewAuthServiceClient(cc),
		Health:   healthpb.NewHealthClient(cc),
		Logger:   logger,
		Metrics:  obs.NewHTTPMetrics(reg),
		Gatherer: reg,
	}, gateway.Options{
		WorkerTimeout:  cfg.WorkerTimeout,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		CORSOrigins:    cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           gw.Router(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
			_ = srv.Close()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
