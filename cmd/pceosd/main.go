// Command pceosd is the composition root for a configured kernel: it
// loads a JSON kernel configuration, resolves task names against the
// built-in demo task registry, runs InitKernel, then drives the clock
// and the operator HTTP API as a group of peer goroutines under one
// cancellation signal via golang.org/x/sync/errgroup, with an audit
// sink installed as the kernel's Observer throughout.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/pceos/kernel/internal/audit"
	"github.com/pceos/kernel/internal/diag"
	"github.com/pceos/kernel/internal/kernel"
	"github.com/pceos/kernel/internal/kernelconfig"
	"github.com/pceos/kernel/internal/opsapi"
)

func main() {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	log := zap.Must(logConfig.Build())
	defer log.Sync()
	log = log.Named("pceosd")

	configPath := os.Getenv("PCEOS_CONFIG")
	if configPath == "" {
		configPath = "pceos.json"
	}
	f, err := os.Open(configPath)
	if err != nil {
		log.Fatal("open config", zap.Error(err), zap.String("path", configPath))
	}
	spec, err := kernelconfig.Decode(f)
	f.Close()
	if err != nil {
		log.Fatal("decode config", zap.Error(err))
	}

	reg := buildDemoRegistry()

	auditAddr := envOr("PCEOS_AUDIT_REDIS_ADDR", "127.0.0.1:6379")
	sink := audit.NewSink(auditAddr, 0, "pceos:audit", log)
	defer sink.Close()

	k, err := kernelconfig.Build(spec, reg, sink)
	if err != nil {
		log.Error("build kernel configuration failed", zap.String("chain", diag.ChainString(err)))
		os.Exit(1)
	}

	if err := kernel.InitKernel(k); err != nil {
		log.Error("InitKernel rejected configuration", zap.String("chain", diag.ChainString(err)))
		os.Exit(1)
	}
	log.Info("kernel initialized", zap.Int("supervisor_pid", k.SupervisorPID()))

	sessionAddr := envOr("PCEOS_SESSION_REDIS_ADDR", auditAddr)
	sessions, err := opsapi.NewSessionStore(os.Getenv("ENV") == "dev", sessionAddr, sessionSecret())
	if err != nil {
		log.Fatal("new session store", zap.Error(err))
	}

	router := opsapi.NewRouter(opsapi.Deps{
		Kernel:        k,
		Log:           log,
		Sessions:      sessions,
		AdminUser:     envOr("PCEOS_ADMIN_USER", "supervisor"),
		AdminPass:     envOr("PCEOS_ADMIN_PASS", "change-me"),
		MaxConcurrent: 8,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		clock := kernel.NewRealTimeClock(spec.TickPeriodUs)
		kernel.RunClock(gctx, k, clock)
		return nil
	})

	srv := &http.Server{Addr: envOr("PCEOS_OPS_ADDR", ":8090"), Handler: router}
	g.Go(func() error {
		return runHTTPServer(gctx, srv)
	})

	if err := g.Wait(); err != nil {
		log.Error("daemon exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("daemon stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func sessionSecret() string {
	if v := os.Getenv("PCEOS_SESSION_SECRET"); v != "" {
		return v
	}
	return "dev-only-session-secret-change-me"
}

// runHTTPServer serves srv until ctx is cancelled, then shuts it down
// with a bounded grace period -- gin.Engine has no native shutdown
// hook, so the operator surface is served through a plain *http.Server
// wrapping its Handler instead of gin.Engine.Run.
func runHTTPServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
