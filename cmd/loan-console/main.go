// cmd/loan-console/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"loanops-console/internal/common/config"
	"loanops-console/internal/common/database"
	"loanops-console/internal/common/logger"
	"loanops-console/internal/common/observability"
	"loanops-console/internal/contract"
	"loanops-console/internal/decisionservice"
	"loanops-console/internal/orchestration"
	"loanops-console/internal/session"
	"loanops-console/internal/transcript"
	"loanops-console/internal/typewriter"
)

const (
	sessionKey     = "loanops:session"
	typewriterStep = 2
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting loan console...",
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Session store ---
	var store session.Store = session.NewMemoryStore()
	if cfg.Session.Store == "redis" {
		rdb := database.NewRedis(cfg.Database.Redis)
		err = retryWithBackoff(func() error {
			return rdb.Ping(ctx)
		}, 5, time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer rdb.Close()
		store = session.NewRedisStore(rdb, sessionKey, cfg.Session.Lifetime())
		zapLog.Info("Redis session store connected")
	}
	sessions := session.NewManager(store, cfg.Session.Lifetime(), cfg.DecisionService.Token, log)

	// --- Decision Service client ---
	client := decisionservice.New(decisionservice.LoadConfig(cfg.DecisionService), sessions.Token, obs, log)
	zapLog.Info("Decision Service client ready", zap.String("baseURL", client.BaseURL()))

	// --- Transcript sink (optional) ---
	var sink *transcript.Sink
	if cfg.Transcript.Enabled {
		var pg *database.PostgresClient
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.ConnectPostgres(ctx, cfg.Database.Postgres)
			return err
		}, 5, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()

		sink = transcript.New(pg, log)
		if err := sink.EnsureSchema(ctx); err != nil {
			zapLog.Fatal("transcript schema failed", zap.Error(err))
		}
		zapLog.Info("Transcript sink enabled")
	}

	// --- Playback and typewriter ---
	lo, hi := cfg.Orchestration.DelayRange()
	sequencer := orchestration.NewSequencer(orchestration.TimerScheduler{}, lo, hi, log)

	var animator *typewriter.Animator
	if cfg.Typewriter.Enabled {
		animator = typewriter.New(orchestration.TimerScheduler{}, config.GetDuration(cfg.Typewriter.Interval), typewriterStep)
	}

	// --- Health & Metrics Server ---
	srv := newMetricsServer(cfg.Metrics.Addr, client)
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("addr", cfg.Metrics.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	console := NewConsole(ConsoleOptions{
		Backend:    client,
		Sessions:   sessions,
		Sequencer:  sequencer,
		Transcript: sink,
		Animator:   animator,
		Logger:     log,
		In:         os.Stdin,
		Out:        os.Stdout,
	})
	if err := console.Run(ctx); err != nil {
		zapLog.Error("console stopped with error", zap.Error(err))
	}

	// --- Graceful Shutdown ---
	zapLog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping metrics server", zap.Error(err))
	}
	zapLog.Info("Loan console stopped gracefully")
}

type healthChecker interface {
	Health(ctx context.Context) (*contract.Health, error)
}

func newMetricsServer(addr string, svc healthChecker) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy", "")
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if _, err := svc.Health(ctx); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "not_ready", err.Error())
			return
		}
		writeStatus(w, http.StatusOK, "ready", "")
	})
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func writeStatus(w http.ResponseWriter, code int, status, detail string) {
	body := map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	}
	if detail != "" {
		body["error"] = detail
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
