package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/yourorg/remediation-reconciler/internal/app"
	"github.com/yourorg/remediation-reconciler/internal/config"
	"github.com/yourorg/remediation-reconciler/internal/logging"
	"github.com/yourorg/remediation-reconciler/internal/worker"
)

func main() {
	// Load environment variables from .env files if present.
	// Try current directory and one level up (in case run from cmd/worker).
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	once := flag.Bool("once", false, "run one scan and fix sweep and exit")
	flag.Parse()

	cfg, err := config.Load()
	log := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = a.Close() }()

	r := worker.NewRunner(cfg.SweepInterval, log, a.ScanSweeper, a.FixSweeper)
	if *once {
		r.RunOnce(ctx)
		return
	}

	// healthz checks both databases with a 2s timeout; returns 503 if unreachable
	if addr := cfg.HTTPAddr; addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				pingCtx, pingCancel := context.WithTimeout(r.Context(), 2*time.Second)
				defer pingCancel()
				w.Header().Set("Content-Type", "application/json")
				if err := a.Ping(pingCtx); err != nil {
					log.Warnf("healthz: %v", err)
					w.WriteHeader(http.StatusServiceUnavailable)
					_, _ = w.Write([]byte(`{"status":"unhealthy","reason":"db unreachable"}`))
					return
				}
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(`{"status":"healthy"}`))
			})
			s := &http.Server{Addr: addr, Handler: mux}
			go func() {
				<-ctx.Done()
				shctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = s.Shutdown(shctx)
			}()
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("health server: %v", err)
			}
		}()
	}

	log.Infof("worker starting: scan=%s fix=%s every %s", a.ScanSweeper.Store.Location(), a.FixSweeper.Store.Location(), cfg.SweepInterval)
	if err := r.RunForever(ctx); err != nil {
		log.Fatal(err)
	}
}
