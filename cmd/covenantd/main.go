// covenantd serves the commitment escrow and attestation engine over HTTP.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/covenant-labs/covenant/pkg/api"
	"github.com/covenant-labs/covenant/pkg/asset"
	"github.com/covenant-labs/covenant/pkg/attestation"
	"github.com/covenant-labs/covenant/pkg/auth"
	"github.com/covenant-labs/covenant/pkg/commitment"
	"github.com/covenant-labs/covenant/pkg/config"
	"github.com/covenant-labs/covenant/pkg/events"
	"github.com/covenant-labs/covenant/pkg/receipt"
	"github.com/covenant-labs/covenant/pkg/store"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)

	kv, closer, err := openStore(cfg)
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	presets, err := config.LoadPresets(cfg.PresetsPath)
	if err != nil {
		logger.Error("load presets", "error", err)
		os.Exit(1)
	}

	var authz auth.Authorizer = auth.Static{}
	var resolve func(string) (string, error)
	if cfg.AuthSecret != "" {
		j := auth.NewJWT([]byte(cfg.AuthSecret))
		authz = j
		resolve = j.Subject
	}

	// The asset collaborator is external in production; the in-process bank
	// stands in until a chain or custodian client is wired.
	bank := asset.NewMemoryBank()

	log := events.NewLog()
	ledger := commitment.NewLedger(kv, bank, authz,
		commitment.WithEventLog(log),
		commitment.WithMinter(receipt.NewMemoryMinter()),
		commitment.WithEscrowAccount(cfg.EscrowAccount),
		commitment.WithAdmin(cfg.Admin),
		commitment.WithOracles(cfg.Admin),
		commitment.WithAllocators(cfg.Admin),
	)
	engine := attestation.NewEngine(kv, ledger, authz,
		attestation.WithEventLog(log),
		attestation.WithAdmin(cfg.Admin),
	)

	var limiter api.Limiter
	if cfg.RedisAddr != "" {
		limiter = api.NewRedisLimiter(cfg.RedisAddr, cfg.RateRPS, time.Second)
	} else {
		limiter = api.NewLocalLimiter(cfg.RateRPS, cfg.RateBurst)
	}

	server := api.NewServer(ledger, engine, presets, logger)
	handler := api.Authenticate(resolve)(api.RateLimit(limiter)(server.Routes()))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("covenantd listening", "addr", cfg.Addr, "driver", cfg.DatabaseDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func openStore(cfg *config.Config) (store.KV, *sql.DB, error) {
	switch cfg.DatabaseDriver {
	case "memory":
		return store.NewMemory(), nil, nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		kv, err := store.NewPostgresKV(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return kv, db, nil
	default:
		db, err := sql.Open("sqlite", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		kv, err := store.NewSQLiteKV(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return kv, db, nil
	}
}
