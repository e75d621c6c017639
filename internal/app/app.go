// Package app wires configuration into the stores, sweepers and services
// shared by the worker daemon and reconctl.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/remediation-reconciler/internal/config"
	"github.com/yourorg/remediation-reconciler/internal/db"
	"github.com/yourorg/remediation-reconciler/internal/evidence"
	"github.com/yourorg/remediation-reconciler/internal/execsvc"
	"github.com/yourorg/remediation-reconciler/internal/exemption"
	"github.com/yourorg/remediation-reconciler/internal/ingest"
	"github.com/yourorg/remediation-reconciler/internal/inventory"
	"github.com/yourorg/remediation-reconciler/internal/orchestrator"
	s3c "github.com/yourorg/remediation-reconciler/internal/s3"
	"github.com/yourorg/remediation-reconciler/internal/scoring"
	"github.com/yourorg/remediation-reconciler/internal/vocab"
	"github.com/yourorg/remediation-reconciler/internal/worker"
)

type App struct {
	Config       config.Config
	Log          *logrus.Logger
	Store        *db.Store
	Inventory    *inventory.Reader
	Catalog      *inventory.CachedCatalog
	ScanSweeper  *ingest.Sweeper
	FixSweeper   *ingest.Sweeper
	Scores       *scoring.Engine
	Orchestrator *orchestrator.Orchestrator
	Exemptions   *exemption.Service
}

// Open connects to the fact store and the inventory and builds every
// service. The fact store is retried while it comes up.
func Open(ctx context.Context, cfg config.Config, log *logrus.Logger) (*App, error) {
	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := worker.Retry(ctx, 5, 200*time.Millisecond, func() error { return store.Ping(ctx) }); err != nil {
		store.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		if !isInsufficientPrivilege(err) {
			store.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		log.Warnf("ensure schema skipped due insufficient privilege: %v", err)
	}

	driver, dsn := cfg.InventoryDriver, cfg.InventoryDSN
	if dsn == "" {
		driver, dsn = "pgx", cfg.DatabaseURL
	}
	inv, err := inventory.Open(driver, dsn)
	if err != nil {
		store.Close()
		return nil, err
	}
	catalog, err := inventory.NewCachedCatalog(inv, cfg.CatalogCacheSize)
	if err != nil {
		store.Close()
		_ = inv.Close()
		return nil, err
	}

	table := vocab.Default()
	if cfg.StatusVocabulary != "" {
		if table, err = vocab.Load(cfg.StatusVocabulary); err != nil {
			store.Close()
			_ = inv.Close()
			return nil, fmt.Errorf("status vocabulary: %w", err)
		}
	}
	scanStore, fixStore, err := evidenceStores(cfg)
	if err != nil {
		store.Close()
		_ = inv.Close()
		return nil, err
	}
	scan := ingest.NewSweeper(ingest.KindScan, scanStore, inv, store, log).WithAllowList(cfg.ServerAllowList)
	fix := ingest.NewSweeper(ingest.KindFix, fixStore, inv, store, log).WithAllowList(cfg.ServerAllowList)
	scan.Vocabulary, fix.Vocabulary = table, table
	scan.Ledger, fix.Ledger = store, store

	scores := scoring.NewEngine(store, store, catalog, inv)
	orch := orchestrator.New(execsvc.New(cfg.JobAPIURL, cfg.JobAPITimeout), inv, catalog, store, store, scores, log)
	orch.Window = cfg.ReconcileWindow

	return &App{
		Config:       cfg,
		Log:          log,
		Store:        store,
		Inventory:    inv,
		Catalog:      catalog,
		ScanSweeper:  scan,
		FixSweeper:   fix,
		Scores:       scores,
		Orchestrator: orch,
		Exemptions:   exemption.New(store, inv, catalog, log),
	}, nil
}

func evidenceStores(cfg config.Config) (evidence.Store, evidence.Store, error) {
	if cfg.EvidenceBucket == "" {
		return evidence.NewDirStore(cfg.ScanEvidenceDir), evidence.NewDirStore(cfg.FixEvidenceDir), nil
	}
	objects, err := s3c.New(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3UseSSL)
	if err != nil {
		return nil, nil, fmt.Errorf("s3 client: %w", err)
	}
	return evidence.NewBucketStore(objects, cfg.EvidenceBucket, "scan/"),
		evidence.NewBucketStore(objects, cfg.EvidenceBucket, "fix/"), nil
}

// Ping checks both databases.
func (a *App) Ping(ctx context.Context) error {
	if err := a.Store.Ping(ctx); err != nil {
		return fmt.Errorf("fact store: %w", err)
	}
	if err := a.Inventory.Ping(ctx); err != nil {
		return fmt.Errorf("inventory: %w", err)
	}
	return nil
}

func (a *App) Close() error {
	var errs *multierror.Error
	if err := a.Inventory.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("inventory: %w", err))
	}
	a.Store.Close()
	return errs.ErrorOrNil()
}

func isInsufficientPrivilege(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42501"
}
