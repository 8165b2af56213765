// Package app assembles the dialer's services from configuration. Both the API
// server and dialerctl build on it so they see the same storage.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"campaign-dialer/internal/aggregator"
	"campaign-dialer/internal/audit"
	"campaign-dialer/internal/auth"
	"campaign-dialer/internal/calls"
	"campaign-dialer/internal/campaigns"
	"campaign-dialer/internal/config"
	"campaign-dialer/internal/events"
	"campaign-dialer/internal/executor"
	"campaign-dialer/internal/leads"
	"campaign-dialer/internal/pacing"
	"campaign-dialer/internal/pricing"
	"campaign-dialer/internal/script"
	"campaign-dialer/pkg/utils"
)

const redisPrefix = "dialer"

// App holds the wired services. Close releases the connections it opened.
type App struct {
	Config config.Config
	Log    *slog.Logger

	DB    *sql.DB
	Redis *redis.Client

	Bus        *events.Bus
	Auth       *auth.Manager
	Audit      *audit.Service
	Scripts    *script.Service
	Leads      *leads.Pool
	Campaigns  *campaigns.Service
	Calls      *calls.Manager
	Pacing     *pacing.Controller
	Aggregator *aggregator.Service
	Executor   executor.Executor
}

type repos struct {
	scripts   script.Repository
	leads     leads.Repository
	campaigns campaigns.Repository
	calls     calls.Repository
	audit     audit.Repository
	ledger    aggregator.Repository
}

// New opens storage and wires every service. Hooks are registered here so
// nothing observes traffic before the graph is complete.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	am, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	a.Auth = am

	rs, err := a.openRepos(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	policy := leads.DefaultOutcomePolicy()
	if len(cfg.Policy.Dispositions) > 0 {
		policy, err = leads.PolicyFromTable(cfg.Policy.Dispositions)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("disposition policy: %w", err)
		}
	}

	var gate pacing.SlotGate
	var window pacing.RateWindow
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.Redis = rdb
		gate = pacing.NewRedisGate(rdb, redisPrefix, cfg.Pacing.SlotTTL)
		window = pacing.NewRedisWindow(rdb, redisPrefix)
	}

	if cfg.Executor.BaseURL != "" {
		a.Executor = executor.NewHTTPClient(executor.HTTPConfig{
			BaseURL:         cfg.Executor.BaseURL,
			APIKey:          cfg.Executor.APIKey,
			CallbackBaseURL: cfg.Executor.CallbackBaseURL,
			Timeout:         cfg.Executor.Timeout,
			MaxRetryElapsed: cfg.Executor.MaxRetryElapsed,
		}, log)
	} else {
		a.Executor = executor.Unavailable{}
		log.Warn("EXECUTOR_BASE_URL not set; dials will fail until an executor is configured")
	}

	a.Bus = events.NewBus()
	a.Audit = audit.NewService(rs.audit)
	a.Scripts = script.NewService(rs.scripts)
	a.Leads = leads.NewPool(rs.leads, policy, log)
	a.Calls = calls.NewManager(rs.calls, pricing.NewBook(cfg.Policy.RateCards...), a.Scripts, a.Bus, log)
	a.Campaigns = campaigns.NewService(rs.campaigns, a.Scripts, a.Audit, a.Bus, log)
	a.Pacing = pacing.NewController(pacing.Deps{
		Campaigns: a.Campaigns,
		Leads:     a.Leads,
		Sessions:  a.Calls,
		Scripts:   a.Scripts,
		Executor:  a.Executor,
		Gate:      gate,
		Window:    window,
		Audit:     a.Audit,
		Publisher: a.Bus,
	}, pacing.Config{
		MinTick:          cfg.Pacing.MinTick,
		FailureThreshold: cfg.Pacing.FailureThreshold,
		StartTimeout:     cfg.Pacing.StartTimeout,
	}, log)
	a.Aggregator = aggregator.NewService(rs.ledger, rs.calls, a.Audit, a.Bus, cfg.RollupLocation(), log)

	a.Campaigns.OnStatusChange(a.Pacing)
	a.Calls.OnFinalized(a.Pacing.CallFinalized, a.markLead, a.Aggregator.OnCallFinalized)
	return a, nil
}

func (a *App) openRepos(ctx context.Context) (repos, error) {
	switch a.Config.Storage.Backend {
	case config.BackendPostgres:
		db, err := utils.OpenPostgres(ctx, "pgx", a.Config.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return repos{}, fmt.Errorf("postgres: %w", err)
		}
		a.DB = db
		return repos{
			scripts:   script.NewPostgresRepo(db),
			leads:     leads.NewPostgresRepo(db),
			campaigns: campaigns.NewPostgresRepo(db),
			calls:     calls.NewPostgresRepo(db),
			audit:     audit.NewPostgresRepo(db),
			ledger:    aggregator.NewPostgresRepo(db),
		}, nil
	default:
		a.Log.Warn("using in-memory storage; state is lost on restart")
		return repos{
			scripts:   script.NewMemoryRepo(),
			leads:     leads.NewMemoryRepo(),
			campaigns: campaigns.NewMemoryRepo(),
			calls:     calls.NewMemoryRepo(),
			audit:     audit.NewMemoryRepo(),
			ledger:    aggregator.NewMemoryRepo(),
		}, nil
	}
}

func (a *App) markLead(ctx context.Context, c calls.Call) {
	if _, err := a.Leads.MarkOutcome(ctx, c.LeadID, c.ID, c.Disposition); err != nil {
		a.Log.Error("lead outcome not applied", "call_id", c.ID, "lead_id", c.LeadID, "err", err)
	}
}

// Restore brings state back after a restart: open calls are re-registered,
// the rollup projection is replayed, then campaign loops start.
func (a *App) Restore(ctx context.Context) error {
	n, err := a.Calls.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover calls: %w", err)
	}
	entries, err := a.Aggregator.Load(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	a.Log.Info("state restored", "open_calls", n, "ledger_entries", entries)
	return a.Pacing.Start(ctx)
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
