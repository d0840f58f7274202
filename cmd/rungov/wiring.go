package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"

	"github.com/user/rungov/internal/alert"
	"github.com/user/rungov/internal/config"
	"github.com/user/rungov/internal/feasibility"
	"github.com/user/rungov/internal/orchestrator"
	"github.com/user/rungov/internal/ratelimit"
	"github.com/user/rungov/internal/safety"
	"github.com/user/rungov/internal/state"
	"github.com/user/rungov/internal/telegram"
	"github.com/user/rungov/internal/types"
	"github.com/user/rungov/internal/workflow"
	"github.com/user/rungov/internal/workflow/pgstore"
	"github.com/user/rungov/pkg/cam"
	"github.com/user/rungov/pkg/cam/httpcam"
)

// app holds every wired component. close releases external connections.
type app struct {
	cfg       *config.Config
	artifacts *state.ArtifactStore
	registry  *feasibility.Registry
	gate      *safety.Gate
	orch      *orchestrator.Orchestrator
	sessions  *workflow.Manager
	alerts    *alert.Registry
	telegram  *telegram.Adapter
	closers   []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	a := &app{
		cfg:       cfg,
		artifacts: state.NewArtifactStore(cfg.DataDir),
		gate:      safety.NewGate(safety.Policy{AllowRedOverride: cfg.Safety.AllowRedOverride}),
		alerts:    alert.NewRegistry(),
	}

	reg, err := buildRegistry(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.registry = reg

	var sessionStore types.SessionStore = state.NewSessionStore(cfg.DataDir)
	if cfg.Postgres.DSN != "" {
		pg, err := pgstore.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres session store: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		sessionStore = pg
		slog.Info("workflow sessions stored in postgres")
	}
	a.sessions = workflow.NewManager(sessionStore, workflow.WithArtifacts(a.artifacts))

	a.alerts.Register("log:", alert.LogHandler)
	if cfg.Telegram.Token != "" {
		tg, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.ChatID, a.artifacts, a.sessions)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("create telegram adapter: %w", err)
		}
		a.telegram = tg
		a.alerts.Register(telegram.Prefix, tg.AlertHandler())
		if cfg.Telegram.ChatID != 0 {
			a.alerts.AddTarget(tg.Target())
		}
	}
	a.alerts.AddTarget("log:")

	var generator cam.Generator
	if cfg.CAM.BaseURL != "" {
		generator = httpcam.New(&cam.Config{
			BaseURL:        cfg.CAM.BaseURL,
			Token:          cfg.CAM.Token,
			TimeoutSeconds: cfg.CAM.TimeoutSeconds,
		})
	} else {
		slog.Warn("no CAM engine configured; runs that pass the gate will end in ERROR")
	}

	a.orch = orchestrator.New(a.artifacts, a.registry, a.gate, generator,
		orchestrator.WithMaxConcurrent(int64(cfg.MaxConcurrent)),
		orchestrator.WithNotifier(a.alerts),
	)
	return a, nil
}

// buildRegistry registers a limits evaluator per configured mode, then the
// policy bundle for every mode listed in policy_modes.
func buildRegistry(ctx context.Context, cfg *config.Config) (*feasibility.Registry, error) {
	reg := feasibility.NewRegistry()
	for mode, fields := range cfg.Limits {
		limits := make(map[string]feasibility.Limit, len(fields))
		for field, l := range fields {
			if l.Max <= 0 {
				return nil, fmt.Errorf("limits.%s.%s: max must be positive", mode, field)
			}
			limits[field] = feasibility.Limit{Warn: l.Warn, Max: l.Max}
		}
		reg.Register(mode, feasibility.NewLimitsEvaluator(limits))
	}

	if cfg.PolicyDir != "" {
		policy, err := feasibility.NewRegoEvaluator(ctx, cfg.PolicyDir)
		if err != nil {
			return nil, fmt.Errorf("load policy bundle: %w", err)
		}
		for _, mode := range cfg.PolicyModes {
			reg.Register(mode, policy)
		}
		slog.Info("feasibility policy loaded", "dir", cfg.PolicyDir, "policy_hash", policy.PolicyHash(), "modes", cfg.PolicyModes)
	}

	modes := reg.Modes()
	sort.Strings(modes)
	slog.Debug("feasibility modes registered", "modes", modes)
	return reg, nil
}

func buildLimiter(cfg *config.Config) (ratelimit.Limiter, func() error, error) {
	if cfg.Redis.Addr == "" {
		return ratelimit.NewMemoryLimiter(ratelimit.MemoryConfig{}), func() error { return nil }, nil
	}
	rl, err := ratelimit.NewRedisLimiter(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("create redis limiter: %w", err)
	}
	return rl, rl.Close, nil
}

// exitCode gives blocked runs a distinct status so scripts can tell a
// safety refusal from a failure.
func exitCode(err error) int {
	var se *types.SafetyBlockedError
	var ve *types.ValidationError
	switch {
	case errors.As(err, &se):
		return 3
	case errors.As(err, &ve):
		return 2
	default:
		return 1
	}
}

func parseChatID(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
