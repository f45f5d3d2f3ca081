package main

import (
	"fmt"
	"log/slog"

	"github.com/carein/triageflow/internal/client"
	"github.com/carein/triageflow/internal/config"
	"github.com/carein/triageflow/internal/evaluation"
	"github.com/carein/triageflow/internal/events"
	"github.com/carein/triageflow/internal/identity"
	"github.com/carein/triageflow/internal/lockfile"
	"github.com/carein/triageflow/internal/referral"
	"github.com/carein/triageflow/internal/security"
	"github.com/carein/triageflow/internal/store"
	"github.com/carein/triageflow/internal/transcript"
)

// app wires the collaborators every store-backed command needs.
type app struct {
	cfg        *config.Config
	lock       *lockfile.Lock
	kv         store.KV
	bus        *events.Bus
	client     *client.Client
	gateway    *evaluation.Gateway
	cache      *security.Cache
	identity   *identity.Service
	referrals  *referral.Store
	transcript *transcript.Store
}

// openApp takes the state directory lock, then opens the store and builds the
// API collaborators on top of it.
func openApp(cfg *config.Config, command string) (*app, error) {
	lock, err := lockfile.AcquireLock(cfg.Store.StateDir, command)
	if err != nil {
		return nil, err
	}

	kv, err := store.Open(cfg.Store.DSN, cfg.Store.StateDir)
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	bus := events.NewBus()
	c := client.New(
		client.WithBaseURL(cfg.API.BaseURL),
		client.WithStore(kv),
		client.WithBus(bus),
		client.WithTimeout(cfg.API.Timeout),
		client.WithInsecureTLS(cfg.API.AllowSelfSignedCerts),
	)
	cache := security.NewCache(kv)

	slog.Debug("App opened", "command", command, "state_dir", cfg.Store.StateDir)
	return &app{
		cfg:        cfg,
		lock:       lock,
		kv:         kv,
		bus:        bus,
		client:     c,
		gateway:    evaluation.NewGateway(c),
		cache:      cache,
		identity:   identity.NewService(c, kv, cache),
		referrals:  referral.NewStore(kv),
		transcript: transcript.NewStore(kv),
	}, nil
}

func (a *app) links() referral.LinkBuilder {
	return referral.LinkBuilder{BaseURL: a.cfg.Referral.BaseURL, Path: a.cfg.Referral.Path}
}

// Close closes the store and releases the lock.
func (a *app) Close() {
	if err := a.kv.Close(); err != nil {
		slog.Warn("App store close failed", "error", err)
	}
	a.lock.Release()
}
