package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kalambet/prefd/internal/config"
	"github.com/kalambet/prefd/internal/ipc"
	"github.com/kalambet/prefd/internal/persistent"
	"github.com/kalambet/prefd/internal/stores"
)

// session is a secondary process attached to the running primary.
type session struct {
	cfg      config.Config
	client   *ipc.Client
	registry *persistent.Registry
}

var newSession = func(origin string) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	token, err := config.GetAPIToken()
	if err != nil {
		return nil, fmt.Errorf("getting API token: %w", err)
	}

	return attach(cfg, ipc.NewClient(cfg.BaseURL(), token), origin)
}

func attach(cfg config.Config, client *ipc.Client, origin string) (*session, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	client.WithLogger(logger)
	reg := persistent.NewRegistry(persistent.RoleSecondary,
		persistent.WithCaller(client),
		persistent.WithOrigin(origin),
		persistent.WithLogger(logger),
		persistent.WithBaseDir(cfg.StoresDir()),
	)
	if _, err := stores.Register(reg); err != nil {
		return nil, err
	}
	return &session{cfg: cfg, client: client, registry: reg}, nil
}

// sync fills every mirror from the primary.
func (s *session) sync(ctx context.Context) error {
	if err := s.registry.Sync(ctx); err != nil {
		return fmt.Errorf("reading stores from the primary: %w", err)
	}
	return nil
}

func (s *session) store(name string) (persistent.Store, error) {
	st, ok := s.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown store %q (known: %v)", name, s.registry.Names())
	}
	return st, nil
}
