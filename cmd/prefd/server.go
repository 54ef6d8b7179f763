package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/prefd/internal/api"
	"github.com/kalambet/prefd/internal/config"
	"github.com/kalambet/prefd/internal/ipc"
	"github.com/kalambet/prefd/internal/journal"
	"github.com/kalambet/prefd/internal/metrics"
	"github.com/kalambet/prefd/internal/persistent"
	"github.com/kalambet/prefd/internal/stores"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the primary process (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running primary",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show prefd status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "prefd version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	apiToken, err := config.GetAPIToken()
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Only one primary may own the store files.
	pidPath := cfg.PIDFile()
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(cfg.BaseURL() + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("prefd is already running (PID %d)", pid)
			return fmt.Errorf("primary already running (PID %d)", pid)
		}
		printWarning("prefd is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("primary already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	hub := ipc.NewHub(logger, m.Subscribers)

	opts := []persistent.Option{
		persistent.WithObserver(m),
		persistent.WithLogger(logger),
	}

	var bus persistent.Broadcaster = hub
	if cfg.Transport.NATSURL != "" {
		nc, err := ipc.DialNATS(cfg.Transport.NATSURL, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := nc.Close(); err != nil {
				slog.Warn("closing NATS connection", "error", err)
			}
		}()
		bus = ipc.Multi{hub, nc}
	}
	opts = append(opts, persistent.WithBroadcaster(bus))

	deps := api.Deps{
		Hub:     hub,
		Metrics: m.Handler(),
		Token:   apiToken,
		Logger:  logger,
	}
	if cfg.History.Enabled {
		j, err := journal.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		defer func() {
			if err := j.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: closing history: %v\n", err)
			}
		}()
		opts = append(opts, persistent.WithJournal(j))
		deps.History = j
	}

	reg := persistent.NewRegistry(persistent.RolePrimary, opts...)
	if _, err := stores.Register(reg); err != nil {
		return err
	}
	if err := reg.Init(ctx, cfg.StoresDir()); err != nil {
		// Stores that loaded stay usable.
		slog.Error("store initialization incomplete", "error", err)
	}
	deps.Registry = reg

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "prefd listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := cfg.PIDFile()
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("prefd is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop prefd (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to prefd (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(cfg.BaseURL() + "/health")
	running := false
	if err != nil {
		printStatus("Primary", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Primary", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Primary", "error (HTTP %d)", resp.StatusCode)
		}
	}
	if pid, err := readPIDFile(cfg.PIDFile()); err == nil {
		printStatus("PID", "%d", pid)
	}

	if running {
		token, tokenErr := config.GetAPIToken()
		if tokenErr == nil {
			names, err := ipc.NewClient(cfg.BaseURL(), token).WithHTTPClient(client).Stores(context.Background())
			if err == nil {
				printStatus("Stores", "%s", strings.Join(names, ", "))
			}
		}
	}

	printStatus("Stores dir", "%s", cfg.StoresDir())
	if cfg.Transport.NATSURL != "" {
		printStatus("NATS", "%s", cfg.Transport.NATSURL)
	}
	printStatus("History", "%t", cfg.History.Enabled)
	return nil
}
