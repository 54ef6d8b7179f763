package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/prefd/internal/api"
	"github.com/kalambet/prefd/internal/config"
	"github.com/kalambet/prefd/internal/ipc"
	"github.com/kalambet/prefd/internal/persistent"
)

const cliOrigin = "cli"

// --- get ---

var getCmd = &cobra.Command{
	Use:   "get <store> [key]",
	Short: "Print a store or one of its keys",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		s, err := newSession(cliOrigin)
		if err != nil {
			return err
		}
		return runGet(cmd.Context(), s, cmd.OutOrStdout(), args, format)
	},
}

func runGet(ctx context.Context, s *session, w io.Writer, args []string, format string) error {
	if err := s.sync(ctx); err != nil {
		return err
	}
	st, err := s.store(args[0])
	if err != nil {
		return err
	}
	if len(args) == 1 {
		return writeValue(w, format, st.Data())
	}
	data := st.Data()
	v, ok := data[args[1]]
	if !ok {
		return fmt.Errorf("%s has no key %q", args[0], args[1])
	}
	return writeValue(w, format, v)
}

// --- set ---

var setCmd = &cobra.Command{
	Use:   "set <store> <key> <value>",
	Short: "Change a preference",
	Long: `Change a preference through the primary.

The value is parsed as JSON; anything that is not valid JSON is stored as a
string.

Examples:
  prefd set settings theme dark
  prefd set settings autoUpdate false
  prefd set session windowBounds '{"x":0,"y":0,"width":1280,"height":800}'`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cliOrigin)
		if err != nil {
			return err
		}
		return runSet(cmd.Context(), s, args)
	},
}

func runSet(ctx context.Context, s *session, args []string) error {
	name, key, raw := args[0], args[1], args[2]
	if err := s.sync(ctx); err != nil {
		return err
	}
	st, err := s.store(name)
	if err != nil {
		return err
	}
	if err := st.Set(ctx, key, api.ParseValue(raw)); err != nil {
		return err
	}
	printSuccess("Set %s.%s = %s", name, key, raw)
	return nil
}

// --- show ---

var showCmd = &cobra.Command{
	Use:   "show [store...]",
	Short: "Print every store, or the named ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		s, err := newSession(cliOrigin)
		if err != nil {
			return err
		}
		return runShow(cmd.Context(), s, cmd.OutOrStdout(), args, format)
	},
}

func runShow(ctx context.Context, s *session, w io.Writer, names []string, format string) error {
	if err := s.sync(ctx); err != nil {
		return err
	}
	if len(names) == 0 {
		names = s.registry.Names()
	}
	out := make(map[string]persistent.Props, len(names))
	for _, name := range names {
		st, err := s.store(name)
		if err != nil {
			return err
		}
		out[name] = st.Data()
	}
	return writeValue(w, format, out)
}

func init() {
	for _, c := range []*cobra.Command{getCmd, showCmd} {
		c.Flags().String("format", "json", "output format: json or yaml")
	}
}

// --- watch ---

var watchCmd = &cobra.Command{
	Use:   "watch [store]",
	Short: "Stream store changes as they are committed",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		useNATS, _ := cmd.Flags().GetBool("nats")
		s, err := newSession(cliOrigin)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		filter := ""
		if len(args) == 1 {
			filter = args[0]
		}

		follow := followFunc(s.client.Follow)
		if useNATS {
			if s.cfg.Transport.NATSURL == "" {
				return errors.New("transport.nats_url is not configured")
			}
			nc, err := ipc.DialNATS(s.cfg.Transport.NATSURL, nil)
			if err != nil {
				return err
			}
			defer nc.Close()
			follow = nc.Follow
		}
		return runWatch(ctx, s, cmd.OutOrStdout(), filter, follow)
	},
}

// followFunc streams broadcasts to fn, calling resync whenever the stream
// (re)opens so the mirrors never miss a change.
type followFunc func(ctx context.Context, resync func(context.Context) error, fn func(persistent.Notification)) error

func runWatch(ctx context.Context, s *session, w io.Writer, filter string, follow followFunc) error {
	if filter != "" {
		if _, err := s.store(filter); err != nil {
			return err
		}
	}
	if err := s.sync(ctx); err != nil {
		return err
	}
	printStep("Watching for changes (Ctrl-C to stop)")

	err := follow(ctx, s.sync, func(n persistent.Notification) {
		if filter != "" && n.Store != filter {
			return
		}
		if err := s.registry.Dispatch(n); err != nil {
			printWarning("%v", err)
			return
		}
		fmt.Fprintf(w, "%s %s = %s\n",
			colorize(colorCyan, time.Now().Format(time.TimeOnly)),
			colorize(colorBold, n.Store+"."+n.Key),
			n.Value,
		)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func init() {
	watchCmd.Flags().Bool("nats", false, "receive broadcasts from NATS instead of the primary's event stream")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history [store]",
	Short: "List recent committed changes",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		s, err := newSession(cliOrigin)
		if err != nil {
			return err
		}
		store := ""
		if len(args) == 1 {
			store = args[0]
		}
		return runHistory(cmd.Context(), s, cmd.OutOrStdout(), store, limit)
	},
}

func runHistory(ctx context.Context, s *session, w io.Writer, store string, limit int) error {
	entries, err := s.client.History(ctx, store, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No changes recorded.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s  %-10s %s = %s\n",
			colorize(colorCyan, e.CreatedAt.Local().Format(time.DateTime)),
			e.Origin,
			colorize(colorBold, e.Store+"."+e.Key),
			e.Value,
		)
	}
	return nil
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of changes to list")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %v)", err, config.ValidKeys())
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the stores to an MCP client over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession("mcp")
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Fail fast when the primary is down. The follower syncs again once
		// its stream is open and after every reconnect.
		if err := s.sync(ctx); err != nil {
			return err
		}
		go func() {
			err := s.client.Follow(ctx, s.sync, func(n persistent.Notification) {
				if err := s.registry.Dispatch(n); err != nil {
					printWarning("%v", err)
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				printWarning("event stream closed: %v", err)
			}
		}()

		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Registry: s.registry,
			History:  clientHistory{s.client},
			Version:  version,
		})
		err = server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

// clientHistory serves MCP history requests from the primary.
type clientHistory struct {
	client *ipc.Client
}

func (h clientHistory) Recent(ctx context.Context, store string, limit int) ([]api.MCPChange, error) {
	entries, err := h.client.History(ctx, store, limit)
	if err != nil {
		return nil, err
	}
	changes := make([]api.MCPChange, len(entries))
	for i, e := range entries {
		changes[i] = api.MCPChange{
			Store:  e.Store,
			Key:    e.Key,
			Value:  e.Value,
			Origin: e.Origin,
			At:     e.CreatedAt.Format(time.RFC3339),
		}
	}
	return changes, nil
}
