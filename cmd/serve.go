package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neovim/go-client/nvim"
	"github.com/samsaffron/nvim-llm/internal/config"
	"github.com/samsaffron/nvim-llm/internal/host"
	"github.com/samsaffron/nvim-llm/internal/logging"
	"github.com/samsaffron/nvim-llm/internal/plugin"
	"github.com/samsaffron/nvim-llm/internal/usage"
	"github.com/spf13/cobra"
)

// handlerName is the RPC request the Lua side sends:
// vim.rpcrequest(chan, "llm_handle", method, payload)
const handlerName = "llm_handle"

var (
	serveLuaModule       string
	serveShutdownTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve Neovim over stdio",
	Long: `Serve speaks msgpack-rpc on stdin/stdout. It is meant to be started by
Neovim with jobstart(..., { rpc = true }), not run by hand.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	for _, c := range []*cobra.Command{rootCmd, serveCmd} {
		c.Flags().StringVar(&serveLuaModule, "lua-module", host.DefaultLuaModule, "Lua module implementing windows and host templates")
		c.Flags().DurationVar(&serveShutdownTimeout, "shutdown-timeout", 5*time.Second, "How long to wait for running jobs on exit")
	}
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	store, err := loadStore()
	if err != nil {
		return err
	}
	cfg := store.Current()

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Close()

	v, err := nvim.New(os.Stdin, os.Stdout, os.Stdout, func(format string, args ...any) {
		logger.Debug(fmt.Sprintf(format, args...))
	})
	if err != nil {
		return fmt.Errorf("failed to start rpc: %w", err)
	}
	defer v.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := plugin.Options{
		Config: store,
		Logger: logger.Logger,
		OnConfigChange: func(cfg config.Config) {
			logger.Apply(cfg.Log)
		},
	}
	logs, idx, err := openChatLogs(cfg)
	if err != nil {
		logger.Warn("saved chats unavailable", "error", err)
	} else {
		defer idx.Close()
		opts.Logs = logs
	}
	if cfg.Usage.Enabled {
		opts.Ledger = usage.NewLogger(cfg.Usage.Dir)
	}

	// Requests arriving before the app is built wait for it. The host
	// needs Serve running to create its namespace.
	var app *plugin.App
	ready := make(chan struct{})
	if err := v.RegisterHandler(handlerName, func(method string, payload map[string]any) (any, error) {
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		res, err := app.Handle(ctx, method, payload)
		if err != nil {
			return nil, err
		}
		return plugin.ToWire(res)
	}); err != nil {
		return fmt.Errorf("failed to register handler: %w", err)
	}

	errc := make(chan error, 1)
	go func() { errc <- v.Serve() }()

	h, err := host.NewNvim(v, serveLuaModule)
	if err != nil {
		return err
	}
	opts.Host = h
	app = plugin.New(ctx, opts)
	close(ready)

	store.Watch(func(err error) {
		logger.Warn("config reload rejected", "error", err)
		_ = h.Notify(ctx, "nvim-llm: config reload rejected: "+err.Error(), host.LevelWarn)
	})
	logger.Info("serving", "version", Version, "config", store.ConfigFile(), "pid", os.Getpid())

	select {
	case err = <-errc:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
	defer cancel()
	if serr := app.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("shutdown", "error", serr)
	}
	logger.Info("stopped")
	return err
}
