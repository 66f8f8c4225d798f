package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggoodman/agent-jsonrpc-go/config"
	"github.com/ggoodman/agent-jsonrpc-go/internal/codec"
	"github.com/ggoodman/agent-jsonrpc-go/session"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	tracePath  string

	cfg    config.Config
	log    *slog.Logger
	level  *slog.LevelVar
	tracer *codec.WriterTracer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "agent",
		Short:         "Drive or serve the agent JSON-RPC protocol",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.tracer != nil {
				return a.tracer.Close()
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "config file (.json, .yaml, .yml or .toml)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: text or json")
	pf.StringVar(&a.tracePath, "trace", "", "append every frame body to this file")

	root.AddCommand(
		newJSONRPCCmd(a),
		newCallCmd(a),
		newMethodsCmd(),
		newVersionCmd(),
	)
	return root
}

// load resolves the configuration: file, then environment, then flags.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if flags.Changed("trace") {
		cfg.Trace.Path = a.tracePath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := new(slog.LevelVar)
	log, err := cfg.Log.NewLogger(cmd.ErrOrStderr(), level)
	if err != nil {
		return err
	}
	a.cfg, a.log, a.level = cfg, log, level

	if cfg.Trace.Path != "" {
		t, err := codec.NewFileTracer(cfg.Trace.Path)
		if err != nil {
			return err
		}
		a.tracer = t
	}
	return nil
}

// watchConfig follows edits to the config file for the lifetime of ctx. Only
// the log level is applied live, and only when --log-level did not pin it;
// the rest is bound into the session when it starts.
func (a *app) watchConfig(ctx context.Context, cmd *cobra.Command) error {
	if a.configPath == "" || cmd.Flags().Changed("log-level") {
		return nil
	}
	w, err := config.NewWatcher(a.configPath, a.log)
	if err != nil {
		return err
	}
	go w.Run(ctx, func(cfg config.Config) {
		if err := cfg.Log.SetLevel(a.level); err != nil {
			a.log.WarnContext(ctx, "config.reload.level", slog.String("err", err.Error()))
			return
		}
		a.log.DebugContext(ctx, "config.reload.applied", slog.String("level", a.level.Level().String()))
	})
	return nil
}

// sessionOptions translates the configuration into session options.
func (a *app) sessionOptions() []session.Option {
	opts := []session.Option{
		session.WithLogger(a.log),
		session.WithMaxFrameBytes(a.cfg.MaxFrameBytes),
		session.WithHandshakeTimeout(time.Duration(a.cfg.Timeouts.Handshake)),
		session.WithShutdownTimeout(time.Duration(a.cfg.Timeouts.Shutdown)),
	}
	if a.tracer != nil {
		opts = append(opts, session.WithTracer(a.tracer))
	}
	return opts
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "agent version %s\n", version)
			return err
		},
	}
}
