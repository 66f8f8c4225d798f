package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ggoodman/agent-jsonrpc-go/protocol"
	"github.com/ggoodman/agent-jsonrpc-go/session"
)

func newCallCmd(a *app) *cobra.Command {
	var streamMethod string
	cmd := &cobra.Command{
		Use:   "call <method> [params-json]",
		Short: "Spawn a worker, send one request and print the result",
		Long: "Spawn a worker, perform the handshake, send one request and print its result.\n" +
			"With --stream, every notification on the given method is printed until the\n" +
			"terminating null payload arrives. Without a configured agent command this\n" +
			"binary is spawned with the jsonrpc subcommand.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params any
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("params are not valid JSON: %s", args[1])
				}
				params = json.RawMessage(args[1])
			}
			return a.call(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), protocol.Method(args[0]), params, protocol.Method(streamMethod))
		},
	}
	cmd.Flags().StringVar(&streamMethod, "stream", "", "notification method carrying streamed output")
	return cmd
}

func (a *app) call(ctx context.Context, out, stderr io.Writer, method protocol.Method, params any, stream protocol.Method) error {
	lc, err := a.launchConfig(stderr)
	if err != nil {
		return err
	}
	info, err := a.clientInfo()
	if err != nil {
		return err
	}

	s, err := session.Start(ctx, lc, info, a.sessionOptions()...)
	if err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer func() {
		if err := s.Dispose(context.WithoutCancel(ctx)); err != nil {
			a.log.WarnContext(ctx, "agent.dispose.err", slog.String("err", err.Error()))
		}
	}()

	if stream != "" {
		return s.Stream(ctx, method, params, stream, func(raw json.RawMessage) {
			_, _ = fmt.Fprintln(out, string(raw))
		})
	}

	var result json.RawMessage
	if err := s.Call(ctx, method, params, &result); err != nil {
		return err
	}
	return printJSON(out, result)
}

func (a *app) launchConfig(stderr io.Writer) (session.LaunchConfig, error) {
	lc := session.LaunchConfig{
		Command: a.cfg.Agent.Command,
		Args:    a.cfg.Agent.Args,
		Dir:     a.cfg.Agent.Dir,
		Env:     a.cfg.Agent.Env,
		Stderr:  stderr,
	}
	if lc.Command != "" {
		return lc, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return session.LaunchConfig{}, fmt.Errorf("locate agent binary: %w", err)
	}
	lc.Command = exe
	lc.Args = []string{"jsonrpc", "--log-level", a.cfg.Log.Level, "--log-format", a.cfg.Log.Format}
	return lc, nil
}

func (a *app) clientInfo() (protocol.ClientInfo, error) {
	info := protocol.ClientInfo{
		Name:             a.cfg.Client.Name,
		Version:          a.cfg.Client.Version,
		WorkspaceRootURI: a.cfg.Client.WorkspaceRootURI,
	}
	if info.WorkspaceRootURI != "" {
		return info, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return protocol.ClientInfo{}, fmt.Errorf("workspace root: %w", err)
	}
	info.WorkspaceRootURI = "file://" + filepath.ToSlash(wd)
	return info, nil
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return errors.Join(errors.New("worker returned invalid JSON"), err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
