package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ggoodman/agent-jsonrpc-go/worker"
)

func newJSONRPCCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "jsonrpc",
		Short: "Serve the agent worker on stdin/stdout",
		Long: "Serve the agent worker on stdin/stdout. Messages are JSON-RPC 2.0 framed with\n" +
			"Content-Length headers. Diagnostics go to stderr. With --config, edits to the\n" +
			"file change the log level without a restart.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := a.watchConfig(ctx, cmd); err != nil {
				return err
			}

			w := worker.New(
				worker.WithIO(cmd.InOrStdin(), cmd.OutOrStdout()),
				worker.WithLogger(a.log),
				worker.WithVersion(version),
				worker.WithSessionOptions(a.sessionOptions()...),
			)
			return w.Serve(ctx)
		},
	}
}
