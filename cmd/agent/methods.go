package main

import (
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/ggoodman/agent-jsonrpc-go/protocol"
)

func newMethodsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "methods",
		Short: "Print the protocol method table as markdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeMethods(cmd.OutOrStdout(), protocol.Methods)
		},
	}
}

func writeMethods(w io.Writer, methods []protocol.MethodInfo) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithRenderer(renderer.NewMarkdown(tw.Rendition{Streaming: true})),
	)
	table.Header([]string{"Method", "Direction", "Kind", "Params", "Result", "Streams"})

	rows := make([][]string, 0, len(methods))
	for _, m := range methods {
		result := m.Result
		if m.Kind == protocol.Notification {
			result = "-"
		}
		streams := "-"
		if m.Streams != "" {
			streams = string(m.Streams)
		}
		rows = append(rows, []string{string(m.Method), string(m.Direction), string(m.Kind), m.Params, result, streams})
	}
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}
