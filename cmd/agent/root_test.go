package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggoodman/agent-jsonrpc-go/protocol"
	"github.com/ggoodman/agent-jsonrpc-go/session"
)

// When set, the test binary behaves like the agent command itself so that
// `call` can spawn it as a worker.
const asAgentEnv = "AGENT_CLI_TEST_AS_AGENT"

func TestMain(m *testing.M) {
	if os.Getenv(asAgentEnv) != "" {
		root := newRootCmd()
		root.SetArgs(os.Args[1:])
		if err := root.Execute(); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(""))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "agent version "+version+"\n", out)
}

func TestMethods(t *testing.T) {
	out, _, err := run(t, "methods")
	require.NoError(t, err)
	assert.Contains(t, out, "Method")
	assert.Contains(t, out, "initialize")
	assert.Contains(t, out, "chat/updateMessageInProgress")
	for _, m := range protocol.Methods {
		assert.Contains(t, out, string(m.Method))
	}
}

func TestInvalidLogFormat(t *testing.T) {
	_, _, err := run(t, "--log-format", "xml", "version")
	assert.Error(t, err)
}

func TestCall_RejectsInvalidParams(t *testing.T) {
	_, _, err := run(t, "call", "echo", "{not json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestJSONRPC_ServesWorker(t *testing.T) {
	clientConn, workerConn := session.Pipe()

	// The level comes from a watched config file rather than a flag.
	cfgPath := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log:\n  level: error\n"), 0o600))

	root := newRootCmd()
	root.SetArgs([]string{"jsonrpc", "--config", cfgPath})
	root.SetIn(workerConn)
	root.SetOut(workerConn)
	root.SetErr(&bytes.Buffer{})

	served := make(chan error, 1)
	go func() { served <- root.ExecuteContext(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := session.Connect(ctx, clientConn, protocol.ClientInfo{Name: "x", Version: "0.0.1", WorkspaceRootURI: "file:///tmp"})
	require.NoError(t, err)
	require.NotNil(t, s.ServerInfo())
	require.NotNil(t, s.ServerInfo().CodyVersion)
	assert.Equal(t, version, *s.ServerInfo().CodyVersion)

	var out protocol.EchoParams
	require.NoError(t, s.Call(ctx, protocol.EchoMethod, protocol.EchoParams{Msg: "hi"}, &out))
	assert.Equal(t, "hi", out.Msg)

	require.NoError(t, s.Dispose(ctx))
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("jsonrpc command did not return after exit")
	}
}

func TestCall_SpawnsWorker(t *testing.T) {
	t.Setenv(asAgentEnv, "1")

	out, _, err := run(t, "--log-level", "error", "call", "echo", `{"msg":"hi"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"msg":"hi"}`, out)
}

func TestCall_Stream(t *testing.T) {
	t.Setenv(asAgentEnv, "1")

	out, _, err := run(t, "--log-level", "error", "call", "recipes/execute",
		`{"id":"chat-question","humanChatInput":"sum"}`,
		"--stream", "chat/updateMessageInProgress")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.JSONEq(t, `{"speaker":"assistant","text":"You asked: sum"}`, lines[2])
}
