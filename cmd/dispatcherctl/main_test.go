package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/CorralNAS/dispatcher-client/internal/eventlog"
	"github.com/CorralNAS/dispatcher-client/internal/testsupport"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"call", "listen", "emit", "events", "config"} {
		found := false
		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestConfigShowPrintsResolvedConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, configPath, `
[connection]
socket_path = "/tmp/test-dispatcher.sock"
call_timeout_seconds = 5
`)

	out, err := executeCommand(t, "--config", configPath, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	var cfg struct {
		Connection struct {
			SocketPath string `json:"SocketPath"`
		} `json:"Connection"`
	}
	if err := json.Unmarshal([]byte(out), &cfg); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if cfg.Connection.SocketPath != "/tmp/test-dispatcher.sock" {
		t.Fatalf("socket path = %q", cfg.Connection.SocketPath)
	}
}

func TestCallCommandInvokesMethod(t *testing.T) {
	type wireEnvelope struct {
		Namespace string          `json:"namespace"`
		Name      string          `json:"name"`
		ID        *string         `json:"id"`
		Args      json.RawMessage `json:"args"`
	}

	peer := testsupport.NewFakeDispatcher(t, testsupport.WithFrameHandler(func(payload []byte) [][]byte {
		var env wireEnvelope
		if err := json.Unmarshal(payload, &env); err != nil || env.Name != "call" {
			return nil
		}
		args, _ := json.Marshal(map[string]string{"version": "10.2"})
		reply, _ := json.Marshal(wireEnvelope{Namespace: "rpc", Name: "response", ID: env.ID, Args: args})
		return [][]byte{reply}
	}))

	out, err := executeCommand(t, "--socket", peer.Path(), "call", "system.info")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !strings.Contains(out, `"version": "10.2"`) {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestCallCommandRejectsBadArgsJSON(t *testing.T) {
	if _, err := executeCommand(t, "call", "system.info", "{not json"); err == nil {
		t.Fatal("expected error for malformed args JSON")
	}
}

func TestEmitCommandSendsEventFrame(t *testing.T) {
	peer := testsupport.NewFakeDispatcher(t)

	if _, err := executeCommand(t, "--socket", peer.Path(), "emit", "alert.raised", `{"severity":"critical"}`); err != nil {
		t.Fatalf("emit: %v", err)
	}

	frame := <-peer.Frames()
	var env struct {
		Namespace string `json:"namespace"`
		Name      string `json:"name"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if env.Namespace != "events" || env.Name != "event" {
		t.Fatalf("frame = %s.%s, want events.event", env.Namespace, env.Name)
	}
}

func TestListenEventHandlerNeverBlocks(t *testing.T) {
	handler, events, dropped := bufferEvents(4)

	// Nothing drains the buffer here, mirroring a stalled listen loop. The
	// handler runs on the connection's event-loop goroutine and must return
	// regardless, or connection teardown would hang behind it.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			handler("volume.changed", nil)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event handler blocked with a full buffer")
	}

	if n := len(events); n != 4 {
		t.Fatalf("buffered %d events, want 4", n)
	}
	if n := dropped.Load(); n != 6 {
		t.Fatalf("dropped %d events, want 6", n)
	}
}

func TestEventsCommandReadsRecording(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	store, err := eventlog.Open(path)
	if err != nil {
		t.Fatalf("open event log: %v", err)
	}
	args, _ := json.Marshal(map[string]string{"volume": "tank"})
	if err := store.Append(context.Background(), "volume.changed", args); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close event log: %v", err)
	}

	out, err := executeCommand(t, "events", "--record-path", path, "--json")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var views []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(out), &views); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if len(views) != 1 || views[0].Name != "volume.changed" {
		t.Fatalf("unexpected events output: %q", out)
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
