package cmd

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/amurg-ai/supportdesk/hub/internal/config"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hub.json")
	doc := fmt.Sprintf(`{
		"server": {"addr": ":0"},
		"auth": {"jwt_secret": "test-secret-at-least-32-chars-long"},
		"storage": {"driver": "sqlite", "dsn": %q},
	}`, filepath.Join(dir, "desk.db"))
	if err := os.WriteFile(path, []byte(doc), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("test")
	out := &bytes.Buffer{}
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "supportdesk-hub test" {
		t.Errorf("version output = %q", out)
	}
}

func TestAgentAddAndList(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := execute(t, "password123\npassword123\n",
		"agent", "add", "-c", cfgPath, "--email", "Bob@Example.com", "--name", "Bob", "--admin")
	if err != nil {
		t.Fatalf("agent add: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Created admin bob@example.com") {
		t.Errorf("agent add output = %q", out)
	}

	// Duplicate email is rejected.
	if _, err := execute(t, "password123\npassword123\n",
		"agent", "add", "-c", cfgPath, "--email", "bob@example.com", "--name", "Bob"); err == nil {
		t.Error("expected duplicate agent error")
	}

	out, err = execute(t, "", "agent", "list", "-c", cfgPath)
	if err != nil {
		t.Fatalf("agent list: %v", err)
	}
	if !strings.Contains(out, "bob@example.com") || !strings.Contains(out, "admin") {
		t.Errorf("agent list output = %q", out)
	}
}

func TestAgentAddPromptsForEmail(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := execute(t, "carol@example.com\n\npassword123\npassword123\n", "agent", "add", "-c", cfgPath)
	if err != nil {
		t.Fatalf("agent add: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Created agent carol@example.com") {
		t.Errorf("agent add output = %q", out)
	}
}

func TestAgentListEmpty(t *testing.T) {
	out, err := execute(t, "", "agent", "-c", writeTestConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No agents registered.") {
		t.Errorf("output = %q", out)
	}
}

func TestRunMissingConfig(t *testing.T) {
	if _, err := execute(t, "", "run", filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing config")
	}
}

func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newLogger(config.LoggingConfig{Level: "warn", Format: "text"}, buf)

	logger.Info("hidden")
	logger.Warn("shown", "agent_id", "a1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info line logged at warn level")
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "agent_id=a1") {
		t.Errorf("text output = %q", out)
	}

	buf.Reset()
	newLogger(config.LoggingConfig{Level: "debug"}, buf).Debug("json", "user_id", "u1")
	if !strings.Contains(buf.String(), `"user_id":"u1"`) {
		t.Errorf("json output = %q", buf.String())
	}
	if !newLogger(config.LoggingConfig{}, buf).Enabled(context.Background(), slog.LevelInfo) {
		t.Error("default level should enable info")
	}
}
