package wizard

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/amurg-ai/supportdesk/hub/internal/config"
	"github.com/amurg-ai/supportdesk/pkg/cli"
)

func TestWizard_SQLite(t *testing.T) {
	input := strings.Join([]string{
		":9090",             // listen address
		"admin@example.com", // admin email
		"Ada",               // display name
		"secretpass",        // admin password
		"secretpass",        // confirm
		"y",                 // allow registration
		"1",                 // storage: sqlite (first option)
		"./data/desk.db",    // sqlite path
		"5",                 // capacity
		"2",                 // assignment: auto
		"2",                 // when unavailable: disconnect
		"n",                 // no AMQP
	}, "\n") + "\n"

	out := &bytes.Buffer{}
	p := &cli.Prompter{In: strings.NewReader(input), Out: out}

	outputPath := filepath.Join(t.TempDir(), "hub-config.json")

	w := New(p)
	if err := w.Run(outputPath); err != nil {
		t.Fatalf("wizard.Run() error: %v", err)
	}

	cfg, err := config.Load(outputPath)
	if err != nil {
		t.Fatalf("load generated config: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("server.addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if len(cfg.Auth.JWTSecret) < 32 {
		t.Errorf("auth.jwt_secret length = %d, want >= 32", len(cfg.Auth.JWTSecret))
	}
	if cfg.Auth.InitialAdmin == nil {
		t.Fatal("auth.initial_admin is nil")
	}
	if cfg.Auth.InitialAdmin.Email != "admin@example.com" || cfg.Auth.InitialAdmin.Name != "Ada" {
		t.Errorf("admin = %+v", cfg.Auth.InitialAdmin)
	}
	if cfg.Auth.InitialAdmin.Password != "secretpass" {
		t.Errorf("admin password = %q, want %q", cfg.Auth.InitialAdmin.Password, "secretpass")
	}
	if !cfg.Auth.AllowRegistration {
		t.Error("allow_registration = false, want true")
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.DSN != "./data/desk.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Desk.Capacity != 5 || cfg.Desk.Assignment != "auto" || cfg.Desk.WhenUnavailable != "disconnect" {
		t.Errorf("desk = %+v", cfg.Desk)
	}
	if cfg.Events.AMQPURL != "" {
		t.Errorf("events.amqp_url = %q, want empty", cfg.Events.AMQPURL)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config permissions = %o, want 600", perm)
	}
}

func TestWizard_PostgresAndAMQP(t *testing.T) {
	input := strings.Join([]string{
		"",                  // listen address (default)
		"admin@example.com", // admin email
		"",                  // display name (default)
		"secretpass",        // admin password
		"secretpass",        // confirm
		"",                  // allow registration (default no)
		"2",                 // storage: postgres
		"postgres://desk@db:5432/desk",
		"",  // capacity (default)
		"1", // assignment: claim
		"y", // AMQP
		"amqp://guest:guest@mq:5672/",
	}, "\n") + "\n"

	p := &cli.Prompter{In: strings.NewReader(input), Out: &bytes.Buffer{}}
	outputPath := filepath.Join(t.TempDir(), "hub-config.json")

	if err := New(p).Run(outputPath); err != nil {
		t.Fatalf("wizard.Run() error: %v", err)
	}
	cfg, err := config.Load(outputPath)
	if err != nil {
		t.Fatalf("load generated config: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("server.addr = %q, want default", cfg.Server.Addr)
	}
	if cfg.Auth.InitialAdmin.Name != "Administrator" {
		t.Errorf("admin name = %q, want default", cfg.Auth.InitialAdmin.Name)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN != "postgres://desk@db:5432/desk" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Desk.Capacity != 3 || cfg.Desk.Assignment != "claim" || cfg.Desk.WhenUnavailable != "queue" {
		t.Errorf("desk = %+v", cfg.Desk)
	}
	if cfg.Events.AMQPURL != "amqp://guest:guest@mq:5672/" {
		t.Errorf("events.amqp_url = %q", cfg.Events.AMQPURL)
	}
}

func TestWizard_NoAdminEmail(t *testing.T) {
	p := &cli.Prompter{In: strings.NewReader(":8080\n"), Out: &bytes.Buffer{}}
	if err := New(p).Run(filepath.Join(t.TempDir(), "c.json")); err == nil {
		t.Fatal("expected error when input ends before the admin email")
	}
}

func TestRunDefaults(t *testing.T) {
	t.Setenv("SUPPORTDESK_ADDR", ":7070")
	t.Setenv("SUPPORTDESK_ADMIN_EMAIL", "ops@example.com")
	t.Setenv("SUPPORTDESK_ADMIN_PASSWORD", "")
	t.Setenv("SUPPORTDESK_STORAGE_DRIVER", "sqlite")
	t.Setenv("SUPPORTDESK_STORAGE_DSN", "/tmp/desk.db")
	t.Setenv("SUPPORTDESK_ASSIGNMENT", "auto")

	out := &bytes.Buffer{}
	outputPath := filepath.Join(t.TempDir(), "hub-config.json")
	if err := New(&cli.Prompter{Out: out}).RunDefaults(outputPath); err != nil {
		t.Fatalf("RunDefaults() error: %v", err)
	}

	cfg, err := config.Load(outputPath)
	if err != nil {
		t.Fatalf("load generated config: %v", err)
	}
	if cfg.Server.Addr != ":7070" || cfg.Desk.Assignment != "auto" {
		t.Errorf("unexpected config: addr=%q assignment=%q", cfg.Server.Addr, cfg.Desk.Assignment)
	}
	if cfg.Auth.InitialAdmin.Email != "ops@example.com" {
		t.Errorf("admin email = %q", cfg.Auth.InitialAdmin.Email)
	}
	if cfg.Auth.InitialAdmin.Password == "" || !strings.Contains(out.String(), cfg.Auth.InitialAdmin.Password) {
		t.Error("expected a generated admin password to be printed")
	}
}

func TestRunDefaults_PostgresNeedsDSN(t *testing.T) {
	t.Setenv("SUPPORTDESK_STORAGE_DRIVER", "postgres")
	t.Setenv("SUPPORTDESK_STORAGE_DSN", "")

	err := New(&cli.Prompter{Out: &bytes.Buffer{}}).RunDefaults(filepath.Join(t.TempDir(), "c.json"))
	if err == nil || !strings.Contains(err.Error(), "SUPPORTDESK_STORAGE_DSN") {
		t.Fatalf("expected DSN error, got %v", err)
	}
}

func TestRunDefaults_InvalidAssignment(t *testing.T) {
	t.Setenv("SUPPORTDESK_STORAGE_DRIVER", "")
	t.Setenv("SUPPORTDESK_ASSIGNMENT", "round-robin")

	err := New(&cli.Prompter{Out: &bytes.Buffer{}}).RunDefaults(filepath.Join(t.TempDir(), "c.json"))
	if err == nil {
		t.Fatal("expected validation error for unknown assignment")
	}
}
