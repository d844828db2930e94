package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/postalsys/relaychat/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInitCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relaychat.yaml")

	out, err := execute(t, "init", "-o", path)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, path) {
		t.Errorf("output %q does not mention %s", out, path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if cfg.Relay.Port != 5000 {
		t.Errorf("Relay.Port = %d", cfg.Relay.Port)
	}

	if _, err := execute(t, "init", "-o", path); err == nil {
		t.Error("init should refuse to overwrite")
	}
}

func TestServeCmd_InvalidAddress(t *testing.T) {
	_, err := execute(t, "serve", "--address", "not-an-ip")
	if err == nil || !strings.Contains(err.Error(), "relay.address") {
		t.Errorf("serve error = %v", err)
	}
}

func TestJoinCmd_InvalidLogLevel(t *testing.T) {
	_, err := execute(t, "join", "--name", "Alice", "--log-level", "loud")
	if err == nil || !strings.Contains(err.Error(), "log.level") {
		t.Errorf("join error = %v", err)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, []byte("relay:\n  port: 6000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(&globalFlags{configPath: path, logLevel: "debug", logFormat: "json"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Relay.Port != 6000 || cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("cfg = %+v", cfg)
	}
}
