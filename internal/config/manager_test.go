package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"alertbot/pkg/logx"
)

const managerTestConfig = `{
  "transport": {
    "driver": "telegram",
    "instances": {"a": {"token": "123:abc"}}
  },
  "dispatch": {"scan_interval": "20s"}
}`

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestManagerLoadAndGet(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, managerTestConfig)

	m := NewManager(path, logx.Nop())
	if m.Get() != nil {
		t.Error("Get before Load returned a config")
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dispatch.ScanInterval != "20s" {
		t.Errorf("scan_interval = %q", cfg.Dispatch.ScanInterval)
	}
	if m.Get() != cfg {
		t.Error("Get returned a different config than Load committed")
	}
}

func TestManagerLoadRejectsInvalidFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, `{"transport": {"instances": {"a": {}}}}`)

	m := NewManager(path, logx.Nop())
	if _, err := m.Load(); err == nil {
		t.Fatal("config with empty instance token accepted")
	}
	if m.Get() != nil {
		t.Error("invalid config committed")
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeConfig(t, path, managerTestConfig)

	m := NewManager(path, logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchErr := make(chan error, 1)
	go func() { watchErr <- m.Watch(ctx) }()

	// Give the watcher time to register before the write lands.
	time.Sleep(100 * time.Millisecond)

	updated := `{
  "transport": {
    "driver": "telegram",
    "instances": {"a": {"token": "123:abc"}}
  },
  "dispatch": {"scan_interval": "45s"}
}`
	writeConfig(t, path, updated)

	select {
	case cfg := <-sub:
		if cfg.Dispatch.ScanInterval != "45s" {
			t.Errorf("reloaded scan_interval = %q", cfg.Dispatch.ScanInterval)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}

	cancel()
	select {
	case err := <-watchErr:
		if err != context.Canceled {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not exit on cancel")
	}
}

func TestWatchKeepsLastGoodConfigOnBadWrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeConfig(t, path, managerTestConfig)

	m := NewManager(path, logx.Nop())
	good, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Watch(ctx)
	time.Sleep(100 * time.Millisecond)

	writeConfig(t, path, `{"transport": {`)

	select {
	case cfg := <-sub:
		t.Errorf("broken file published: %+v", cfg)
	case <-time.After(700 * time.Millisecond):
	}
	if m.Get() != good {
		t.Error("committed config replaced by a broken write")
	}
}

func TestRedactedSummary(t *testing.T) {
	t.Parallel()
	a := &Config{Dispatch: DispatchConfig{ScanInterval: "20s"}}
	b := &Config{Dispatch: DispatchConfig{ScanInterval: "45s"}}
	got := RedactedSummary(a, b)
	if len(got) != 1 || got[0] != "dispatch" {
		t.Errorf("summary = %v", got)
	}
	if got := RedactedSummary(a, a); len(got) != 0 {
		t.Errorf("identical configs reported changes: %v", got)
	}

	c := &Config{Transport: TransportConfig{Instances: map[string]InstanceConfig{"a": {Token: "t1"}}}}
	d := &Config{Transport: TransportConfig{Instances: map[string]InstanceConfig{"a": {Token: "t2"}}}}
	got = RedactedSummary(c, d)
	if len(got) != 1 || got[0] != "transport" {
		t.Errorf("summary = %v", got)
	}
	for _, s := range got {
		if s == "t1" || s == "t2" {
			t.Error("summary leaked a token")
		}
	}
}
