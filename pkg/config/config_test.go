package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestConfig_LoadAndResolve(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	content := []byte("server:\n  address: 127.0.0.1\n  port: 9090\n  db_path: /var/lib/chatstore\nlogging:\n  level: debug\n")
	if err := os.WriteFile(p, content, 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	c, err := Load(p)
	if err != nil {
		t.Fatalf("config.Load failed: %v", err)
	}
	if c.Server.Port != 9090 {
		t.Fatalf("expected port 9090 got %d", c.Server.Port)
	}
	if c.Addr() != "127.0.0.1:9090" {
		t.Fatalf("unexpected addr %q", c.Addr())
	}
	if c.Server.DBPath != "/var/lib/chatstore" {
		t.Fatalf("unexpected db path %q", c.Server.DBPath)
	}

	// ResolveConfigPath prefers env var when flag not set
	t.Setenv("CHATSTORE_CONFIG", p)
	got := ResolveConfigPath("/nope", false)
	if got != p {
		t.Fatalf("ResolveConfigPath expected %q got %q", p, got)
	}
	// and the flag value when it was set explicitly
	got = ResolveConfigPath("/explicit.yaml", true)
	if got != "/explicit.yaml" {
		t.Fatalf("ResolveConfigPath expected flag path, got %q", got)
	}
}

func TestConfig_AddrDefaults(t *testing.T) {
	c := &Config{}
	if c.Addr() != "0.0.0.0:8080" {
		t.Fatalf("unexpected default addr %q", c.Addr())
	}
}

func TestDuration_Unmarshal(t *testing.T) {
	var out struct {
		D Duration `yaml:"d"`
	}
	if err := yaml.Unmarshal([]byte("d: 100ms"), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.D.Duration() != 100*time.Millisecond {
		t.Fatalf("expected 100ms got %v", out.D.Duration())
	}
	// plain numbers are seconds
	if err := yaml.Unmarshal([]byte("d: 90"), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.D.Duration() != 90*time.Second {
		t.Fatalf("expected 90s got %v", out.D.Duration())
	}
	if err := yaml.Unmarshal([]byte("d: \"\""), &out); err != nil {
		t.Fatalf("unmarshal empty: %v", err)
	}
	if out.D.Duration() != 0 {
		t.Fatalf("expected zero got %v", out.D.Duration())
	}
	if err := yaml.Unmarshal([]byte("d: soon"), &out); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

func TestSizeBytes_Unmarshal(t *testing.T) {
	var out struct {
		S SizeBytes `yaml:"s"`
	}
	if err := yaml.Unmarshal([]byte("s: 64MB"), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.S.Int64() != 64*1000*1000 {
		t.Fatalf("expected 64MB got %d", out.S.Int64())
	}
	if err := yaml.Unmarshal([]byte("s: 4096"), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.S.Int64() != 4096 {
		t.Fatalf("expected 4096 got %d", out.S.Int64())
	}
	if err := yaml.Unmarshal([]byte("s: huge"), &out); err == nil {
		t.Fatalf("expected error for invalid size")
	}
}

func TestParseConfigEnvs(t *testing.T) {
	t.Setenv("CHATSTORE_ADDR", "10.0.0.5:9191")
	t.Setenv("CHATSTORE_DB_PATH", "/tmp/chatdb")
	t.Setenv("CHATSTORE_LOG_LEVEL", "warn")
	t.Setenv("CHATSTORE_DEFAULT_TTL", "48h")
	t.Setenv("CHATSTORE_HISTORY_VISIBLE", "true")
	t.Setenv("CHATSTORE_RETENTION_PERIOD", "24h")
	t.Setenv("CHATSTORE_RATE_RPS", "2.5")
	t.Setenv("CHATSTORE_RATE_BURST", "10")
	t.Setenv("CHATSTORE_API_BACKEND_KEYS", "bk1, bk2")
	t.Setenv("CHATSTORE_API_ADMIN_KEYS", "ak1")
	t.Setenv("CHATSTORE_LEDGER_URL", "http://ledger.local")

	cfg, res := ParseConfigEnvs()
	if !res.EnvUsed {
		t.Fatalf("expected EnvUsed")
	}
	if cfg.Server.Address != "10.0.0.5" || cfg.Server.Port != 9191 {
		t.Fatalf("addr not split: %q %d", cfg.Server.Address, cfg.Server.Port)
	}
	if cfg.Server.DBPath != "/tmp/chatdb" {
		t.Fatalf("db path: %q", cfg.Server.DBPath)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("log level: %q", cfg.Logging.Level)
	}
	if cfg.Chat.DefaultTTL.Duration() != 48*time.Hour {
		t.Fatalf("default ttl: %v", cfg.Chat.DefaultTTL.Duration())
	}
	if !cfg.Chat.HistoryVisible {
		t.Fatalf("expected history visible")
	}
	if !cfg.Retention.Enabled || cfg.Retention.Period != "24h" {
		t.Fatalf("retention: %+v", cfg.Retention)
	}
	if cfg.Security.RateLimit.RPS != 2.5 || cfg.Security.RateLimit.Burst != 10 {
		t.Fatalf("rate limit: %+v", cfg.Security.RateLimit)
	}
	if _, ok := res.BackendKeys["bk2"]; !ok {
		t.Fatalf("backend keys not parsed: %+v", res.BackendKeys)
	}
	if _, ok := res.AdminKeys["ak1"]; !ok {
		t.Fatalf("admin keys not parsed: %+v", res.AdminKeys)
	}
	if cfg.Outbound.Ledger.BaseURL != "http://ledger.local" {
		t.Fatalf("ledger url: %q", cfg.Outbound.Ledger.BaseURL)
	}
}

func TestLoadEffectiveConfig_ExplicitConfigFlag(t *testing.T) {
	fileCfg := &Config{}
	fileCfg.Server.Address = "127.0.0.1"
	fileCfg.Server.Port = 7000
	fileCfg.Server.DBPath = "/data/a"

	flags := Flags{Config: "/some/cfg.yaml", Set: map[string]bool{"config": true}}
	res, err := LoadEffectiveConfig(flags, fileCfg, true, &Config{}, EnvResult{})
	if err != nil {
		t.Fatalf("LoadEffectiveConfig: %v", err)
	}
	if res.Source != "config" || res.Addr != "127.0.0.1:7000" || res.DBPath != "/data/a" {
		t.Fatalf("unexpected result: %+v", res)
	}

	// explicit --config with a missing file is fatal
	if _, err := LoadEffectiveConfig(flags, &Config{}, false, &Config{}, EnvResult{}); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestLoadEffectiveConfig_FlagsWin(t *testing.T) {
	envCfg := &Config{}
	envCfg.Server.DBPath = "/env/db"

	flags := Flags{Addr: ":9999", DB: "./.database", Set: map[string]bool{"addr": true}}
	res, err := LoadEffectiveConfig(flags, &Config{}, false, envCfg, EnvResult{EnvUsed: true})
	if err != nil {
		t.Fatalf("LoadEffectiveConfig: %v", err)
	}
	if res.Source != "flags" || res.Addr != ":9999" {
		t.Fatalf("unexpected result: %+v", res)
	}
	// db not set on flags, env fills it in
	if res.DBPath != "/env/db" {
		t.Fatalf("expected env db path, got %q", res.DBPath)
	}
	if res.Config.Server.Port != 9999 {
		t.Fatalf("expected port parsed from addr, got %d", res.Config.Server.Port)
	}
}

func TestLoadEffectiveConfig_FilePreferredOverEnv(t *testing.T) {
	fileCfg := &Config{}
	fileCfg.Server.Port = 7070
	envCfg := &Config{}
	envCfg.Server.Port = 6060

	res, err := LoadEffectiveConfig(Flags{Set: map[string]bool{}}, fileCfg, true, envCfg, EnvResult{EnvUsed: true})
	if err != nil {
		t.Fatalf("LoadEffectiveConfig: %v", err)
	}
	if res.Source != "config" || res.Addr != "0.0.0.0:7070" {
		t.Fatalf("unexpected result: %+v", res)
	}

	res, err = LoadEffectiveConfig(Flags{Set: map[string]bool{}}, &Config{}, false, envCfg, EnvResult{EnvUsed: true})
	if err != nil {
		t.Fatalf("LoadEffectiveConfig: %v", err)
	}
	if res.Source != "env" || res.Addr != "0.0.0.0:6060" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRuntimeKeys(t *testing.T) {
	SetRuntime(&RuntimeConfig{
		BackendKeys: map[string]struct{}{"bk": {}},
		AdminKeys:   map[string]struct{}{"ak": {}},
	})
	defer SetRuntime(nil)
	if _, ok := GetBackendKeys()["bk"]; !ok {
		t.Fatalf("backend key missing")
	}
	if _, ok := GetAdminKeys()["ak"]; !ok {
		t.Fatalf("admin key missing")
	}
	// returned maps are copies
	GetBackendKeys()["injected"] = struct{}{}
	if _, ok := GetBackendKeys()["injected"]; ok {
		t.Fatalf("expected copy semantics")
	}
}
