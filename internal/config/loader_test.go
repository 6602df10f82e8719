package config

import (
	"os"
	"testing"
)

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempConfig(t, `
StoreDir = "/nix/store"
StoragePath = "./data"
ListenPort = 9000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.ListenPort != 9000 {
		t.Fatalf("ListenPort 应当被解析, got %d", cfg.ListenPort)
	}
	if cfg.UpstreamTimeout.DurationValue() == 0 {
		t.Fatalf("UpstreamTimeout 应该自动填充默认值")
	}
	if cfg.StoreDir != "/nix/store" {
		t.Fatalf("StoreDir 应该被保留, got %s", cfg.StoreDir)
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	path := writeTempConfig(t, `
StoreDir = "/nix/store"
StoragePath = "./data"
UpstreamTimeout = "boom"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadRejectsBadListenPort(t *testing.T) {
	path := writeTempConfig(t, `
StoreDir = "/nix/store"
StoragePath = "./data"
ListenPort = 0
`)
	// ListenPort=0 triggers the loader's own default, so this exercises the
	// negative-port path explicitly.
	path2 := writeTempConfig(t, `
StoreDir = "/nix/store"
StoragePath = "./data"
ListenPort = -1
`)
	if _, err := Load(path); err != nil {
		t.Fatalf("ListenPort=0 应当走默认值, got error: %v", err)
	}
	if _, err := Load(path2); err == nil {
		t.Fatalf("负数 ListenPort 应失败")
	}
}

func TestApplyEnvDefaultsUpstreamWhenUnset(t *testing.T) {
	prev, hadPrev := os.LookupEnv(EnvUpstreamCaches)
	if err := os.Unsetenv(EnvUpstreamCaches); err != nil {
		t.Fatalf("Unsetenv: %v", err)
	}
	t.Cleanup(func() {
		if hadPrev {
			os.Setenv(EnvUpstreamCaches, prev)
		}
	})
	t.Setenv(EnvSecretKeyFile, "")

	path := writeTempConfig(t, `
StoreDir = "/nix/store"
StoragePath = "./data"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if len(cfg.UpstreamCaches) != 1 || cfg.UpstreamCaches[0] != DefaultUpstream {
		t.Fatalf("未设置 NIX_UPSTREAM_CACHES 时应回退默认上游, got %v", cfg.UpstreamCaches)
	}
}

// TestApplyEnvEmptyStringDisablesUpstreams covers spec.md invariant 6:
// explicitly setting NIX_UPSTREAM_CACHES to an empty string is distinct
// from leaving it unset, and disables pull-through entirely rather than
// falling back to the default upstream.
func TestApplyEnvEmptyStringDisablesUpstreams(t *testing.T) {
	t.Setenv(EnvUpstreamCaches, "")
	t.Setenv(EnvSecretKeyFile, "")

	path := writeTempConfig(t, `
StoreDir = "/nix/store"
StoragePath = "./data"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if len(cfg.UpstreamCaches) != 0 {
		t.Fatalf("显式设置为空字符串时应禁用所有上游, got %v", cfg.UpstreamCaches)
	}
}

func TestApplyEnvParsesMultipleUpstreams(t *testing.T) {
	t.Setenv(EnvUpstreamCaches, " https://a.example/ , https://b.example ")

	path := writeTempConfig(t, `
StoreDir = "/nix/store"
StoragePath = "./data"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.UpstreamCaches) != len(want) {
		t.Fatalf("expected %v, got %v", want, cfg.UpstreamCaches)
	}
	for i := range want {
		if cfg.UpstreamCaches[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, cfg.UpstreamCaches)
		}
	}
}

func TestParseUpstreamListEmptyString(t *testing.T) {
	result := ParseUpstreamList("")
	if len(result) != 0 {
		t.Fatalf("empty string should parse to an empty list, got %v", result)
	}
}
