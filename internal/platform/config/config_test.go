package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("CF_TEST_STR", "value")
	if got := GetEnv("CF_TEST_STR", "fallback"); got != "value" {
		t.Errorf("expected value, got %q", got)
	}
	if got := GetEnv("CF_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("CF_TEST_INT", "42")
	t.Setenv("CF_TEST_BAD_INT", "forty-two")
	if got := GetEnvInt("CF_TEST_INT", 1); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	if got := GetEnvInt("CF_TEST_BAD_INT", 1); got != 1 {
		t.Errorf("expected fallback 1, got %d", got)
	}
	t.Setenv("CF_TEST_INT64", "524288000")
	if got := GetEnvInt64("CF_TEST_INT64", 0); got != 524288000 {
		t.Errorf("expected 524288000, got %d", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("CF_TEST_DUR", "90s")
	t.Setenv("CF_TEST_NEG_DUR", "-5s")
	if got := GetEnvDuration("CF_TEST_DUR", time.Second); got != 90*time.Second {
		t.Errorf("expected 90s, got %s", got)
	}
	if got := GetEnvDuration("CF_TEST_NEG_DUR", time.Second); got != time.Second {
		t.Errorf("non-positive duration should fall back, got %s", got)
	}
	if got := GetEnvDuration("CF_TEST_DUR_UNSET", time.Minute); got != time.Minute {
		t.Errorf("expected fallback, got %s", got)
	}
}

func TestLoad_dotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("CF_TEST_FROM_FILE=loaded\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("CF_TEST_FROM_FILE") })

	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := GetEnv("CF_TEST_FROM_FILE", ""); got != "loaded" {
		t.Errorf("expected loaded, got %q", got)
	}
}

func TestLoad_missing_file(t *testing.T) {
	if err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected error for missing file")
	}
}
