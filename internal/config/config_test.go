package config

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KEYLEDGER_SESSION_SECRET", testSecret)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8090" {
		t.Errorf("port = %q, want %q", cfg.Port, "8090")
	}
	if cfg.BaseURL != "http://localhost:8090" {
		t.Errorf("base url = %q, want derived from port", cfg.BaseURL)
	}
	if cfg.Session.Window != 30*24*time.Hour {
		t.Errorf("session window = %v, want 720h", cfg.Session.Window)
	}
	if cfg.Session.Backend != BackendCapsule {
		t.Errorf("backend = %q, want %q", cfg.Session.Backend, BackendCapsule)
	}
	if cfg.KeyPolicy != PolicyStanding {
		t.Errorf("key policy = %q, want %q", cfg.KeyPolicy, PolicyStanding)
	}
	if cfg.VerificationTTL != 24*time.Hour {
		t.Errorf("verification ttl = %v, want 24h", cfg.VerificationTTL)
	}
	if !cfg.Email.Async {
		t.Error("expected async email by default")
	}
	if cfg.Admin.Enabled() {
		t.Error("expected admin seeding disabled by default")
	}
	if cfg.TrustProxy {
		t.Error("expected proxy headers untrusted by default")
	}
	if cfg.Backup.Bucket != "" || cfg.Backup.Interval != 24*time.Hour {
		t.Errorf("backup = %+v, want no bucket and 24h interval", cfg.Backup)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KEYLEDGER_SESSION_SECRET", testSecret)
	t.Setenv("KEYLEDGER_BASE_URL", "https://keys.example.com/")
	t.Setenv("KEYLEDGER_SESSION_BACKEND", "store")
	t.Setenv("KEYLEDGER_KEY_POLICY", "single-use")
	t.Setenv("KEYLEDGER_EMAIL_MAX_RETRIES", "5")
	t.Setenv("KEYLEDGER_ADMIN_USERNAME", "admin")
	t.Setenv("KEYLEDGER_ADMIN_EMAIL", "admin@example.com")
	t.Setenv("KEYLEDGER_ADMIN_PASSWORD", "changeme")
	t.Setenv("KEYLEDGER_TRUST_PROXY", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BaseURL != "https://keys.example.com" {
		t.Errorf("base url = %q, want trailing slash trimmed", cfg.BaseURL)
	}
	if cfg.Session.Backend != BackendStore {
		t.Errorf("backend = %q, want %q", cfg.Session.Backend, BackendStore)
	}
	if cfg.KeyPolicy != PolicySingleUse {
		t.Errorf("key policy = %q, want %q", cfg.KeyPolicy, PolicySingleUse)
	}
	if cfg.Email.MaxRetries != 5 {
		t.Errorf("max retries = %d, want 5", cfg.Email.MaxRetries)
	}
	if !cfg.Admin.Enabled() {
		t.Error("expected admin seeding enabled")
	}
	if !cfg.TrustProxy {
		t.Error("expected trust proxy")
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("KEYLEDGER_SESSION_SECRET", "short")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for short secret")
	}
	if !strings.Contains(err.Error(), "SESSION_SECRET") {
		t.Errorf("error = %v, want mention of SESSION_SECRET", err)
	}
}

func TestValidateRejectsUnknownEnums(t *testing.T) {
	t.Setenv("KEYLEDGER_SESSION_SECRET", testSecret)
	t.Setenv("KEYLEDGER_KEY_POLICY", "sometimes")
	t.Setenv("KEYLEDGER_SESSION_BACKEND", "redis")
	t.Setenv("KEYLEDGER_PASSWORD_ALGORITHM", "md5")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"KEY_POLICY", "SESSION_BACKEND", "PASSWORD_ALGORITHM"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadBackupRequiresPassphrase(t *testing.T) {
	t.Setenv("KEYLEDGER_SESSION_SECRET", testSecret)
	t.Setenv("KEYLEDGER_BACKUP_S3_BUCKET", "ledger")
	t.Setenv("KEYLEDGER_BACKUP_PASSPHRASE", "short")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "KEYLEDGER_BACKUP_PASSPHRASE") {
		t.Fatalf("err = %v, want passphrase error", err)
	}

	t.Setenv("KEYLEDGER_BACKUP_PASSPHRASE", "a long enough passphrase")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backup.Prefix != "keyledger" {
		t.Errorf("prefix = %q, want keyledger", cfg.Backup.Prefix)
	}
}
