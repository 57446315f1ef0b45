package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleTOML = `
mode = "serve"

[ledger]
marketplace_address = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
nft_address = "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
confirm_poll = "500ms"

[catalog]
refresh_interval = "10s"

[postgres]
enabled = true
dsn = "postgres://u:p@db:5432/nftmarket"

[server]
api_key = "from-file"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMergesDefaultsFileAndEnv(t *testing.T) {
	t.Setenv("NFTMARKET_SERVER_API_KEY", "from-env")
	t.Setenv("NFTMARKET_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("NFTMARKET_CATALOG_CLOCK_INTERVAL", "250ms")
	t.Setenv("NFTMARKET_SERVER_PORT", "not-a-number")

	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "serve" {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if cfg.Ledger.ConfirmPoll.Duration != 500*time.Millisecond {
		t.Errorf("confirm_poll = %v", cfg.Ledger.ConfirmPoll)
	}
	if cfg.Catalog.RefreshInterval.Duration != 10*time.Second {
		t.Errorf("refresh_interval = %v", cfg.Catalog.RefreshInterval)
	}
	if cfg.Catalog.MetadataConcurrency != 16 {
		t.Errorf("default metadata_concurrency lost: %d", cfg.Catalog.MetadataConcurrency)
	}
	if cfg.Catalog.ClockInterval.Duration != 250*time.Millisecond {
		t.Errorf("clock_interval = %v", cfg.Catalog.ClockInterval)
	}
	if cfg.Server.APIKey != "from-env" {
		t.Errorf("api_key = %q", cfg.Server.APIKey)
	}
	if got := strings.Join(cfg.Server.CORSOrigins, "|"); got != "https://a.example|https://b.example" {
		t.Errorf("cors_origins = %q", got)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("unparseable override changed port to %d", cfg.Server.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	if _, err := Load(writeConfig(t, "[catalog]\nrefresh_interval = \"soon\"\n")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Ledger.NFTAddress = "0x1234"
	cfg.Wallet.EncryptedKeyPath = "/keys/wallet.json"
	cfg.Catalog.MetadataConcurrency = 0
	cfg.Pipeline.ArchiveCron = "0 25 * * *"
	cfg.Notify.TelegramToken = "token"
	cfg.Notify.Events = []string{"order_filled"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		`unknown mode "trade"`,
		"marketplace_address",
		`nft_address "0x1234"`,
		"key_password is required",
		"metadata_concurrency",
		"archive_cron",
		"telegram_token and telegram_chat_id",
		`unknown event "order_filled"`,
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidateOptionalBackends(t *testing.T) {
	cfg := Defaults()
	cfg.Ledger.MarketplaceAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	cfg.Ledger.NFTAddress = "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
	cfg.Redis.Addr = ""
	cfg.S3.Bucket = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled backends should not be validated: %v", err)
	}

	cfg.Redis.Enabled = true
	cfg.S3.Enabled = true
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "redis: addr") || !strings.Contains(err.Error(), "s3: bucket") {
		t.Fatalf("err = %v", err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.Postgres.DSN = "postgres://u:secret@db/x"
	cfg.Server.APIKey = "k"

	out := RedactedConfig(&cfg)
	if out.Wallet.PrivateKey != redacted || out.Postgres.DSN != redacted || out.Server.APIKey != redacted {
		t.Fatalf("secrets leaked: %+v", out)
	}
	if out.S3.SecretKey != "" {
		t.Fatalf("empty secret became %q", out.S3.SecretKey)
	}
	if cfg.Wallet.PrivateKey != "0xdeadbeef" {
		t.Fatal("original mutated")
	}
	out.Server.CORSOrigins[0] = "changed"
	if cfg.Server.CORSOrigins[0] == "changed" {
		t.Fatal("redacted copy aliases cors_origins")
	}
}
