package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{
		"SERVER_PORT", "LEDGER_DRIVER", "QR_HMAC_SECRET", "DEFAULT_RACK_CAPACITY", "AUDIT_LOG_LIMIT",
		"ALLOWED_ORIGINS", "LABEL_STORE_DRIVER", "LABEL_S3_PATH_STYLE", "OPERATOR_ID",
	} {
		t.Setenv(k, "")
	}

	cfg := Load()
	if cfg.ServerPort != "8080" {
		t.Errorf("Expected port 8080, got %s", cfg.ServerPort)
	}
	if cfg.LedgerDriver != "postgres" {
		t.Errorf("Expected postgres driver, got %s", cfg.LedgerDriver)
	}
	if cfg.QRSecret != defaultQRSecret {
		t.Errorf("Expected default QR secret, got %s", cfg.QRSecret)
	}
	if cfg.RackCapacity != 24 || cfg.AuditLimit != 50 {
		t.Errorf("Expected 24/50, got %d/%d", cfg.RackCapacity, cfg.AuditLimit)
	}
	if cfg.Labels.Driver != "memory" || cfg.Labels.PathStyle {
		t.Errorf("Unexpected label store %+v", cfg.Labels)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LEDGER_DRIVER", "SQLite")
	t.Setenv("DEFAULT_RACK_CAPACITY", "36")
	t.Setenv("AUDIT_LOG_LIMIT", "-4")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("LABEL_STORE_DRIVER", "s3")
	t.Setenv("LABEL_S3_PATH_STYLE", "TRUE")

	cfg := Load()
	if cfg.LedgerDriver != "sqlite" {
		t.Errorf("Expected driver to be lower-cased, got %s", cfg.LedgerDriver)
	}
	if cfg.RackCapacity != 36 {
		t.Errorf("Expected capacity 36, got %d", cfg.RackCapacity)
	}
	if cfg.AuditLimit != 50 {
		t.Errorf("Expected invalid audit limit to fall back to 50, got %d", cfg.AuditLimit)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("Unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.Labels.Driver != "s3" || !cfg.Labels.PathStyle {
		t.Errorf("Unexpected label store %+v", cfg.Labels)
	}
}
