package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const defaultQRSecret = "dev-secret-change"

type Config struct {
	ServerPort     string
	LedgerDriver   string // postgres | sqlite | memory
	DatabaseURL    string
	SQLitePath     string
	JWTSecret      string // empty disables auth on mutating routes
	AllowedOrigins []string
	QRSecret       string
	RackCapacity   int
	AuditLimit     int
	OperatorID     string // user UUID recorded as the actor of CLI commands

	Labels LabelStore
}

// LabelStore selects where rendered rack labels are archived.
type LabelStore struct {
	Driver    string // memory | fs | s3
	Dir       string
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// Load reads .env (if present) and the process environment.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		LedgerDriver:   strings.ToLower(getEnv("LEDGER_DRIVER", "postgres")),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SQLitePath:     getEnv("SQLITE_PATH", "rackrunner.db"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		QRSecret:       getEnv("QR_HMAC_SECRET", defaultQRSecret),
		RackCapacity:   getEnvInt("DEFAULT_RACK_CAPACITY", 24),
		AuditLimit:     getEnvInt("AUDIT_LOG_LIMIT", 50),
		OperatorID:     os.Getenv("OPERATOR_ID"),
		Labels: LabelStore{
			Driver:    strings.ToLower(getEnv("LABEL_STORE_DRIVER", "memory")),
			Dir:       getEnv("LABEL_DIR", "./labels"),
			Bucket:    os.Getenv("LABEL_S3_BUCKET"),
			Region:    getEnv("LABEL_S3_REGION", "us-east-1"),
			Endpoint:  os.Getenv("LABEL_S3_ENDPOINT"),
			PathStyle: strings.EqualFold(os.Getenv("LABEL_S3_PATH_STYLE"), "true"),
		},
	}

	if cfg.QRSecret == defaultQRSecret {
		log.Println("[WARN] QR_HMAC_SECRET is using the development default; set your own secret in production.")
	}
	if cfg.JWTSecret == "" {
		log.Println("[WARN] JWT_SECRET not set; mutating routes accept unauthenticated requests.")
	} else if len(cfg.JWTSecret) < 32 {
		log.Println("[WARN] JWT_SECRET is shorter than 32 characters.")
	}
	if cfg.LedgerDriver == "postgres" && cfg.DatabaseURL == "" {
		log.Println("[WARN] LEDGER_DRIVER=postgres but DATABASE_URL is empty.")
	}
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[WARN] %s=%q is not a positive integer, using %d", key, v, def)
		return def
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
