package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Dotted names of the radiology settings. They alias the environment keys
// below so either spelling works in .env files and viper lookups.
const (
	KeyDicomUIDOrgRoot       = "radiology.dicomUIDOrgRoot"
	KeyMrrtReportTemplateDir = "radiology.mrrtReportTemplateDir"
)

const envFile = ".env"

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	LogLevel       string   `mapstructure:"LOG_LEVEL"`
	LogFile        string   `mapstructure:"LOG_FILE"`
	LogMaxSizeMB   int      `mapstructure:"LOG_MAX_SIZE_MB"`
	LogMaxBackups  int      `mapstructure:"LOG_MAX_BACKUPS"`
	LogMaxAgeDays  int      `mapstructure:"LOG_MAX_AGE_DAYS"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBSchema       string   `mapstructure:"DB_SCHEMA"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	TLSEnabled     bool     `mapstructure:"TLS_ENABLED"`
	TLSCertFile    string   `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile     string   `mapstructure:"TLS_KEY_FILE"`

	DicomUIDOrgRoot       string        `mapstructure:"RADIOLOGY_DICOM_UID_ORG_ROOT"`
	MrrtReportTemplateDir string        `mapstructure:"RADIOLOGY_MRRT_REPORT_TEMPLATE_DIR"`
	OrphanSweepGrace      time.Duration `mapstructure:"RADIOLOGY_ORPHAN_SWEEP_GRACE"`
}

var envKeys = []string{
	"PORT",
	"ENV",
	"LOG_LEVEL",
	"LOG_FILE",
	"LOG_MAX_SIZE_MB",
	"LOG_MAX_BACKUPS",
	"LOG_MAX_AGE_DAYS",
	"DATABASE_URL",
	"DB_SCHEMA",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"AUTH_ISSUER",
	"AUTH_JWKS_URL",
	"AUTH_AUDIENCE",
	"AUTH_SIGNING_KEY",
	"CORS_ORIGINS",
	"TLS_ENABLED",
	"TLS_CERT_FILE",
	"TLS_KEY_FILE",
	"RADIOLOGY_DICOM_UID_ORG_ROOT",
	"RADIOLOGY_MRRT_REPORT_TEMPLATE_DIR",
	"RADIOLOGY_ORPHAN_SWEEP_GRACE",
}

func newViper(file string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(file)
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_MAX_BACKUPS", 5)
	v.SetDefault("LOG_MAX_AGE_DAYS", 28)
	v.SetDefault("DB_SCHEMA", "radiology")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RADIOLOGY_ORPHAN_SWEEP_GRACE", "1h")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		v.BindEnv(key)
	}
	v.RegisterAlias(KeyDicomUIDOrgRoot, "RADIOLOGY_DICOM_UID_ORG_ROOT")
	v.RegisterAlias(KeyMrrtReportTemplateDir, "RADIOLOGY_MRRT_REPORT_TEMPLATE_DIR")

	// Try reading the file, but don't fail if missing
	_ = v.ReadInConfig()
	return v
}

func Load() (*Config, error) {
	v := newViper(envFile)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active, unauthenticated requests get admin access.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to serve with. The DICOM
// org root is deliberately not checked here: the UID generator re-validates
// it on every call and reports a configuration error to the caller.
func (c *Config) Validate() error {
	switch c.Env {
	case "development", "staging", "production", "test":
	default:
		return fmt.Errorf("ENV must be development, staging, production or test, got %q", c.Env)
	}

	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.IsProduction() && c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes in production")
	}

	if c.MrrtReportTemplateDir != "" && !filepath.IsAbs(c.MrrtReportTemplateDir) {
		return fmt.Errorf("RADIOLOGY_MRRT_REPORT_TEMPLATE_DIR must be an absolute path, got %q", c.MrrtReportTemplateDir)
	}
	if c.OrphanSweepGrace < 0 {
		return fmt.Errorf("RADIOLOGY_ORPHAN_SWEEP_GRACE must not be negative")
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
