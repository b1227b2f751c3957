// Package config loads server and client settings from YAML, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"agridetect/internal/utils"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	ProviderAuto   = "auto"
	ProviderGemini = "gemini"
	ProviderLocal  = "local"

	DefaultModel = "gemini-3-flash-preview"
)

type Config struct {
	ProjectName string          `yaml:"project_name" validate:"required"`
	APIPrefix   string          `yaml:"api_prefix" validate:"required,startswith=/"`
	Server      ServerConfig    `yaml:"server"`
	Database    DatabaseConfig  `yaml:"database"`
	Storage     StorageConfig   `yaml:"storage"`
	Inference   InferenceConfig `yaml:"inference"`
	Auth        AuthConfig      `yaml:"auth"`
	Log         utils.LogConfig `yaml:"log"`
	Client      ClientConfig    `yaml:"client"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes" validate:"gt=0"`
	UploadsPerMin   float64       `yaml:"uploads_per_minute" validate:"gte=0"`
	UploadBurst     int           `yaml:"upload_burst" validate:"gte=1"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	TLSCertFile     string        `yaml:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile      string        `yaml:"tls_key_file" validate:"required_with=TLSCertFile"`
}

// TLSEnabled reports whether a certificate and key are configured.
func (s ServerConfig) TLSEnabled() bool { return s.TLSCertFile != "" && s.TLSKeyFile != "" }

type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `yaml:"dsn" validate:"required"`
}

type StorageConfig struct {
	DataDir       string `yaml:"data_dir" validate:"required"`
	EncryptImages bool   `yaml:"encrypt_images"`
	MasterKeyFile string `yaml:"master_key_file"`
	MasterKeyHex  string `yaml:"-"`
}

type InferenceConfig struct {
	Provider string        `yaml:"provider" validate:"oneof=auto gemini local"`
	Model    string        `yaml:"model" validate:"required"`
	APIKey   string        `yaml:"-"`
	Timeout  time.Duration `yaml:"timeout" validate:"gt=0"`
}

type AuthConfig struct {
	TokenTTL    time.Duration `yaml:"token_ttl" validate:"gt=0"`
	AdminEmails []string      `yaml:"admin_emails" validate:"dive,email"`
}

type ClientConfig struct {
	ServerURL    string        `yaml:"server_url" validate:"required,url"`
	QueueBackend string        `yaml:"queue_backend" validate:"oneof=badger file"`
	QueueDir     string        `yaml:"queue_dir" validate:"required"`
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`
}

var validate = validator.New()

// Default returns the settings used when no file or environment overrides them.
func Default() Config {
	home := utils.HomeDir()
	return Config{
		ProjectName: "Agri Detect AI",
		APIPrefix:   "/api/v1",
		Server: ServerConfig{
			Addr:            ":8080",
			CORSOrigins:     []string{"*"},
			MaxUploadBytes:  10 << 20,
			UploadsPerMin:   30,
			UploadBurst:     5,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    filepath.Join("data", "agridetect.db"),
		},
		Storage: StorageConfig{
			DataDir:       "data",
			EncryptImages: true,
			MasterKeyFile: "master.key",
		},
		Inference: InferenceConfig{
			Provider: ProviderAuto,
			Model:    DefaultModel,
			Timeout:  60 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL: 7 * 24 * time.Hour,
		},
		Log: utils.LogConfig{Level: "info", Format: "json"},
		Client: ClientConfig{
			ServerURL:    "http://localhost:8080",
			QueueBackend: "badger",
			QueueDir:     filepath.Join(home, "queue"),
			Timeout:      90 * time.Second,
		},
	}
}

// Load reads path (optional when empty), applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(utils.ExpandPath(path))
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.Client.QueueDir = utils.ExpandPath(cfg.Client.QueueDir)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = utils.EnvOrDefault("AGRIDETECT_ADDR", c.Server.Addr)
	c.Server.TLSCertFile = utils.EnvOrDefault("AGRIDETECT_TLS_CERT", c.Server.TLSCertFile)
	c.Server.TLSKeyFile = utils.EnvOrDefault("AGRIDETECT_TLS_KEY", c.Server.TLSKeyFile)
	c.Database.Driver = utils.EnvOrDefault("AGRIDETECT_DB_DRIVER", c.Database.Driver)
	c.Database.DSN = utils.EnvOrDefault("DATABASE_URL", c.Database.DSN)
	if strings.HasPrefix(c.Database.DSN, "postgres://") || strings.HasPrefix(c.Database.DSN, "postgresql://") {
		c.Database.Driver = "postgres"
	}
	c.Storage.DataDir = utils.EnvOrDefault("AGRIDETECT_DATA_DIR", c.Storage.DataDir)
	c.Storage.MasterKeyHex = utils.EnvOrDefault("MASTER_KEY_HEX", c.Storage.MasterKeyHex)
	c.Inference.Provider = utils.EnvOrDefault("AGRIDETECT_INFERENCE_PROVIDER", c.Inference.Provider)
	c.Inference.Model = utils.EnvOrDefault("AGRIDETECT_MODEL", c.Inference.Model)
	c.Inference.APIKey = utils.EnvOrDefault("GEMINI_API_KEY", utils.EnvOrDefault("API_KEY", c.Inference.APIKey))
	c.Log.Level = utils.EnvOrDefault("AGRIDETECT_LOG_LEVEL", c.Log.Level)
	c.Client.ServerURL = strings.TrimRight(utils.EnvOrDefault("AGRIDETECT_SERVER", c.Client.ServerURL), "/")
	c.Client.QueueDir = utils.EnvOrDefault("AGRIDETECT_QUEUE_DIR", c.Client.QueueDir)
}

// Validate checks field constraints and a few cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return fmt.Errorf("invalid config: server.addr %q: %w", c.Server.Addr, err)
	}
	if c.Inference.Provider == ProviderGemini && c.Inference.APIKey == "" {
		return errors.New("invalid config: inference.provider is gemini but GEMINI_API_KEY is not set")
	}
	return nil
}

// ResolvedProvider turns "auto" into gemini when an API key is present, local otherwise.
func (c *Config) ResolvedProvider() string {
	if c.Inference.Provider != ProviderAuto {
		return c.Inference.Provider
	}
	if c.Inference.APIKey != "" {
		return ProviderGemini
	}
	return ProviderLocal
}

// IsAdminEmail reports whether email is listed in auth.admin_emails (case-insensitive).
func (c *Config) IsAdminEmail(email string) bool {
	for _, e := range c.Auth.AdminEmails {
		if strings.EqualFold(strings.TrimSpace(e), strings.TrimSpace(email)) {
			return true
		}
	}
	return false
}
