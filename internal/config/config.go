package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ticketsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Zendesk    ZendeskConfig    `yaml:"zendesk"`
	Export     ExportConfig     `yaml:"export"`
	Google     GoogleConfig     `yaml:"google"`
	Import     ImportConfig     `yaml:"import"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

// ZendeskConfig holds the ticketing API endpoint and its opaque credential.
type ZendeskConfig struct {
	Subdomain   string        `yaml:"subdomain"`
	BaseURL     string        `yaml:"base_url"`
	Email       string        `yaml:"email"`
	APIToken    string        `yaml:"api_token"`
	BearerToken string        `yaml:"bearer_token"`
	PageSize    int           `yaml:"page_size"`
	Timeout     time.Duration `yaml:"timeout"`
}

// APIBase returns the API root, deriving it from the subdomain when no explicit URL is set.
func (z ZendeskConfig) APIBase() string {
	if z.BaseURL != "" {
		return strings.TrimRight(z.BaseURL, "/")
	}
	return fmt.Sprintf("https://%s.zendesk.com", z.Subdomain)
}

type ExportConfig struct {
	Mode          string `yaml:"mode"`
	Dir           string `yaml:"dir"`
	CanonicalFile string `yaml:"canonical_file"`
	XLSXFile      string `yaml:"xlsx_file"`
	// DetailFiles adds a per-run CSV with tags and custom fields next to the canonical file.
	DetailFiles bool `yaml:"detail_files"`
}

type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	SheetName       string `yaml:"sheet_name"`
	MirrorAfterRun  bool   `yaml:"mirror_after_run"`
	// attempts before a mirror task is dead-lettered
	MirrorMaxRetries int `yaml:"mirror_max_retries"`
}

type ImportConfig struct {
	GapCeiling int           `yaml:"gap_ceiling"`
	GapDelay   time.Duration `yaml:"gap_delay"`
	Lookback   string        `yaml:"lookback"`
}

type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Lookback string        `yaml:"lookback"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address     string `yaml:"address"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	PoolSize    int    `yaml:"pool_size"`
	ProgressKey string `yaml:"progress_key"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool `yaml:"enabled"`
	Port       int  `yaml:"port"`
	Reflection bool `yaml:"reflection"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Zendesk.Subdomain == "" && c.Zendesk.BaseURL == "" {
		return errors.New("zendesk subdomain or base_url is required")
	}
	if c.Zendesk.APIToken == "" && c.Zendesk.BearerToken == "" {
		return errors.New("zendesk api_token or bearer_token is required")
	}
	if c.Zendesk.APIToken != "" && c.Zendesk.Email == "" {
		return errors.New("zendesk email is required with api_token")
	}
	if c.Zendesk.Timeout < 10*time.Second || c.Zendesk.Timeout > 30*time.Second {
		return fmt.Errorf("zendesk timeout must be between 10s and 30s, got %s", c.Zendesk.Timeout)
	}

	switch c.Export.Mode {
	case models.TargetFile:
	case models.TargetSheet:
		if c.Google.CredentialsFile == "" || c.Google.SpreadsheetID == "" {
			return errors.New("google credentials_file and spreadsheet_id are required for gsheet mode")
		}
	default:
		return fmt.Errorf("unsupported export mode %q", c.Export.Mode)
	}

	if c.Import.GapCeiling < 0 {
		return errors.New("import gap_ceiling must not be negative")
	}
	if _, err := ParseLookback(c.Import.Lookback); err != nil {
		return err
	}
	if c.Scheduler.Enabled {
		if c.Scheduler.Interval <= 0 {
			return errors.New("scheduler interval must be positive")
		}
		if _, err := ParseLookback(c.Scheduler.Lookback); err != nil {
			return err
		}
	}

	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "ticketsync"
	}
	if c.Zendesk.PageSize <= 0 || c.Zendesk.PageSize > models.MaxPageSize {
		c.Zendesk.PageSize = models.MaxPageSize
	}
	if c.Zendesk.Timeout == 0 {
		c.Zendesk.Timeout = 30 * time.Second
	}

	if c.Export.Mode == "" {
		c.Export.Mode = models.TargetFile
	}
	if c.Export.Dir == "" {
		c.Export.Dir = "exports"
	}
	if c.Export.CanonicalFile == "" {
		c.Export.CanonicalFile = "tickets_all.csv"
	}
	if c.Google.SheetName == "" {
		c.Google.SheetName = "Tickets"
	}
	if c.Google.MirrorMaxRetries <= 0 {
		c.Google.MirrorMaxRetries = 5
	}

	if c.Import.GapCeiling == 0 {
		c.Import.GapCeiling = models.DefaultGapCeiling
	}
	if c.Import.GapDelay == 0 {
		c.Import.GapDelay = models.DefaultGapDelay
	}
	if c.Import.Lookback == "" {
		c.Import.Lookback = "24h"
	}
	if c.Scheduler.Interval == 0 {
		c.Scheduler.Interval = 24 * time.Hour
	}
	if c.Scheduler.Lookback == "" {
		c.Scheduler.Lookback = c.Import.Lookback
	}

	if c.Database.Path == "" {
		c.Database.Path = "data/ticketsync.db"
	}
	if c.Redis.ProgressKey == "" {
		c.Redis.ProgressKey = "ticketsync:import_progress"
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
}

// CanonicalPath is the location of the canonical dataset file.
func (c *Config) CanonicalPath() string {
	return joinPath(c.Export.Dir, c.Export.CanonicalFile)
}

// XLSXPath is the location of the optional spreadsheet snapshot, empty when disabled.
func (c *Config) XLSXPath() string {
	if c.Export.XLSXFile == "" {
		return ""
	}
	return joinPath(c.Export.Dir, c.Export.XLSXFile)
}

func joinPath(dir, file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(dir, file)
}

var lookbackAliases = map[string]time.Duration{
	"24h":     24 * time.Hour,
	"48h":     48 * time.Hour,
	"weekly":  7 * 24 * time.Hour,
	"7d":      7 * 24 * time.Hour,
	"monthly": 30 * 24 * time.Hour,
	"30d":     30 * 24 * time.Hour,
}

// ParseLookback turns a lookback name (24h, 48h, weekly, monthly) or Go duration into a window.
func ParseLookback(raw string) (time.Duration, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return models.DefaultLookback, nil
	}
	if d, ok := lookbackAliases[key]; ok {
		return d, nil
	}
	d, err := time.ParseDuration(key)
	if err != nil {
		return 0, fmt.Errorf("invalid lookback %q: %w", raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("lookback must be positive, got %q", raw)
	}
	return d, nil
}
