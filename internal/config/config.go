package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// JournalOff disables the run journal when used as the journal path.
const JournalOff = "off"

// Instance holds the endpoint and vendor credentials of one platform
// instance.
type Instance struct {
	BaseURL  string `yaml:"base_url"`
	ClientID string `yaml:"client_id"`
	APIKey   string `yaml:"api_key"`
}

// Complete reports whether every field is set.
func (i Instance) Complete() bool {
	return i.BaseURL != "" && i.ClientID != "" && i.APIKey != ""
}

// Wipe selects the destination resources the admin wipe deletes.
type Wipe struct {
	Tenants      bool `yaml:"tenants"`
	Users        bool `yaml:"users"`
	Permissions  bool `yaml:"permissions"`
	Roles        bool `yaml:"roles"`
	Applications bool `yaml:"applications"`
	Prehooks     bool `yaml:"prehooks"`
}

// Config represents the application configuration
type Config struct {
	Source      Instance `yaml:"source"`
	Destination Instance `yaml:"destination"`

	// Steps enables migration steps by step name.
	Steps map[string]bool `yaml:"steps"`

	// MigrateUserRoles adds destination role ids to the user import.
	MigrateUserRoles bool `yaml:"migrate_user_roles"`

	Wipe Wipe `yaml:"wipe"`

	RateLimitRPM     int           `yaml:"rate_limit_rpm"`
	RateLimitBackoff time.Duration `yaml:"rate_limit_backoff"`
	HTTPTimeout      time.Duration `yaml:"http_timeout"`

	DataDir     string `yaml:"data_dir"`
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	JournalPath string `yaml:"journal_path"`
	PolicyPath  string `yaml:"policy_path"`
	StrictKeys  bool   `yaml:"strict_keys"`
}

// stepEnv maps each step to the variables that enable it. Later names are
// accepted aliases.
var stepEnv = []struct {
	step string
	vars []string
}{
	{"tenants", []string{"MIGRATE_TENANTS"}},
	{"categories", []string{"MIGRATE_CATEGORIES"}},
	{"permissions", []string{"MIGRATE_PERMISSIONS"}},
	{"roles", []string{"MIGRATE_ROLES"}},
	{"users", []string{"MIGRATE_USERS"}},
	{"bulk_invite", []string{"BULK_INVITE_USERS_TO_TENANTS"}},
	{"role_assignment", []string{"ASSIGN_ROLES_TO_USERS_ON_ALL_TENANTS"}},
	{"groups", []string{"MIGRATE_GROUPS"}},
	{"applications", []string{"MIGRATE_APPLICATIONS"}},
	{"security_rules", []string{"MIGRATE_SECURITY_RULES"}},
	{"email_templates", []string{"MIGRATE_EMAIL_TEMPLATES"}},
	{"email_sender", []string{"MIGRATE_EMAIL_SENDER"}},
	{"prehooks", []string{"MIGRATE_PREHOOKS"}},
	{"allowed_origins", []string{"MIGRATE_ALLOWED_ORIGINS"}},
	{"jwt_settings", []string{"MIGRATE_JWT_SETTINGS", "MIGRATE_JWT_SETTINTS"}},
}

// StepEnv returns the primary variable that enables step.
func StepEnv(step string) string {
	for _, s := range stepEnv {
		if s.step == step {
			return s.vars[0]
		}
	}
	return ""
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Steps:            map[string]bool{},
		RateLimitRPM:     30,
		RateLimitBackoff: 60 * time.Second,
		HTTPTimeout:      30 * time.Second,
		DataDir:          "account_data",
		LogLevel:         "info",
	}
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables
// 2. ./.env.local and ./.env (dotenv); .env.local is searched for in
// parent directories too
// 3. ~/.config/acctmigrate/config.yaml (YAML)
// Command-line flags are applied on top by the caller.
func Load() (*Config, error) {
	cfg := Default()

	// godotenv never overrides variables that are already set
	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	if err := loadYAMLConfig(cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.JournalPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.JournalPath = filepath.Join(homeDir, ".local", "share", "acctmigrate", "journal.db")
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Source.BaseURL, getEnvOrFile("BASE_URL_1", "BASE_URL_1_FILE"))
	setString(&cfg.Source.ClientID, getEnvOrFile("CLIENT_ID_1", "CLIENT_ID_1_FILE"))
	setString(&cfg.Source.APIKey, getEnvOrFile("API_KEY_1", "API_KEY_1_FILE"))
	setString(&cfg.Destination.BaseURL, getEnvOrFile("BASE_URL_2", "BASE_URL_2_FILE"))
	setString(&cfg.Destination.ClientID, getEnvOrFile("CLIENT_ID_2", "CLIENT_ID_2_FILE"))
	setString(&cfg.Destination.APIKey, getEnvOrFile("API_KEY_2", "API_KEY_2_FILE"))

	if cfg.Steps == nil {
		cfg.Steps = map[string]bool{}
	}
	for _, s := range stepEnv {
		for _, v := range s.vars {
			if val, ok := os.LookupEnv(v); ok {
				cfg.Steps[s.step] = parseBool(val)
				break
			}
		}
	}
	setBool(&cfg.MigrateUserRoles, "MIGRATE_USER_ROLES")

	setBool(&cfg.Wipe.Tenants, "DELETE_TENANTS")
	setBool(&cfg.Wipe.Users, "DELETE_USERS")
	setBool(&cfg.Wipe.Permissions, "DELETE_PERMISSIONS")
	setBool(&cfg.Wipe.Roles, "DELETE_ROLES")
	setBool(&cfg.Wipe.Applications, "DELETE_APPLICATIONS")
	setBool(&cfg.Wipe.Prehooks, "DELETE_PREHOOKS")

	if v := os.Getenv("RATE_LIMIT_RPM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_RPM %q: %w", v, err)
		}
		cfg.RateLimitRPM = n
	}
	if err := setDuration(&cfg.RateLimitBackoff, "RATE_LIMIT_BACKOFF"); err != nil {
		return err
	}
	if err := setDuration(&cfg.HTTPTimeout, "HTTP_TIMEOUT"); err != nil {
		return err
	}

	setString(&cfg.DataDir, os.Getenv("DATA_DIR"))
	setString(&cfg.LogLevel, os.Getenv("LOG_LEVEL"))
	setString(&cfg.LogFile, os.Getenv("LOG_FILE"))
	setString(&cfg.JournalPath, os.Getenv("JOURNAL_PATH"))
	setString(&cfg.PolicyPath, os.Getenv("POLICY_PATH"))
	setBool(&cfg.StrictKeys, "STRICT_KEYS")
	return nil
}

// AnyStep reports whether at least one migration step is enabled.
func (c *Config) AnyStep() bool {
	for _, on := range c.Steps {
		if on {
			return true
		}
	}
	return false
}

// JournalEnabled reports whether runs are recorded.
func (c *Config) JournalEnabled() bool {
	return c.JournalPath != "" && !strings.EqualFold(c.JournalPath, JournalOff)
}

// Validate checks the settings a migration run needs. Credentials for both
// instances are required as soon as any step is enabled.
func (c *Config) Validate() error {
	if c.RateLimitRPM < 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must not be negative")
	}
	if c.RateLimitBackoff < 0 || c.HTTPTimeout <= 0 {
		return fmt.Errorf("RATE_LIMIT_BACKOFF and HTTP_TIMEOUT must be positive durations")
	}
	if !c.AnyStep() {
		return nil
	}
	if err := requireInstance("1", c.Source); err != nil {
		return err
	}
	return requireInstance("2", c.Destination)
}

// ValidateDestination checks the settings the admin commands need.
func (c *Config) ValidateDestination() error {
	return requireInstance("2", c.Destination)
}

func requireInstance(n string, i Instance) error {
	var missing []string
	if i.BaseURL == "" {
		missing = append(missing, "BASE_URL_"+n)
	}
	if i.ClientID == "" {
		missing = append(missing, "CLIENT_ID_"+n)
	}
	if i.APIKey == "" {
		missing = append(missing, "API_KEY_"+n)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// loadYAMLConfig loads configuration from ~/.config/acctmigrate/config.yaml
func loadYAMLConfig(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(homeDir, ".config", "acctmigrate", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("invalid %s: %w", configPath, err)
	}
	return nil
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}

	if filePath := os.Getenv(fileVar); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}

	return ""
}

func setString(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

func setBool(dst *bool, envVar string) {
	if val, ok := os.LookupEnv(envVar); ok {
		*dst = parseBool(val)
	}
}

func setDuration(dst *time.Duration, envVar string) error {
	val := os.Getenv(envVar)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", envVar, val, err)
	}
	*dst = d
	return nil
}

// parseBool accepts "true", "1" and "yes" in any case; anything else is
// false.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
// Returns the path to .env.local if found, empty string otherwise.
func findEnvLocal() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// If we can't get home dir, just check cwd
		if _, err := os.Stat(".env.local"); err == nil {
			return ".env.local"
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	// Clean paths for reliable comparison
	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		// Stop if we've reached home directory
		if dir == homeDir {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}

		dir = parent
	}

	return ""
}
