package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFindEnvLocal_InCurrentDir(t *testing.T) {
	// Create temp directory structure
	tmpDir := t.TempDir()
	envPath := filepath.Join(tmpDir, ".env.local")
	if err := os.WriteFile(envPath, []byte("TEST=value"), 0644); err != nil {
		t.Fatal(err)
	}

	// Change to temp dir
	oldCwd, _ := os.Getwd()
	defer os.Chdir(oldCwd)
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatal(err)
	}

	result := findEnvLocal()
	if result == "" {
		t.Error("expected to find .env.local in current directory")
	}
}

func TestFindEnvLocal_InParentDir(t *testing.T) {
	// Create temp directory structure: parent/.env.local, parent/child/
	tmpDir := t.TempDir()
	childDir := filepath.Join(tmpDir, "child")
	if err := os.Mkdir(childDir, 0755); err != nil {
		t.Fatal(err)
	}
	envPath := filepath.Join(tmpDir, ".env.local")
	if err := os.WriteFile(envPath, []byte("TEST=parent"), 0644); err != nil {
		t.Fatal(err)
	}

	// Change to child dir
	oldCwd, _ := os.Getwd()
	defer os.Chdir(oldCwd)
	if err := os.Chdir(childDir); err != nil {
		t.Fatal(err)
	}

	result := findEnvLocal()
	if result == "" {
		t.Error("expected to find .env.local in parent directory")
	}
	// Resolve symlinks for comparison (macOS /var -> /private/var)
	expectedResolved, _ := filepath.EvalSymlinks(envPath)
	resultResolved, _ := filepath.EvalSymlinks(result)
	if resultResolved != expectedResolved {
		t.Errorf("expected %s, got %s", expectedResolved, resultResolved)
	}
}

func TestFindEnvLocal_InGrandparentDir(t *testing.T) {
	// Create: grandparent/.env.local, grandparent/parent/child/
	tmpDir := t.TempDir()
	parentDir := filepath.Join(tmpDir, "parent")
	childDir := filepath.Join(parentDir, "child")
	if err := os.MkdirAll(childDir, 0755); err != nil {
		t.Fatal(err)
	}
	envPath := filepath.Join(tmpDir, ".env.local")
	if err := os.WriteFile(envPath, []byte("TEST=grandparent"), 0644); err != nil {
		t.Fatal(err)
	}

	// Change to grandchild dir
	oldCwd, _ := os.Getwd()
	defer os.Chdir(oldCwd)
	if err := os.Chdir(childDir); err != nil {
		t.Fatal(err)
	}

	result := findEnvLocal()
	if result == "" {
		t.Error("expected to find .env.local in grandparent directory")
	}
	// Resolve symlinks for comparison (macOS /var -> /private/var)
	expectedResolved, _ := filepath.EvalSymlinks(envPath)
	resultResolved, _ := filepath.EvalSymlinks(result)
	if resultResolved != expectedResolved {
		t.Errorf("expected %s, got %s", expectedResolved, resultResolved)
	}
}

func TestFindEnvLocal_ClosestWins(t *testing.T) {
	// Create: grandparent/.env.local, grandparent/parent/.env.local, grandparent/parent/child/
	tmpDir := t.TempDir()
	parentDir := filepath.Join(tmpDir, "parent")
	childDir := filepath.Join(parentDir, "child")
	if err := os.MkdirAll(childDir, 0755); err != nil {
		t.Fatal(err)
	}

	// Create .env.local in both grandparent and parent
	if err := os.WriteFile(filepath.Join(tmpDir, ".env.local"), []byte("TEST=grandparent"), 0644); err != nil {
		t.Fatal(err)
	}
	parentEnvPath := filepath.Join(parentDir, ".env.local")
	if err := os.WriteFile(parentEnvPath, []byte("TEST=parent"), 0644); err != nil {
		t.Fatal(err)
	}

	// Change to child dir
	oldCwd, _ := os.Getwd()
	defer os.Chdir(oldCwd)
	if err := os.Chdir(childDir); err != nil {
		t.Fatal(err)
	}

	result := findEnvLocal()
	// Resolve symlinks for comparison (macOS /var -> /private/var)
	expectedResolved, _ := filepath.EvalSymlinks(parentEnvPath)
	resultResolved, _ := filepath.EvalSymlinks(result)
	if resultResolved != expectedResolved {
		t.Errorf("expected closest .env.local (%s), got %s", expectedResolved, resultResolved)
	}
}

func TestFindEnvLocal_NotFound(t *testing.T) {
	// Create temp directory with no .env.local
	tmpDir := t.TempDir()

	// Change to temp dir
	oldCwd, _ := os.Getwd()
	defer os.Chdir(oldCwd)
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatal(err)
	}

	result := findEnvLocal()
	if result != "" {
		t.Errorf("expected empty string when no .env.local found, got %s", result)
	}
}

// isolate points HOME and the working directory at empty temp dirs so no
// developer config leaks into Load.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	work := filepath.Join(home, "work")
	if err := os.Mkdir(work, 0755); err != nil {
		t.Fatal(err)
	}
	t.Chdir(work)
	return home
}

func TestLoad_Defaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateLimitRPM != 30 {
		t.Errorf("RateLimitRPM = %d, want 30", cfg.RateLimitRPM)
	}
	if cfg.RateLimitBackoff != 60*time.Second || cfg.HTTPTimeout != 30*time.Second {
		t.Errorf("unexpected durations: backoff=%v timeout=%v", cfg.RateLimitBackoff, cfg.HTTPTimeout)
	}
	if cfg.DataDir != "account_data" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	want := filepath.Join(home, ".local", "share", "acctmigrate", "journal.db")
	if cfg.JournalPath != want {
		t.Errorf("JournalPath = %q, want %q", cfg.JournalPath, want)
	}
	if cfg.AnyStep() {
		t.Error("no step should be enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate with no steps: %v", err)
	}
}

func TestLoad_EnvironmentFlags(t *testing.T) {
	isolate(t)
	t.Setenv("BASE_URL_1", "https://src.example.com")
	t.Setenv("CLIENT_ID_1", "cid-1")
	t.Setenv("API_KEY_1", "key-1")
	t.Setenv("BASE_URL_2", "https://dst.example.com")
	t.Setenv("CLIENT_ID_2", "cid-2")
	t.Setenv("API_KEY_2", "key-2")
	t.Setenv("MIGRATE_TENANTS", "True")
	t.Setenv("MIGRATE_ROLES", "false")
	t.Setenv("MIGRATE_JWT_SETTINTS", "true")
	t.Setenv("DELETE_PREHOOKS", "1")
	t.Setenv("RATE_LIMIT_RPM", "0")
	t.Setenv("HTTP_TIMEOUT", "5s")
	t.Setenv("JOURNAL_PATH", "off")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Steps["tenants"] || cfg.Steps["roles"] {
		t.Errorf("unexpected steps: %v", cfg.Steps)
	}
	if !cfg.Steps["jwt_settings"] {
		t.Error("misspelled JWT variable should enable jwt_settings")
	}
	if !cfg.Wipe.Prehooks || cfg.Wipe.Users {
		t.Errorf("unexpected wipe flags: %+v", cfg.Wipe)
	}
	if cfg.RateLimitRPM != 0 || cfg.HTTPTimeout != 5*time.Second {
		t.Errorf("tuning not applied: rpm=%d timeout=%v", cfg.RateLimitRPM, cfg.HTTPTimeout)
	}
	if cfg.JournalEnabled() {
		t.Error("journal should be disabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_CorrectSpellingWinsOverAlias(t *testing.T) {
	isolate(t)
	t.Setenv("MIGRATE_JWT_SETTINGS", "false")
	t.Setenv("MIGRATE_JWT_SETTINTS", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Steps["jwt_settings"] {
		t.Error("MIGRATE_JWT_SETTINGS should take precedence")
	}
}

func TestLoad_PrecedenceEnvOverDotenvOverYAML(t *testing.T) {
	home := isolate(t)
	cfgDir := filepath.Join(home, ".config", "acctmigrate")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatal(err)
	}
	yamlDoc := "data_dir: from-yaml\nlog_level: debug\nrate_limit_backoff: 2m\nsteps:\n  groups: true\n"
	if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(yamlDoc), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(".env.local", []byte("DATA_DIR=from-dotenv\nLOG_LEVEL=warn\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOG_LEVEL", "error")
	// godotenv sets variables on the process; clear them after the test
	t.Setenv("DATA_DIR", "")
	os.Unsetenv("DATA_DIR")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want env value", cfg.LogLevel)
	}
	if cfg.DataDir != "from-dotenv" {
		t.Errorf("DataDir = %q, want dotenv value", cfg.DataDir)
	}
	if cfg.RateLimitBackoff != 2*time.Minute {
		t.Errorf("RateLimitBackoff = %v, want yaml value", cfg.RateLimitBackoff)
	}
	if !cfg.Steps["groups"] {
		t.Error("yaml step flag not applied")
	}
}

func TestLoad_SecretFromFile(t *testing.T) {
	home := isolate(t)
	keyPath := filepath.Join(home, "key")
	if err := os.WriteFile(keyPath, []byte("  from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("API_KEY_2", "")
	t.Setenv("API_KEY_2_FILE", keyPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Destination.APIKey != "from-file" {
		t.Errorf("APIKey = %q", cfg.Destination.APIKey)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	isolate(t)
	t.Setenv("RATE_LIMIT_BACKOFF", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestValidate_MissingCredentials(t *testing.T) {
	cfg := Default()
	cfg.Steps["tenants"] = true
	cfg.Source = Instance{BaseURL: "https://src", ClientID: "c", APIKey: "k"}
	cfg.Destination = Instance{BaseURL: "https://dst"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "missing required configuration: CLIENT_ID_2, API_KEY_2" {
		t.Errorf("unexpected error: %s", got)
	}
	if err := cfg.ValidateDestination(); err == nil {
		t.Error("ValidateDestination should fail too")
	}
}

func TestStepEnv(t *testing.T) {
	if got := StepEnv("role_assignment"); got != "ASSIGN_ROLES_TO_USERS_ON_ALL_TENANTS" {
		t.Errorf("StepEnv = %q", got)
	}
	if got := StepEnv("jwt_settings"); got != "MIGRATE_JWT_SETTINGS" {
		t.Errorf("StepEnv = %q", got)
	}
	if StepEnv("nope") != "" {
		t.Error("unknown step should have no variable")
	}
}
