package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds the full TOML-driven tool configuration.
type Config struct {
	Database        DatabaseConfig  `toml:"database"`
	Model           string          `toml:"model"`
	BackupDir       string          `toml:"backup_dir"`
	BackupRetention int             `toml:"backup_retention"` // 0 = unlimited
	BatchSize       int             `toml:"batch_size"`
	Verify          VerifyConfig    `toml:"verify"`
	Anonymize       AnonymizeConfig `toml:"anonymize"`
	Hooks           HooksConfig     `toml:"hooks"`

	// configDir is the directory containing the TOML file, used to resolve
	// relative model, hook, and backup paths.
	configDir string
}

// DatabaseConfig identifies the live database engine and connection string.
type DatabaseConfig struct {
	Type string `toml:"type"` // "sqlite", "mysql" or "postgres"
	DSN  string `toml:"dsn"`
}

type VerifyConfig struct {
	CredentialColumns []string `toml:"credential_columns"`
}

type AnonymizeConfig struct {
	Columns []string `toml:"columns"`
}

type HooksConfig struct {
	BeforeMigrate []string `toml:"before_migrate"`
	AfterMigrate  []string `toml:"after_migrate"`
}

// loadConfig reads a TOML config file and returns a Config with defaults
// applied.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Config{
		BackupDir: ".",
		BatchSize: 500,
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if unknown := md.Undecoded(); len(unknown) > 0 {
		keys := make([]string, len(unknown))
		for i, k := range unknown {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg.configDir = filepath.Dir(absPath)

	if cfg.Database.Type == "" {
		return nil, fmt.Errorf("database.type is required (must be sqlite, mysql or postgres)")
	}
	if _, err := newDialect(cfg.Database.Type); err != nil {
		return nil, err
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch_size must be positive")
	}
	if cfg.BackupRetention < 0 {
		return nil, fmt.Errorf("backup_retention must not be negative")
	}
	cfg.BackupDir = cfg.resolvePath(cfg.BackupDir)

	// The built-in application model supplies these when unset.
	if cfg.Verify.CredentialColumns == nil {
		cfg.Verify.CredentialColumns = defaultCredentialColumns()
	}
	if cfg.Anonymize.Columns == nil {
		cfg.Anonymize.Columns = defaultSensitiveColumns()
	}

	return &cfg, nil
}

// loadModel returns the desired schema: the model file named in the
// config, or the built-in application model when none is named.
func (c *Config) loadModel() (*Snapshot, error) {
	if c.Model == "" {
		return jurifixModel(), nil
	}
	return loadModelFile(c.resolvePath(c.Model))
}

// resolvePath resolves a path relative to the config file directory.
func (c *Config) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.configDir, p)
}
