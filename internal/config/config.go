// =============================================================================
// BI Recon Engine - Configuration Module
// =============================================================================
//
// This module is responsible for loading and managing the application
// configuration.
//
// CONFIGURATION SOURCES:
//   1. Main Config (config.yaml): directories, reference workbooks, truth
//      workbook locations, reconciliation settings, server settings
//   2. Environment (.env / process env): overrides for the truth workbook
//      paths and the server address, since those move between environments
//      while the rest of the config is stable
//
// All omitted fields take documented defaults, so an empty config file is a
// working configuration for local use.
//
// =============================================================================

package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// MAIN CONFIGURATION STRUCTURE
// =============================================================================

// Config holds the global application configuration.
type Config struct {
	// =========================================================================
	// DIRECTORY SETTINGS
	// =========================================================================

	// InputDir is the directory scanned for raw department workbooks.
	// Default: "./input"
	InputDir string `yaml:"input_dir"`

	// OutputDir is the directory where cleaned artifacts and validation
	// reports are written.
	// Default: "./output"
	OutputDir string `yaml:"output_dir"`

	// WorkDir is the root for per-session working directories used by the
	// HTTP service.
	// Default: "./work"
	WorkDir string `yaml:"work_dir"`

	// =========================================================================
	// REFERENCE WORKBOOKS
	// =========================================================================

	// DirectoryFile is the company directory workbook (entity codes, OE
	// aliases, currency pairs, grouping units).
	// Default: "./reference/Directory.xlsx"
	DirectoryFile string `yaml:"directory_file"`

	// RatesFile is the monthly currency rate workbook.
	// Default: "./reference/Currency Rates.xlsx"
	RatesFile string `yaml:"rates_file"`

	// CostElementFile maps cost elements to expense groups for the
	// period-expense pipeline.
	// Default: "./reference/PEX Cost Element.xlsx"
	CostElementFile string `yaml:"cost_element_file"`

	// HeadcountFile is the headcount database workbook.
	// Default: "./reference/HeadcountDatabase.xlsx"
	HeadcountFile string `yaml:"headcount_file"`

	// =========================================================================
	// TRUTH (HYPERION) WORKBOOKS
	// =========================================================================

	Truth TruthConfig `yaml:"truth"`

	// =========================================================================
	// RECONCILIATION SETTINGS
	// =========================================================================

	// Tolerance is the absolute matching cutoff of the validation report.
	// Default: 5.0
	Tolerance float64 `yaml:"tolerance"`

	// =========================================================================
	// LOGGING SETTINGS
	// =========================================================================

	// LogLevel controls the verbosity of logging.
	// Valid values: "debug", "info", "warn", "error"
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// =========================================================================
	// PROCESSING SETTINGS
	// =========================================================================

	// MaxConcurrency is the maximum number of files processed concurrently.
	// Set to 1 for sequential processing.
	// Default: 4
	MaxConcurrency int `yaml:"max_concurrency"`

	// =========================================================================
	// SERVER SETTINGS
	// =========================================================================

	// ServerAddr is the listen address of the HTTP session service.
	// Default: ":8080"
	ServerAddr string `yaml:"server_addr"`
}

// TruthConfig locates the Hyperion extracts per reconciliation flavor.
type TruthConfig struct {
	// SalesThirdParty is the sales truth workbook for 3RD artifacts.
	SalesThirdParty string `yaml:"sales_third_party"`

	// SalesIntercompany is the sales truth workbook for IC artifacts.
	SalesIntercompany string `yaml:"sales_intercompany"`

	// OrderEntryDir is the folder holding the order-entry truth workbook;
	// the first .xlsx found there is used.
	OrderEntryDir string `yaml:"order_entry_dir"`

	// PeriodExpense is the period-expense truth workbook.
	PeriodExpense string `yaml:"period_expense"`
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the configuration file, applies defaults for every omitted
// field, and then applies environment overrides. A missing config file is
// not an error; defaults plus environment make a complete configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to defaults
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	def(&c.InputDir, "./input")
	def(&c.OutputDir, "./output")
	def(&c.WorkDir, "./work")
	def(&c.DirectoryFile, "./reference/Directory.xlsx")
	def(&c.RatesFile, "./reference/Currency Rates.xlsx")
	def(&c.CostElementFile, "./reference/PEX Cost Element.xlsx")
	def(&c.HeadcountFile, "./reference/HeadcountDatabase.xlsx")
	def(&c.LogLevel, "info")
	def(&c.ServerAddr, ":8080")
	if c.Tolerance == 0 {
		c.Tolerance = 5.0
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
}

// applyEnv loads .env when present and lets environment variables override
// the deployment-specific paths.
func (c *Config) applyEnv() {
	// A missing .env file simply means the process environment stands alone.
	_ = godotenv.Load()

	override := func(v *string, key string) {
		if val := os.Getenv(key); val != "" {
			*v = val
		}
	}
	override(&c.DirectoryFile, "BIRECON_DIRECTORY_FILE")
	override(&c.RatesFile, "BIRECON_RATES_FILE")
	override(&c.Truth.SalesThirdParty, "BIRECON_TRUTH_SALES_3RD")
	override(&c.Truth.SalesIntercompany, "BIRECON_TRUTH_SALES_IC")
	override(&c.Truth.OrderEntryDir, "BIRECON_TRUTH_OE_DIR")
	override(&c.Truth.PeriodExpense, "BIRECON_TRUTH_PEX")
	override(&c.ServerAddr, "BIRECON_SERVER_ADDR")
}
