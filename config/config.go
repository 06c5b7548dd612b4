// Package config loads and validates the YAML settings file that describes
// the printer/scanner fleet and the external collaborators (database,
// accounts API, document converter, chat bot).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Printer describes one configured printer.
type Printer struct {
	// DisplayName is shown to users in menus.
	DisplayName string `yaml:"display_name" json:"display_name"`
	// CupsName identifies the printer on the CUPS server.
	CupsName string `yaml:"cups_name" json:"cups_name"`
	// IPP is the host[:port] of the printer's IPP endpoint. Port 631 is
	// assumed when omitted.
	IPP string `yaml:"ipp" json:"ipp"`
}

// Scanner describes one configured eSCL scanner.
type Scanner struct {
	DisplayName string `yaml:"display_name" json:"display_name"`
	Name        string `yaml:"name" json:"name"`
	// ESCL is the base URL of the scanner's eSCL endpoint, e.g.
	// "https://192.168.1.20/eSCL".
	ESCL string `yaml:"escl" json:"escl"`
}

// DatabaseConfig selects and parameterizes the conversation store backend.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `yaml:"driver"`
	// Path is the SQLite database path.
	Path string `yaml:"path"`
	// DSN is the Postgres connection string.
	DSN string `yaml:"dsn"`
}

// AccountsConfig points at the identity provider.
type AccountsConfig struct {
	// APIURL is the base URL of the accounts API.
	APIURL string `yaml:"api_url"`
	// APIJWTToken authenticates this service against the accounts API.
	APIJWTToken string `yaml:"api_jwt_token"`
}

// APIConfig groups the HTTP API settings.
type APIConfig struct {
	// AppRootPath prefixes every route, e.g. "/api/v0".
	AppRootPath string `yaml:"app_root_path"`
	// Listen is the address the HTTP server binds, default ":8000".
	Listen string `yaml:"listen"`
	// CORSAllowOriginRegex restricts cross-origin callers. Default ".*".
	CORSAllowOriginRegex string `yaml:"cors_allow_origin_regex"`
	// CupsServer is the host[:port] of the CUPS server jobs are submitted
	// to. Default "localhost:631".
	CupsServer string `yaml:"cups_server"`
	// ConverterURL is the endpoint of the document-to-PDF converter.
	ConverterURL string `yaml:"converter_url"`
	// TempDir stores converted and scanned artifacts.
	TempDir string `yaml:"temp_dir"`
	// Printers and Scanners enumerate the device fleet.
	Printers []Printer      `yaml:"printers"`
	Scanners []Scanner      `yaml:"scanners"`
	Database DatabaseConfig `yaml:"database"`
	Accounts AccountsConfig `yaml:"accounts"`
}

// BotConfig groups the chat front-end settings.
type BotConfig struct {
	// BotToken is the shared secret of the chat bot. It doubles as the
	// trailing secret of composite bot credentials.
	BotToken string `yaml:"bot_token"`
}

// Config is the root of the settings file.
type Config struct {
	API APIConfig `yaml:"api"`
	Bot BotConfig `yaml:"bot"`
}

// Load reads, parses and validates the settings file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FindSettingsFile searches the usual locations for the named settings file
// and returns the first that exists.
func FindSettingsFile(filename string) (string, error) {
	var paths []string
	paths = append(paths, filepath.Join("/etc/printdesk", filename))
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "printdesk", filename))
	}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), filename))
	}
	paths = append(paths, filepath.Join(".", filename))

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s not found in any search path", filename)
}

func (c *Config) applyDefaults() {
	if c.API.Listen == "" {
		c.API.Listen = ":8000"
	}
	if c.API.CORSAllowOriginRegex == "" {
		c.API.CORSAllowOriginRegex = ".*"
	}
	if c.API.CupsServer == "" {
		c.API.CupsServer = "localhost:631"
	}
	if c.API.TempDir == "" {
		c.API.TempDir = "./tmp"
	}
	if c.API.Database.Driver == "" {
		c.API.Database.Driver = "sqlite"
	}
	if c.API.Database.Driver == "sqlite" && c.API.Database.Path == "" {
		c.API.Database.Path = "printdesk.db"
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if _, err := regexp.Compile(c.API.CORSAllowOriginRegex); err != nil {
		return fmt.Errorf("invalid cors_allow_origin_regex: %w", err)
	}
	seen := map[string]bool{}
	for i, p := range c.API.Printers {
		if p.CupsName == "" {
			return fmt.Errorf("printer %d: cups_name is required", i)
		}
		if p.IPP == "" {
			return fmt.Errorf("printer %q: ipp endpoint is required", p.CupsName)
		}
		if seen[p.CupsName] {
			return fmt.Errorf("printer %q: duplicate cups_name", p.CupsName)
		}
		seen[p.CupsName] = true
	}
	seenScanner := map[string]bool{}
	for i, s := range c.API.Scanners {
		if s.Name == "" {
			return fmt.Errorf("scanner %d: name is required", i)
		}
		if s.ESCL == "" {
			return fmt.Errorf("scanner %q: escl base url is required", s.Name)
		}
		if seenScanner[s.Name] {
			return fmt.Errorf("scanner %q: duplicate name", s.Name)
		}
		seenScanner[s.Name] = true
	}
	switch c.API.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q (supported: sqlite, postgres)", c.API.Database.Driver)
	}
	if c.API.Database.Driver == "postgres" && c.API.Database.DSN == "" {
		return fmt.Errorf("database driver postgres requires dsn")
	}
	if c.API.Accounts.APIURL == "" {
		return fmt.Errorf("accounts.api_url is required")
	}
	return nil
}

// PrinterByCupsName returns the configured printer with the given CUPS name.
func (c *Config) PrinterByCupsName(name string) (Printer, bool) {
	for _, p := range c.API.Printers {
		if p.CupsName == name {
			return p, true
		}
	}
	return Printer{}, false
}

// ScannerByName returns the configured scanner with the given name.
func (c *Config) ScannerByName(name string) (Scanner, bool) {
	for _, s := range c.API.Scanners {
		if s.Name == name {
			return s, true
		}
	}
	return Scanner{}, false
}
