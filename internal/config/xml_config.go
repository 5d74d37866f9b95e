// Package config provides XML-based configuration management for air-gapped deployment.
package config

import (
	"encoding/xml"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"KSar"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// Storage configuration
	Storage StorageConfig `xml:"Storage"`

	// Processing configuration
	Processing ProcessingConfig `xml:"Processing"`

	// Report parsing
	Parsing ParsingConfig `xml:"Parsing"`

	// Security configuration
	Security SecurityConfig `xml:"Security"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port           int    `xml:"Port"`
	BindAddress    string `xml:"BindAddress"`
	EnableCORS     bool   `xml:"EnableCORS"`
	AllowOrigins   string `xml:"AllowOrigins"`
	ReadTimeout    int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout   int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout    int    `xml:"IdleTimeoutSeconds"`
	RequestTimeout int    `xml:"RequestTimeoutSeconds"`
	BodyLimit      string `xml:"BodyLimit"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory       string `xml:"DataDirectory"`
	UploadsDirectory    string `xml:"UploadsDirectory"`
	TempDirectory       string `xml:"TempDirectory"`
	ParsedDataDirectory string `xml:"ParsedDataDirectory"`
	EnablePersistence   bool   `xml:"EnablePersistence"`
}

// ProcessingConfig contains parse scheduling settings
type ProcessingConfig struct {
	MaxConcurrentParses    int  `xml:"MaxConcurrentParses"`
	SessionTimeoutMinutes  int  `xml:"SessionTimeoutMinutes"`
	CleanupIntervalMinutes int  `xml:"CleanupIntervalMinutes"`
	EnableCompression      bool `xml:"EnableCompression"`
	CompressionLevel       int  `xml:"CompressionLevel"`
}

// ParsingConfig controls how reports are read
type ParsingConfig struct {
	// DateFormat is "Automatic Detection" or one of the named formats (e.g. "MM/dd/yy").
	DateFormat            string `xml:"DateFormat"`
	MaxReportedLineErrors int    `xml:"MaxReportedLineErrors"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	AllowFileDeletion bool   `xml:"AllowFileDeletion"`
	AllowedFileTypes  string `xml:"AllowedFileTypes"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string `xml:"LogLevel"`
	LogFile              string `xml:"LogFile"`
	EnableRequestLogging bool   `xml:"EnableRequestLogging"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:           8089,
			BindAddress:    "0.0.0.0",
			EnableCORS:     true,
			AllowOrigins:   "*",
			ReadTimeout:    30,
			WriteTimeout:   30,
			IdleTimeout:    120,
			RequestTimeout: 300,
			BodyLimit:      "2G",
		},
		Storage: StorageConfig{
			DataDirectory:       "./data",
			UploadsDirectory:    "./data/uploads",
			TempDirectory:       "./data/temp",
			ParsedDataDirectory: "./data/parsed",
			EnablePersistence:   true,
		},
		Processing: ProcessingConfig{
			MaxConcurrentParses:    3,
			SessionTimeoutMinutes:  30,
			CleanupIntervalMinutes: 5,
			EnableCompression:      true,
			CompressionLevel:       5,
		},
		Parsing: ParsingConfig{
			DateFormat:            "Automatic Detection",
			MaxReportedLineErrors: 100,
		},
		Security: SecurityConfig{
			AllowFileDeletion: true,
			AllowedFileTypes:  ".txt,.sar,.log,.out,.gz",
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			EnableRequestLogging: true,
		},
	}
}

const fileHeader = "\n<!-- kSar report server configuration -->\n<!-- This file is auto-generated on first run -->\n\n"

// LoadConfig reads the XML file at configPath, writing the defaults there
// first when it does not exist. Elements missing from the file keep their
// default. Environment overrides are applied and relative directories are
// resolved against the directory of configPath.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := xml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnvironmentOverrides()
	config.normalize()
	config.resolvePaths(filepath.Dir(configPath))
	return config, nil
}

// Save writes the configuration as indented XML.
func (c *AppConfig) Save(configPath string) error {
	body, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	content := make([]byte, 0, len(xml.Header)+len(fileHeader)+len(body)+1)
	content = append(content, xml.Header...)
	content = append(content, fileHeader...)
	content = append(content, body...)
	content = append(content, '\n')
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

var envOverrides = []struct {
	name  string
	apply func(c *AppConfig, v string)
}{
	{"PORT", func(c *AppConfig, v string) {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}},
	{"DATA_DIR", func(c *AppConfig, v string) {
		c.Storage.DataDirectory = v
		c.Storage.UploadsDirectory = filepath.Join(v, "uploads")
		c.Storage.TempDirectory = filepath.Join(v, "temp")
		c.Storage.ParsedDataDirectory = filepath.Join(v, "parsed")
	}},
	{"KSAR_DATE_FORMAT", func(c *AppConfig, v string) { c.Parsing.DateFormat = v }},
	{"KSAR_LOG_LEVEL", func(c *AppConfig, v string) { c.Advanced.LogLevel = strings.ToLower(v) }},
}

func (c *AppConfig) applyEnvironmentOverrides() {
	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			o.apply(c, v)
		}
	}
}

// normalize replaces values that cannot work with their defaults.
func (c *AppConfig) normalize() {
	def := DefaultConfig()
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		c.Server.Port = def.Server.Port
	}
	if c.Processing.MaxConcurrentParses < 1 {
		c.Processing.MaxConcurrentParses = 1
	}
	if c.Parsing.MaxReportedLineErrors < 0 {
		c.Parsing.MaxReportedLineErrors = def.Parsing.MaxReportedLineErrors
	}
	if strings.TrimSpace(c.Parsing.DateFormat) == "" {
		c.Parsing.DateFormat = def.Parsing.DateFormat
	}
}

func (c *AppConfig) storageDirs() []*string {
	return []*string{
		&c.Storage.DataDirectory,
		&c.Storage.UploadsDirectory,
		&c.Storage.TempDirectory,
		&c.Storage.ParsedDataDirectory,
	}
}

func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range c.storageDirs() {
		if !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
	// an empty log file means stderr
	if c.Advanced.LogFile != "" && !filepath.IsAbs(c.Advanced.LogFile) {
		c.Advanced.LogFile = filepath.Join(configDir, c.Advanced.LogFile)
	}
}

// GetServerAddr returns the host:port the server listens on.
func (c *AppConfig) GetServerAddr() string {
	return net.JoinHostPort(c.Server.BindAddress, strconv.Itoa(c.Server.Port))
}

// AllowedExtensions returns the lowercased upload extensions; empty allows everything.
func (c *AppConfig) AllowedExtensions() []string {
	var exts []string
	for _, e := range strings.Split(c.Security.AllowedFileTypes, ",") {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			exts = append(exts, e)
		}
	}
	return exts
}

// EnsureDirectories creates the storage directories.
func (c *AppConfig) EnsureDirectories() error {
	for _, dir := range c.storageDirs() {
		if err := os.MkdirAll(*dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", *dir, err)
		}
	}
	return nil
}
