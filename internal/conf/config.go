// config.go: settings for the Echo server metadata core. Defines the settings
// struct and functions to load, access and save settings.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed config.yaml
var configFiles embed.FS

// LogConfig contains settings for the main application log file.
type LogConfig struct {
	Enabled    bool   // true to enable file logging
	Path       string // path to log file
	MaxSizeMB  int    // rotation threshold in megabytes
	MaxBackups int    // rotated files to keep
	MaxAgeDays int    // days to keep rotated files
}

// MainSettings contains general application settings.
type MainSettings struct {
	Name string    // instance name, used in User-Agent and logs
	Log  LogConfig // main log file settings
}

// SQLiteSettings contains SQLite database settings.
type SQLiteSettings struct {
	Enabled bool
	Path    string // path to SQLite database file
}

// MySQLSettings contains MySQL database settings.
type MySQLSettings struct {
	Enabled  bool
	Username string
	Password string
	Database string
	Host     string
	Port     string
}

// DatabaseSettings selects and configures the datastore backend.
type DatabaseSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// LibrarySettings locates the music library and metadata storage on disk.
type LibrarySettings struct {
	MusicPath    string // root of the scanned music library
	MetadataPath string // root for downloaded metadata assets (images, covers)
}

// AgentSettings configures one external metadata source.
type AgentSettings struct {
	Enabled    bool          // false disables the agent regardless of credentials
	APIKey     string        // credential; agents requiring a key are disabled without one
	RateLimit  time.Duration // minimum interval between requests to this source
	MaxRetries int           // retry attempts for transient failures
	Timeout    time.Duration // per-request timeout
}

// AutoSearchSettings configures automatic identifier resolution. Off by
// default because it performs writes and third-party calls.
type AutoSearchSettings struct {
	Enabled             bool
	ConfidenceThreshold int  // auto-apply at or above this score (0-100)
	ConflictFloor       int  // queue a review conflict at or above this score
	CreateConflicts     bool // create review conflicts for mid-confidence matches
}

// CacheSettings configures metadata and search cache TTLs.
type CacheSettings struct {
	MetadataTTLDays int // response cache TTL
	SearchTTLDays   int // identifier-search cache TTL
}

// EnrichmentSettings groups everything the enrichment pipeline needs.
type EnrichmentSettings struct {
	Debug      bool
	AutoSearch AutoSearchSettings
	Cache      CacheSettings
	LastFM     AgentSettings
	TheAudioDB AgentSettings
	FanartTV   AgentSettings
	// MusicBrainz and the Cover Art Archive need no credentials
	MusicBrainz      AgentSettings
	CoverArtArchive  AgentSettings
	BatchConcurrency int // concurrent entities during batch enrichment
}

// ArtworkSettings configures image resolution and its result cache.
type ArtworkSettings struct {
	ResultCacheTTL   time.Duration // in-memory resolution cache window
	DefaultCoverPath string        // bundled fallback album cover
}

// Settings is the root configuration structure.
type Settings struct {
	Debug bool // true to enable debug mode

	Version string // application version, populated at build time

	Main       MainSettings
	Database   DatabaseSettings
	Library    LibrarySettings
	Enrichment EnrichmentSettings
	Artwork    ArtworkSettings
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// Set default values for each configuration parameter
	// function defined in defaults.go
	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, create config with defaults
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig creates a default config file and writes it to the default config path
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, initializing it if necessary
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}

// SetTestSettings replaces the global settings instance. Intended for tests
// that need deterministic configuration without touching the filesystem.
func SetTestSettings(s *Settings) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	once.Do(func() {})
	settingsInstance = s
}

// SaveSettings saves the current settings to the configuration file.
// The in-memory instance remains authoritative; callers relying on cached
// settings observe the write immediately through GetSettings.
func SaveSettings() error {
	settingsMutex.RLock()
	settingsCopy := *settingsInstance
	settingsMutex.RUnlock()

	configPath, err := FindConfigFile()
	if err != nil {
		return fmt.Errorf("error finding config file: %w", err)
	}

	if err := SaveYAMLConfig(configPath, &settingsCopy); err != nil {
		return fmt.Errorf("error saving config: %w", err)
	}

	log.Printf("Settings saved successfully to %s", configPath)
	return nil
}

// SaveYAMLConfig updates the YAML configuration file with new settings.
// It overwrites the existing file, not preserving comments or structure.
// The write is atomic: marshal to a temp file, then rename over the original.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary config file: %w", err)
	}
	tmpName := tmpFile.Name()

	if _, err := tmpFile.Write(yamlData); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("error writing temporary config file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("error closing temporary config file: %w", err)
	}

	if err := os.Rename(tmpName, configPath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("error replacing config file: %w", err)
	}

	return nil
}

// FindConfigFile returns the path of the config file viper loaded, or the
// first default location if none was read yet.
func FindConfigFile() (string, error) {
	if used := viper.ConfigFileUsed(); used != "" {
		return used, nil
	}
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", err
	}
	return filepath.Join(configPaths[0], "config.yaml"), nil
}

// GetDefaultConfigPaths returns the config search paths in priority order:
// XDG config dir, then the current working directory.
func GetDefaultConfigPaths() ([]string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("error getting user config directory: %w", err)
	}
	return []string{
		filepath.Join(configDir, "echo-server"),
		".",
	}, nil
}

// GetBasePath joins a possibly relative path onto the current working
// directory, creating the directory if missing.
func GetBasePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	basePath := filepath.Join(wd, path)
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		log.Printf("error creating directory %s: %v", basePath, err)
	}
	return basePath
}
