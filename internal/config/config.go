package config

import (
	"strings"
)

type Config struct {
	Server     ServerConfig
	Classifier ClassifierConfig
	Storage    StorageConfig
	Processing ProcessingConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port int
}

type ClassifierConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

type StorageConfig struct {
	DataDir string
}

type ProcessingConfig struct {
	// BatchDelaySeconds is the pause between classifier calls when
	// processing thoughts in a batch.
	BatchDelaySeconds int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		Classifier: ClassifierConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "anthropic/claude-opus-4",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Processing: ProcessingConfig{
			BatchDelaySeconds: 2,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.mindq.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/mindq/config.json
// and secrets must be provided via environment variables.
//
// Environment variables (MINDQ_*) override backend values on all platforms.
//
// A missing classifier API key is not an error here: capture and queue
// inspection work offline, and the processor reports the missing credential
// when classification is actually requested.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try platform keychain for API key if still empty.
	if cfg.Classifier.APIKey == "" {
		if key, err := kc.Get("mindq", "classifier_api_key"); err == nil && key != "" {
			cfg.Classifier.APIKey = key
		}
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
