package config

import (
	"errors"
	"fmt"
	"io/fs"

	"go-issue-mirror/internal/extract"
	"go-issue-mirror/internal/models"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

const DefaultConfigPath = "config.toml"

// Defaults returns the configuration used when no file is present.
func Defaults() models.Config {
	return models.Config{
		ApiBaseUrl:          "https://api.github.com",
		UserAgent:           "go-issue-mirror",
		SavePath:            "issues",
		DatabasePath:        "issue-mirror.db",
		BleveIndexPath:      "issues.bleve",
		ApiClientTimeoutSec: 30,
		PerPage:             100,
		MaxRetries:          5,
		RetryBaseDelayMs:    1000,
		RetryMultiplier:     2,
		AttachmentHosts:     append([]string(nil), extract.DefaultAttachmentHosts...),
		Concurrency:         1,
	}
}

// LoadConfig reads the TOML file at configFilePath (default config.toml)
// over Defaults. A missing file is not an error.
func LoadConfig(configFilePath string) (models.Config, error) {
	if configFilePath == "" {
		configFilePath = DefaultConfigPath
	}
	cfg := Defaults()

	meta, err := toml.DecodeFile(configFilePath, &cfg)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Debugf("No config file at %s, using defaults", configFilePath)
			return Defaults(), nil
		}
		return models.Config{}, fmt.Errorf("error loading config file %s: %w", configFilePath, err)
	}
	for _, key := range meta.Undecoded() {
		log.Warnf("Unknown key %q in %s", key.String(), configFilePath)
	}

	if err := Validate(cfg); err != nil {
		return models.Config{}, fmt.Errorf("invalid config file %s: %w", configFilePath, err)
	}

	log.Infof("Configuration loaded from %s", configFilePath)
	return cfg, nil
}

// Validate rejects values that would make the client misbehave.
func Validate(cfg models.Config) error {
	switch {
	case cfg.ApiClientTimeoutSec < 0:
		return errors.New("ApiClientTimeoutSec must not be negative")
	case cfg.PerPage < 0 || cfg.PerPage > 100:
		return fmt.Errorf("PerPage must be between 1 and 100, got %d", cfg.PerPage)
	case cfg.MaxRetries < 0:
		return errors.New("MaxRetries must not be negative")
	case cfg.RetryBaseDelayMs < 0:
		return errors.New("RetryBaseDelayMs must not be negative")
	case cfg.Concurrency < 0:
		return errors.New("Concurrency must not be negative")
	}
	return nil
}
