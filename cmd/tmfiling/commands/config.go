package commands

import (
	"errors"
	"log/slog"
	"time"

	"tmfiling-backend/internal/notify"
	"tmfiling-backend/lib/configutil"
)

const configName = "tmfiling.json5"

type Config struct {
	BaseUrl            string  `json:"base_url"`
	TimeoutSeconds     int     `json:"timeout_seconds"`
	RequestsPerSecond  float64 `json:"requests_per_second"`
	UserAgent          string  `json:"user_agent"`
	BrowserFingerprint bool    `json:"browser_fingerprint"`
	// DebugOutputDir receives the HTTP exchanges of every attempt.
	DebugOutputDir string `json:"debug_output_dir"`
	ReceiptsDb     string `json:"receipts_db"`
	VocabularyFile string `json:"vocabulary_file"`
	// HeaderFallback enables guessed class heading ids when the real one
	// cannot be found.
	HeaderFallback bool `json:"header_fallback"`
	// Notify mails every result when its smtp server is set.
	Notify notify.Config `json:"notify"`
}

func defaultConfig() Config {
	return Config{
		BaseUrl:           "https://direkt.dpma.de",
		TimeoutSeconds:    60,
		RequestsPerSecond: 2,
		ReceiptsDb:        ".tmfiling/receipts.db",
	}
}

func (c Config) timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// loadConfig reads the config at path (or searches for it) and fills in
// whatever it leaves empty. A missing config is not an error.
func loadConfig(path string) (Config, error) {
	cfg, err := configutil.ReadFrom[Config](path, configName)
	if errors.Is(err, configutil.ErrNotFound) && path == "" {
		slog.Debug("no config found, using defaults", "name", configName)
		return defaultConfig(), nil
	}
	if err != nil {
		return Config{}, err
	}

	defaults := defaultConfig()
	if cfg.BaseUrl == "" {
		cfg.BaseUrl = defaults.BaseUrl
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaults.TimeoutSeconds
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if cfg.ReceiptsDb == "" {
		cfg.ReceiptsDb = defaults.ReceiptsDb
	}
	return cfg, nil
}
