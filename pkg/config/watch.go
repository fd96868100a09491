package config

import (
	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/xnet/internal/logger"
)

// Watch loads the config file at configPath (or the default location) and
// calls onChange with the new configuration every time the file is written.
// Edits that fail to load or validate are logged and skipped.
//
// The returned Config is the one loaded initially. When no file exists the
// defaults are returned and nothing is watched.
func Watch(configPath string, onChange func(*Config)) (*Config, error) {
	v := newViper(configPath)
	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if !found {
		logger.Debug("No configuration file found, not watching")
		return cfg, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err != nil {
			logger.Warn("Ignoring invalid configuration change", "file", e.Name, logger.KeyError, err)
			return
		}
		logger.Info("Configuration reloaded", "file", e.Name)
		onChange(next)
	})
	v.WatchConfig()

	return cfg, nil
}

// ApplyLogLevel is a Watch callback that applies the logging level live.
// Other settings take effect on restart.
func ApplyLogLevel(cfg *Config) {
	logger.SetLevel(cfg.Logging.Level)
}
