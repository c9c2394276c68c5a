package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Watcher reloads the config file when it changes on disk.
type Watcher struct {
	path     string
	onChange func(*Config)
}

// Watch loads the config at path and calls onChange with every valid
// reloaded version. Invalid edits are logged and ignored; the previous
// configuration stays in effect.
func Watch(path string, onChange func(*Config)) (*Config, *Watcher, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}

	w := &Watcher{path: v.ConfigFileUsed(), onChange: onChange}
	if w.path == "" {
		// nothing on disk to watch
		return cfg, w, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		w.handle(v, e)
	})
	v.WatchConfig()

	log.Info().Str("path", w.path).Msg("watching config file")
	return cfg, w, nil
}

// Path returns the watched file, or "" when running on defaults.
func (w *Watcher) Path() string {
	return w.path
}

func (w *Watcher) handle(v *viper.Viper, e fsnotify.Event) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}

	var next Config
	if err := v.Unmarshal(&next); err != nil {
		log.Warn().Err(err).Str("path", e.Name).Msg("config reload failed")
		return
	}
	if err := reloadable(&next); err != nil {
		log.Warn().Err(err).Str("path", e.Name).Msg("config reload rejected")
		return
	}

	log.Info().Str("path", e.Name).Msg("config reloaded")
	if w.onChange != nil {
		w.onChange(&next)
	}
}

// reloadable normalises and validates a reloaded config.
func reloadable(cfg *Config) error {
	if err := postProcess(cfg); err != nil {
		return err
	}
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
