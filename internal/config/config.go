// Package config loads and saves the deploywatch config.ini file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/inovacc/deploywatch/internal/model"
	"gopkg.in/ini.v1"
)

// FileName is the config file inside the application directory.
const FileName = "config.ini"

// ErrUnknownKey is returned by Set for keys outside the known sections.
var ErrUnknownKey = errors.New("unknown config key")

// Keys lists the settable keys as section.key.
var Keys = []string{
	"api.base_url",
	"api.timeout",
	"reconcile.debounce",
	"push.state_file",
	"widget.shared_dir",
	"watch.schedule",
	"watch.metrics_addr",
}

// Load reads config.ini from dir. A missing file yields the defaults.
// Relative paths in the file are resolved against dir.
func Load(dir string) (*model.Config, error) {
	cfg := model.DefaultConfig()
	path := filepath.Join(dir, FileName)

	file, err := ini.LooseLoad(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	api := file.Section("api")
	cfg.APIBaseURL = strings.TrimRight(api.Key("base_url").MustString(cfg.APIBaseURL), "/")
	cfg.APITimeout = api.Key("timeout").MustDuration(cfg.APITimeout)

	cfg.Debounce = file.Section("reconcile").Key("debounce").MustDuration(cfg.Debounce)
	cfg.PushStateFile = file.Section("push").Key("state_file").MustString(cfg.PushStateFile)
	cfg.WidgetDir = file.Section("widget").Key("shared_dir").MustString(cfg.WidgetDir)

	watch := file.Section("watch")
	cfg.WatchSchedule = watch.Key("schedule").MustString(cfg.WatchSchedule)
	cfg.MetricsAddr = watch.Key("metrics_addr").MustString(cfg.MetricsAddr)

	if cfg.Debounce <= 0 {
		cfg.Debounce = time.Second
	}

	cfg.PushStateFile = resolve(dir, cfg.PushStateFile)
	cfg.WidgetDir = resolve(dir, cfg.WidgetDir)

	return &cfg, nil
}

// Set writes a single section.key value to config.ini in dir.
func Set(dir, key, value string) error {
	section, name, ok := strings.Cut(key, ".")
	if !ok || !known(key) {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	if strings.HasSuffix(name, "timeout") || name == "debounce" {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
	}

	path := filepath.Join(dir, FileName)

	file, err := ini.LooseLoad(path)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}

	file.Section(section).Key(name).SetValue(value)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	return file.SaveTo(path)
}

func known(key string) bool {
	for _, k := range Keys {
		if k == key {
			return true
		}
	}

	return false
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(dir, p)
}
