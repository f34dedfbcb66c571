// Package config loads the bot settings from a JSON file, creating it with
// defaults when missing and backfilling absent keys in memory.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/comitanigiacomo/walme-bot/internal/core/domain"
)

const (
	DefaultConfigFile = "config.json"

	StateBackendFile     = "file"
	StateBackendPostgres = "postgres"
)

type Settings struct {
	UseProxies           bool              `json:"use_proxies" mapstructure:"use_proxies"`
	MaxConcurrency       int               `json:"max_concurrency" mapstructure:"max_concurrency"`
	RetryAttempts        int               `json:"retry_attempts" mapstructure:"retry_attempts"`
	DelayBetweenAccounts domain.DelayRange `json:"delay_between_accounts" mapstructure:"delay_between_accounts"`
	DelayBetweenTasks    domain.DelayRange `json:"delay_between_tasks" mapstructure:"delay_between_tasks"`
	LogToFile            bool              `json:"log_to_file" mapstructure:"log_to_file"`
	LogLevel             string            `json:"log_level" mapstructure:"log_level"`
	LogFile              string            `json:"log_file" mapstructure:"log_file"`
	RunIntervalHours     float64           `json:"run_interval_hours" mapstructure:"run_interval_hours"`
	StateBackend         string            `json:"state_backend" mapstructure:"state_backend"`
	StatusAddr           string            `json:"status_addr" mapstructure:"status_addr"`
}

func Defaults() Settings {
	return Settings{
		UseProxies:           true,
		MaxConcurrency:       3,
		RetryAttempts:        3,
		DelayBetweenAccounts: domain.DelayRange{Min: 2.0, Max: 5.0},
		DelayBetweenTasks:    domain.DelayRange{Min: 1.5, Max: 3.5},
		LogToFile:            true,
		LogLevel:             "INFO",
		LogFile:              "walme_bot.log",
		RunIntervalHours:     24,
		StateBackend:         StateBackendFile,
		StatusAddr:           "",
	}
}

func (s Settings) RunInterval() time.Duration {
	return time.Duration(s.RunIntervalHours * float64(time.Hour))
}

func (s Settings) RunSettings() domain.RunSettings {
	return domain.RunSettings{
		UseProxies:           s.UseProxies,
		MaxConcurrency:       s.MaxConcurrency,
		RetryAttempts:        s.RetryAttempts,
		DelayBetweenAccounts: s.DelayBetweenAccounts,
		DelayBetweenTasks:    s.DelayBetweenTasks,
		RunInterval:          s.RunInterval(),
	}
}

// sanitize clamps values a hand-edited file may get wrong.
func (s *Settings) sanitize() {
	def := Defaults()
	if s.MaxConcurrency < 1 {
		s.MaxConcurrency = 1
	}
	if s.RetryAttempts < 0 {
		s.RetryAttempts = 0
	}
	if s.DelayBetweenAccounts.Max < s.DelayBetweenAccounts.Min {
		s.DelayBetweenAccounts.Min, s.DelayBetweenAccounts.Max = s.DelayBetweenAccounts.Max, s.DelayBetweenAccounts.Min
	}
	if s.DelayBetweenTasks.Max < s.DelayBetweenTasks.Min {
		s.DelayBetweenTasks.Min, s.DelayBetweenTasks.Max = s.DelayBetweenTasks.Max, s.DelayBetweenTasks.Min
	}
	if s.RunIntervalHours <= 0 {
		s.RunIntervalHours = def.RunIntervalHours
	}
	s.LogLevel = strings.ToUpper(strings.TrimSpace(s.LogLevel))
	if s.LogLevel == "" {
		s.LogLevel = def.LogLevel
	}
	if s.LogFile == "" {
		s.LogFile = def.LogFile
	}
	s.StateBackend = strings.ToLower(strings.TrimSpace(s.StateBackend))
	if s.StateBackend != StateBackendPostgres {
		s.StateBackend = StateBackendFile
	}
}

// Manager owns the viper instance and the current Settings snapshot.
type Manager struct {
	v       *viper.Viper
	path    string
	current atomic.Pointer[Settings]
	created bool

	mu       sync.Mutex
	onChange []func(Settings)
}

// Load reads path, creating it with defaults when it does not exist.
// Keys missing from the file get their default value without rewriting the file.
func Load(path string) (*Manager, error) {
	if path == "" {
		path = DefaultConfigFile
	}

	m := &Manager{v: viper.New(), path: path}
	m.v.SetConfigFile(path)
	m.v.SetConfigType("json")
	setDefaults(m.v)

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := m.v.SafeWriteConfigAs(path); err != nil {
			def := Defaults()
			m.current.Store(&def)
			return m, fmt.Errorf("failed to create default config %s: %w", path, err)
		}
		m.created = true
	}

	if err := m.reload(); err != nil {
		def := Defaults()
		m.current.Store(&def)
		return m, err
	}

	return m, nil
}

func setDefaults(v *viper.Viper) {
	def := Defaults()
	v.SetDefault("use_proxies", def.UseProxies)
	v.SetDefault("max_concurrency", def.MaxConcurrency)
	v.SetDefault("retry_attempts", def.RetryAttempts)
	v.SetDefault("delay_between_accounts.min", def.DelayBetweenAccounts.Min)
	v.SetDefault("delay_between_accounts.max", def.DelayBetweenAccounts.Max)
	v.SetDefault("delay_between_tasks.min", def.DelayBetweenTasks.Min)
	v.SetDefault("delay_between_tasks.max", def.DelayBetweenTasks.Max)
	v.SetDefault("log_to_file", def.LogToFile)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_file", def.LogFile)
	v.SetDefault("run_interval_hours", def.RunIntervalHours)
	v.SetDefault("state_backend", def.StateBackend)
	v.SetDefault("status_addr", def.StatusAddr)
}

func (m *Manager) reload() error {
	if err := m.v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", m.path, err)
	}

	var s Settings
	if err := m.v.Unmarshal(&s); err != nil {
		return fmt.Errorf("failed to decode config %s: %w", m.path, err)
	}
	s.sanitize()

	m.current.Store(&s)
	return nil
}

func (m *Manager) Current() Settings {
	if s := m.current.Load(); s != nil {
		return *s
	}
	return Defaults()
}

func (m *Manager) RunSettings() domain.RunSettings {
	return m.Current().RunSettings()
}

// Created reports whether Load wrote a fresh default file.
func (m *Manager) Created() bool {
	return m.created
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) OnChange(fn func(Settings)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Watch reloads the settings whenever the file is written. A file that fails
// to parse keeps the previous settings; errs receives the failure.
func (m *Manager) Watch(errs func(error)) {
	m.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if err := m.reload(); err != nil {
			if errs != nil {
				errs(err)
			}
			return
		}

		current := m.Current()
		m.mu.Lock()
		callbacks := append([]func(Settings){}, m.onChange...)
		m.mu.Unlock()
		for _, fn := range callbacks {
			fn(current)
		}
	})
	m.v.WatchConfig()
}

// Static wraps fixed settings, mostly for tests and one-shot commands.
type Static Settings

func (s Static) RunSettings() domain.RunSettings {
	return Settings(s).RunSettings()
}
