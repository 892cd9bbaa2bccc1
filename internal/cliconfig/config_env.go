package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (LISTYCITY_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("store", os.Getenv("LISTYCITY_STORE"), &cfg.Store)
	s.setString("collection", os.Getenv("LISTYCITY_COLLECTION"), &cfg.Collection)
	s.setString("dir", os.Getenv("LISTYCITY_DIR"), &cfg.Dir)
	s.setString("dsn", os.Getenv("LISTYCITY_DSN"), &cfg.DSN)
	s.setString("url", os.Getenv("LISTYCITY_URL"), &cfg.URL)
	s.setString("log-level", os.Getenv("LISTYCITY_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("metrics-addr", os.Getenv("LISTYCITY_METRICS_ADDR"), &cfg.MetricsAddr)
	s.setString("listen", os.Getenv("LISTYCITY_LISTEN"), &cfg.Listen)

	if err := s.setDuration("poll", os.Getenv("LISTYCITY_POLL_INTERVAL"), &cfg.PollInterval); err != nil {
		return err
	}
	if err := s.setDuration("debounce", os.Getenv("LISTYCITY_DEBOUNCE"), &cfg.Debounce); err != nil {
		return err
	}

	s.setBoolFromString("persist-edits", os.Getenv("LISTYCITY_PERSIST_EDITS"), &cfg.PersistEdits)

	return nil
}
