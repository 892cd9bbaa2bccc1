package cliconfig

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bft-labs/listycity/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Store != DriverFS {
		t.Errorf("Store = %v, want %v", cfg.Store, DriverFS)
	}
	if cfg.Collection != "cities" {
		t.Errorf("Collection = %v, want cities", cfg.Collection)
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("PollInterval = %v, want 500ms", cfg.PollInterval)
	}
	if cfg.Debounce != 100*time.Millisecond {
		t.Errorf("Debounce = %v, want 100ms", cfg.Debounce)
	}
	if cfg.PersistEdits {
		t.Error("PersistEdits = true, want false")
	}
	if cfg.Listen != DefaultListen {
		t.Errorf("Listen = %v, want %v", cfg.Listen, DefaultListen)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "valid memory config",
			config: Config{Store: DriverMemory, Collection: "cities", PollInterval: time.Second},
		},
		{
			name:   "valid fs config",
			config: Config{Store: DriverFS, Collection: "cities", Dir: "/tmp/cities", PollInterval: time.Second},
		},
		{
			name:   "valid postgres config",
			config: Config{Store: DriverPostgres, Collection: "cities", DSN: "postgres://localhost/listy", PollInterval: time.Second},
		},
		{
			name:   "valid ws config",
			config: Config{Store: DriverWS, Collection: "cities", URL: "http://localhost:8080", PollInterval: time.Second},
		},
		{
			name:    "postgres without dsn",
			config:  Config{Store: DriverPostgres, Collection: "cities", PollInterval: time.Second},
			wantErr: true,
		},
		{
			name:    "ws without url",
			config:  Config{Store: DriverWS, Collection: "cities", PollInterval: time.Second},
			wantErr: true,
		},
		{
			name:    "unknown store",
			config:  Config{Store: "firestore", Collection: "cities", PollInterval: time.Second},
			wantErr: true,
		},
		{
			name:    "missing collection",
			config:  Config{Store: DriverMemory, PollInterval: time.Second},
			wantErr: true,
		},
		{
			name:    "invalid poll interval",
			config:  Config{Store: DriverMemory, Collection: "cities", PollInterval: -1},
			wantErr: true,
		},
		{
			name:    "negative debounce",
			config:  Config{Store: DriverMemory, Collection: "cities", PollInterval: time.Second, Debounce: -time.Second},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestConfig_Validate_Derivations(t *testing.T) {
	t.Setenv("HOME", "/home/listy")

	// fs dir derives from the collection
	c1 := Config{Store: DriverFS, Collection: "towns", PollInterval: time.Second}
	if err := c1.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	expectedDir := filepath.Join("/home/listy", ".listycity", "collections", "towns")
	if c1.Dir != expectedDir {
		t.Errorf("Dir = %v, want %v", c1.Dir, expectedDir)
	}

	// sqlite path derives from the home directory
	c2 := Config{Store: DriverSQLite, Collection: "cities", PollInterval: time.Second}
	if err := c2.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !strings.HasSuffix(c2.DSN, filepath.Join(".listycity", "listycity.db")) {
		t.Errorf("DSN = %v, want ~/.listycity/listycity.db", c2.DSN)
	}

	// explicit dir is kept
	c3 := Config{Store: DriverFS, Collection: "cities", Dir: "/data/cities", PollInterval: time.Second}
	if err := c3.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if c3.Dir != "/data/cities" {
		t.Errorf("Dir = %v, want /data/cities", c3.Dir)
	}
}
