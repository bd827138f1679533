package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: "8086"},
		Serial: SerialConfig{
			BaudRate: 115200,
			DataBits: 8,
			StopBits: 1,
			Parity:   "none",
			Timeout:  time.Second,
		},
		Device:    DeviceConfig{CommandRetries: 2},
		Scheduler: SchedulerConfig{Tick: 100 * time.Millisecond},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing port", func(c *Config) { c.Server.Port = "" }, true},
		{"zero baud rate", func(c *Config) { c.Serial.BaudRate = 0 }, true},
		{"zero serial timeout", func(c *Config) { c.Serial.Timeout = 0 }, true},
		{"zero tick", func(c *Config) { c.Scheduler.Tick = 0 }, true},
		{"negative retries", func(c *Config) { c.Device.CommandRetries = -1 }, true},
		{"db enabled without host", func(c *Config) {
			c.Database.Enabled = true
			c.Database.DBName = "perfusion"
		}, true},
		{"db enabled complete", func(c *Config) {
			c.Database.Enabled = true
			c.Database.Host = "localhost"
			c.Database.DBName = "perfusion"
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr() != "0.0.0.0:8086" {
		t.Fatalf("Addr = %s", cfg.Server.Addr())
	}
	if cfg.Scheduler.Tick != 100*time.Millisecond {
		t.Fatalf("tick = %s", cfg.Scheduler.Tick)
	}
	if cfg.Database.Enabled {
		t.Fatal("database enabled by default")
	}
}
