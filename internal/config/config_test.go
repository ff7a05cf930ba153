package config

import (
	"os"
	"testing"
)

func TestLoadMonitorDefaults(t *testing.T) {
	os.Clearenv()
	c := LoadMonitor()
	if c.OfficesYAML != DefaultOfficesYAML {
		t.Errorf("OfficesYAML default = %q, want %q", c.OfficesYAML, DefaultOfficesYAML)
	}
	if c.IngestBaseURL != "http://localhost:8080" {
		t.Errorf("IngestBaseURL default = %q", c.IngestBaseURL)
	}
	if c.PingConcurrency != DefaultPingConcurrency {
		t.Errorf("PingConcurrency default = %d, want %d", c.PingConcurrency, DefaultPingConcurrency)
	}
}

func TestLoadMonitorOverrides(t *testing.T) {
	os.Clearenv()
	os.Setenv("OFFICES_YAML", "/etc/siteslam/offices.yaml")
	os.Setenv("SLA_API", "http://ingest.internal:9090")
	os.Setenv("PING_CONCURRENCY", "50")
	c := LoadMonitor()
	if c.OfficesYAML != "/etc/siteslam/offices.yaml" {
		t.Errorf("OfficesYAML = %q", c.OfficesYAML)
	}
	if c.IngestBaseURL != "http://ingest.internal:9090" {
		t.Errorf("IngestBaseURL = %q", c.IngestBaseURL)
	}
	if c.PingConcurrency != 50 {
		t.Errorf("PingConcurrency = %d", c.PingConcurrency)
	}
}

func TestLoadServerDefaults(t *testing.T) {
	os.Clearenv()
	c := LoadServer()
	if c.DBPath != DefaultDBPath {
		t.Errorf("DBPath default = %q, want %q", c.DBPath, DefaultDBPath)
	}
	if c.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr default = %q, want %q", c.ListenAddr, DefaultListenAddr)
	}
}

func TestLoadServerOverrides(t *testing.T) {
	os.Clearenv()
	os.Setenv("SLA_DB", "/var/lib/siteslam/sla.db")
	os.Setenv("SLA_LISTEN_ADDR", ":9999")
	c := LoadServer()
	if c.DBPath != "/var/lib/siteslam/sla.db" {
		t.Errorf("DBPath = %q", c.DBPath)
	}
	if c.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q", c.ListenAddr)
	}
}
