// Package telemetry wires OpenTelemetry tracing and metrics for deployd.
package telemetry

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/fyrsmithlabs/deployd/internal/config"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	Endpoint       string
	Protocol       string // "grpc" or "http/protobuf"
	ServiceName    string
	ServiceVersion string
	Insecure       bool
	SampleRate     float64
	ExportInterval time.Duration
	ShutdownAfter  time.Duration
}

// NewDefaultConfig returns disabled telemetry with local collector defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:        false,
		Endpoint:       "localhost:4317",
		Protocol:       "grpc",
		ServiceName:    "deployd",
		ServiceVersion: "dev",
		Insecure:       true,
		SampleRate:     1.0,
		ExportInterval: 15 * time.Second,
		ShutdownAfter:  5 * time.Second,
	}
}

// FromSettings maps the application's otel section onto Config.
func FromSettings(s config.OTELConfig, version string) *Config {
	cfg := NewDefaultConfig()
	cfg.Enabled = s.Enabled
	if s.Endpoint != "" {
		cfg.Endpoint = s.Endpoint
	}
	if s.Protocol != "" {
		cfg.Protocol = s.Protocol
	}
	if s.ServiceName != "" {
		cfg.ServiceName = s.ServiceName
	}
	if version != "" {
		cfg.ServiceVersion = version
	}
	cfg.Insecure = s.Insecure || isLocalEndpoint(cfg.Endpoint)
	return cfg
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required when telemetry is enabled")
	}
	if c.Protocol != "grpc" && c.Protocol != "http/protobuf" {
		return fmt.Errorf("protocol must be grpc or http/protobuf, got %q", c.Protocol)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample rate must be between 0 and 1, got %f", c.SampleRate)
	}
	if c.ExportInterval <= 0 || c.ShutdownAfter <= 0 {
		return fmt.Errorf("export interval and shutdown timeout must be positive")
	}
	return nil
}

// isLocalEndpoint reports whether endpoint points at the loopback interface.
func isLocalEndpoint(endpoint string) bool {
	host := strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
