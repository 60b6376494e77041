// Package config centralises runtime configuration for Halyard services.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/halyard-io/halyard/errs"
)

// Environment identifies the runtime environment where Halyard operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// Transport selects the session transport implementation.
type Transport string

const (
	// TransportTCP uses a raw TCP socket session.
	TransportTCP Transport = "tcp"
	// TransportWebsocket tunnels the framed protocol over a websocket.
	TransportWebsocket Transport = "websocket"
)

// Session configures the gateway session identity and operational bounds.
// Host, port and client id are fixed for the lifetime of a client; changing
// them requires constructing a new client.
type Session struct {
	Venue    string    `yaml:"venue"`
	Host     string    `yaml:"host"`
	Port     int       `yaml:"port"`
	ClientID int64     `yaml:"clientId"`
	Trans    Transport `yaml:"transport"`

	// MaxConnectAttempts bounds handshake retries; 0 retries indefinitely.
	MaxConnectAttempts int           `yaml:"maxConnectAttempts"`
	ReconnectDelay     time.Duration `yaml:"reconnectDelay"`
	HandshakeTimeout   time.Duration `yaml:"handshakeTimeout"`
	RequestTimeout     time.Duration `yaml:"requestTimeout"`
	WatchdogInterval   time.Duration `yaml:"watchdogInterval"`
	DisconnectGrace    time.Duration `yaml:"disconnectGrace"`
	MaxFrameBytes      int           `yaml:"maxFrameBytes"`

	// ControlRate caps outbound control frames per second; 0 disables the cap.
	ControlRate float64 `yaml:"controlRate"`
}

// Telemetry configures the OpenTelemetry export pipeline.
type Telemetry struct {
	ServiceName  string `yaml:"serviceName"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
}

// Settings contains the Halyard configuration tree loaded from defaults and overrides.
type Settings struct {
	Environment Environment `yaml:"environment"`
	Session     Session     `yaml:"session"`
	Telemetry   Telemetry   `yaml:"telemetry"`
	StatusAddr  string      `yaml:"statusAddr"`
}

// Default returns the default Halyard configuration.
func Default() Settings {
	return Settings{
		Environment: EnvProd,
		Session: Session{
			Venue:              "ibgw",
			Host:               "127.0.0.1",
			Port:               4002,
			ClientID:           1,
			Trans:              TransportTCP,
			MaxConnectAttempts: 0,
			ReconnectDelay:     5 * time.Second,
			HandshakeTimeout:   10 * time.Second,
			RequestTimeout:     10 * time.Second,
			WatchdogInterval:   time.Second,
			DisconnectGrace:    5 * time.Second,
			MaxFrameBytes:      1 << 20,
			ControlRate:        0,
		},
		Telemetry: Telemetry{
			ServiceName:  "halyard-gateway",
			OTLPEndpoint: "",
		},
		StatusAddr: "",
	}
}

// Load reads settings from the YAML file at path, layering environment
// overrides on top. A missing file yields defaults with found=false.
func Load(path string) (Settings, bool, error) {
	cfg := Default()
	found := false
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Settings{}, false, fmt.Errorf("parse config %s: %w", path, err)
			}
			found = true
		case os.IsNotExist(err):
		default:
			return Settings{}, false, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Settings{}, found, err
	}
	return cfg, found, nil
}

func applyEnv(cfg *Settings) {
	if env := strings.TrimSpace(os.Getenv("HALYARD_ENV")); env != "" {
		cfg.Environment = Environment(strings.ToLower(env))
	}
	if host := strings.TrimSpace(os.Getenv("HALYARD_GATEWAY_HOST")); host != "" {
		cfg.Session.Host = host
	}
	if port := strings.TrimSpace(os.Getenv("HALYARD_GATEWAY_PORT")); port != "" {
		if v, err := strconv.Atoi(port); err == nil {
			cfg.Session.Port = v
		}
	}
	if id := strings.TrimSpace(os.Getenv("HALYARD_CLIENT_ID")); id != "" {
		if v, err := strconv.ParseInt(id, 10, 64); err == nil {
			cfg.Session.ClientID = v
		}
	}
	if endpoint := strings.TrimSpace(os.Getenv("HALYARD_OTLP_ENDPOINT")); endpoint != "" {
		cfg.Telemetry.OTLPEndpoint = endpoint
	}
}

// Validate checks the configuration invariants the client relies on.
func (s Settings) Validate() error {
	sess := s.Session
	if strings.TrimSpace(sess.Host) == "" {
		return errs.New(sess.Venue, errs.CodeInvalid, errs.WithMessage("session host required"))
	}
	if sess.Port <= 0 || sess.Port > 65535 {
		return errs.New(sess.Venue, errs.CodeInvalid, errs.WithMessage("session port out of range"))
	}
	if sess.ClientID < 0 {
		return errs.New(sess.Venue, errs.CodeInvalid, errs.WithMessage("client id must be non-negative"))
	}
	if sess.Trans != TransportTCP && sess.Trans != TransportWebsocket {
		return errs.New(sess.Venue, errs.CodeInvalid, errs.WithMessage("unknown transport "+string(sess.Trans)))
	}
	if sess.MaxConnectAttempts < 0 {
		return errs.New(sess.Venue, errs.CodeInvalid, errs.WithMessage("max connect attempts must be >=0"))
	}
	if sess.ReconnectDelay <= 0 || sess.HandshakeTimeout <= 0 || sess.RequestTimeout <= 0 {
		return errs.New(sess.Venue, errs.CodeInvalid, errs.WithMessage("session timeouts must be positive"))
	}
	if sess.WatchdogInterval <= 0 || sess.DisconnectGrace < 0 {
		return errs.New(sess.Venue, errs.CodeInvalid, errs.WithMessage("watchdog interval must be positive"))
	}
	if sess.MaxFrameBytes <= 0 {
		return errs.New(sess.Venue, errs.CodeInvalid, errs.WithMessage("max frame bytes must be positive"))
	}
	return nil
}

// Option mutates Settings when applied via Apply.
type Option func(*Settings)

// Apply applies the provided Option set to a copy of the base Settings.
func Apply(base Settings, opts ...Option) Settings {
	cfg := base
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithEndpoint overrides the gateway host and port.
func WithEndpoint(host string, port int) Option {
	host = strings.TrimSpace(host)
	return func(s *Settings) {
		if host != "" {
			s.Session.Host = host
		}
		if port > 0 {
			s.Session.Port = port
		}
	}
}

// WithClientID overrides the numeric session client id.
func WithClientID(id int64) Option {
	return func(s *Settings) {
		if id >= 0 {
			s.Session.ClientID = id
		}
	}
}

// WithTransport selects the session transport.
func WithTransport(t Transport) Option {
	return func(s *Settings) {
		if t != "" {
			s.Session.Trans = t
		}
	}
}
