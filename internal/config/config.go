package config

import "time"

// Config holds all application configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	State    StateConfig    `mapstructure:"state"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	NoCORS bool   `mapstructure:"no_cors"`
}

// BrokerConfig configures the message broker endpoints. When Embedded is
// true the process runs its own broker over the in-memory transport and
// the TCP addresses are ignored.
type BrokerConfig struct {
	Embedded     bool   `mapstructure:"embedded"`
	FrontendAddr string `mapstructure:"frontend_addr"`
	BackendAddr  string `mapstructure:"backend_addr"`
}

// DispatchConfig configures the dispatch supervisor.
type DispatchConfig struct {
	SyncTimeout  string `mapstructure:"sync_timeout"`
	AsyncTimeout string `mapstructure:"async_timeout"`
	MaxInFlight  int    `mapstructure:"max_in_flight"`
}

// SyncTimeoutDuration parses the synchronous round-trip bound.
func (d DispatchConfig) SyncTimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(d.SyncTimeout)
}

// AsyncTimeoutDuration parses the detached round-trip bound.
func (d DispatchConfig) AsyncTimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(d.AsyncTimeout)
}

// StateConfig configures persistence.
type StateConfig struct {
	Path string `mapstructure:"path"`
}

// EngineConfig configures the external workflow engine client.
type EngineConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

// AuthConfig configures token introspection.
type AuthConfig struct {
	IntrospectURL string `mapstructure:"introspect_url"`
	ClientID      string `mapstructure:"client_id"`
	ClientSecret  string `mapstructure:"client_secret"`
}
