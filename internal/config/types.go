package config

import "time"

// Config is the whole process configuration. It is parsed strictly:
// unknown keys are rejected so typos surface at load time, not silently.
//
// All duration fields are Go duration strings (e.g. "500ms", "20s", "1m").
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Transport TransportConfig `json:"transport"`
	Dispatch  DispatchConfig  `json:"dispatch"`
}

// ServerConfig controls the HTTP control surface.
//
// Security note: prefer binding to localhost, or set a bearer token.
type ServerConfig struct {
	Addr         string `json:"addr,omitempty"`  // default ":3000"
	Token        string `json:"token,omitempty"` // optional bearer token (do not log)
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Driver      string `json:"driver"` // "sqlite" (default) or "memory"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// TransportConfig selects the messaging driver and declares each configured
// instance's credentials.
type TransportConfig struct {
	Driver    string                    `json:"driver"` // "telegram"
	Instances map[string]InstanceConfig `json:"instances"`
}

type InstanceConfig struct {
	Token string `json:"token"`
	// Groups maps destination display names to chat handles. The Bot API
	// cannot enumerate an account's chats, so the directory is declared
	// here and served through the driver's chat enumeration.
	Groups []GroupConfig `json:"groups,omitempty"`
}

type GroupConfig struct {
	Name    string `json:"name"`
	ChatID  int64  `json:"chat_id"`
	Members int    `json:"members,omitempty"`
}

// DispatchConfig controls instance lifecycle and delivery scheduling.
//
// Defaults (when omitted): scan_interval 20s, message_pause 1.5s,
// ready_timeout 60s, session_root "./sessions".
type DispatchConfig struct {
	ScanInterval string `json:"scan_interval,omitempty"`
	MessagePause string `json:"message_pause,omitempty"`
	ReadyTimeout string `json:"ready_timeout,omitempty"`
	SessionRoot  string `json:"session_root,omitempty"`
	// Timezone is the IANA zone for the midnight counter rollover.
	// Empty means the server's local zone.
	Timezone string `json:"timezone,omitempty"`
}

const (
	DefaultScanInterval = 20 * time.Second
	DefaultMessagePause = 1500 * time.Millisecond
	DefaultReadyTimeout = 60 * time.Second
	DefaultSessionRoot  = "./sessions"
	DefaultServerAddr   = ":3000"
)

func (d DispatchConfig) ScanIntervalOr() (time.Duration, error) {
	return ParseDurationOrDefault("dispatch.scan_interval", d.ScanInterval, DefaultScanInterval)
}

func (d DispatchConfig) MessagePauseOr() (time.Duration, error) {
	return ParseDurationOrDefault("dispatch.message_pause", d.MessagePause, DefaultMessagePause)
}

func (d DispatchConfig) ReadyTimeoutOr() (time.Duration, error) {
	return ParseDurationOrDefault("dispatch.ready_timeout", d.ReadyTimeout, DefaultReadyTimeout)
}

func (d DispatchConfig) SessionRootOr() string {
	if d.SessionRoot == "" {
		return DefaultSessionRoot
	}
	return d.SessionRoot
}
