package config

import "time"

//go:generate go run github.com/mk6i/stomp-relay/cmd/config_generator windows settings.bat
//go:generate go run github.com/mk6i/stomp-relay/cmd/config_generator unix settings.env

// Config is the process-level configuration for the relay binary,
// loaded via envconfig from the environment (optionally preloaded from a
// .env file by godotenv). Fields map onto the Relay Controller's
// recognized options (§4.1) plus the ambient process concerns —
// logging, the optional eventlog and metrics subsystems, and the
// reconnect rate limiter — that aren't Relay Controller options but
// still need somewhere to live.
type Config struct {
	RelayHost string `envconfig:"RELAY_HOST" required:"true" val:"127.0.0.1" description:"The hostname or address of the upstream STOMP broker."`
	RelayPort string `envconfig:"RELAY_PORT" required:"true" val:"61613" description:"The port the upstream STOMP broker listens on."`

	ClientLogin    string `envconfig:"CLIENT_LOGIN" required:"true" val:"guest" description:"The login injected into CONNECT frames forwarded on behalf of client sessions."`
	ClientPasscode string `envconfig:"CLIENT_PASSCODE" required:"true" val:"guest" description:"The passcode injected into CONNECT frames forwarded on behalf of client sessions."`
	SystemLogin    string `envconfig:"SYSTEM_LOGIN" required:"true" val:"guest" description:"The login used for the relay's own system connection to the broker."`
	SystemPasscode string `envconfig:"SYSTEM_PASSCODE" required:"true" val:"guest" description:"The passcode used for the relay's own system connection to the broker."`

	SystemHeartbeatSendIntervalMS    int64 `envconfig:"SYSTEM_HEARTBEAT_SEND_INTERVAL_MS" required:"true" val:"10000" description:"How often, in milliseconds, the system connection sends a heartbeat to the broker. 0 disables outbound heartbeats."`
	SystemHeartbeatReceiveIntervalMS int64 `envconfig:"SYSTEM_HEARTBEAT_RECEIVE_INTERVAL_MS" required:"true" val:"10000" description:"The maximum gap, in milliseconds, the system connection tolerates between broker heartbeats before declaring it dead. 0 disables the read watchdog."`

	VirtualHost         string `envconfig:"VIRTUAL_HOST" required:"false" val:"" description:"Optional STOMP host header value stamped onto every CONNECT frame the relay sends."`
	DestinationPrefixes string `envconfig:"DESTINATION_PREFIXES" required:"false" val:"" description:"Comma-separated list of destination prefixes the relay will forward. Empty allows all destinations."`

	LogLevel string `envconfig:"LOG_LEVEL" required:"true" val:"info" description:"Set logging granularity. Possible values: 'trace', 'debug', 'info', 'warn', 'error'."`

	EventLogPath   string `envconfig:"EVENT_LOG_PATH" required:"false" val:"relay_events.sqlite" description:"Path to the SQLite file recording broker availability transitions. Empty disables the eventlog."`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" required:"true" val:"true" description:"Expose Prometheus metrics for sessions, forwarded frames, and broker availability."`
	MetricsPort    string `envconfig:"METRICS_PORT" required:"true" val:"9090" description:"The port the Prometheus metrics endpoint binds to, when enabled."`

	ReconnectRateLimit float64 `envconfig:"RECONNECT_RATE_LIMIT" required:"true" val:"2" description:"Maximum sustained system-session reconnect attempts per second."`
	ReconnectBurst     int     `envconfig:"RECONNECT_BURST" required:"true" val:"3" description:"Number of system-session reconnect attempts allowed to burst past the sustained rate limit."`
}

// SystemHeartbeatSendInterval returns the configured send interval as a
// time.Duration.
func (c Config) SystemHeartbeatSendInterval() time.Duration {
	return time.Duration(c.SystemHeartbeatSendIntervalMS) * time.Millisecond
}

// SystemHeartbeatReceiveInterval returns the configured receive interval
// as a time.Duration.
func (c Config) SystemHeartbeatReceiveInterval() time.Duration {
	return time.Duration(c.SystemHeartbeatReceiveIntervalMS) * time.Millisecond
}
