package config

const (
	defaultSocketPath         = "/var/run/dispatcher.sock"
	defaultCallTimeoutSeconds = 60
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultRecordPath         = "~/.local/share/dispatcher-client/events.db"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Connection: Connection{
			SocketPath:         defaultSocketPath,
			CallTimeoutSeconds: defaultCallTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Events: Events{
			RecordPath: defaultRecordPath,
		},
	}
}
