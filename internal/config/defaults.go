package config

// Default values for configuration options. These are layer 0 of the
// override chain and work against the public Graph endpoint without any
// config file beyond the app registration.
const (
	defaultBaseURL          = "https://graph.microsoft.com"
	defaultAPIVersion       = "v1.0"
	defaultUser             = "me"
	defaultResource         = "https://graph.microsoft.com/"
	defaultCalendarPageSize = 50
	defaultMaxPages         = 10000
	defaultRefreshRetries   = 2
	defaultBackoffBase      = "250ms"
	defaultBackoffMax       = "5s"
	defaultTimeout          = "60s"
	defaultBurst            = 1
	defaultUserAgent        = "office365-go/0.1"
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Resource: defaultResource,
		},
		Graph: GraphConfig{
			BaseURL:          defaultBaseURL,
			APIVersion:       defaultAPIVersion,
			User:             defaultUser,
			CalendarPageSize: defaultCalendarPageSize,
			MaxPages:         defaultMaxPages,
		},
		Auth: AuthConfig{
			RefreshRetries: defaultRefreshRetries,
			BackoffBase:    defaultBackoffBase,
			BackoffMax:     defaultBackoffMax,
		},
		Network: NetworkConfig{
			Timeout:   defaultTimeout,
			Burst:     defaultBurst,
			UserAgent: defaultUserAgent,
		},
		Storage: StorageConfig{
			CredentialBackend: CredentialBackendFile,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
