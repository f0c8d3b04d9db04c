package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig       = "O365_CONFIG"
	EnvUser         = "O365_USER"
	EnvClientSecret = "O365_CLIENT_SECRET"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath   string // O365_CONFIG: override config file path
	User         string // O365_USER: mailbox to act on
	ClientSecret string // O365_CLIENT_SECRET: keeps the secret out of the file
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		User:         os.Getenv(EnvUser),
		ClientSecret: os.Getenv(EnvClientSecret),
	}
}

// CLIOverrides holds values from command-line flags. Empty fields leave the
// lower layers untouched.
type CLIOverrides struct {
	ConfigPath string
	User       string
	LogLevel   string
}
