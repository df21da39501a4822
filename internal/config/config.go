package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the daemon configuration, sourced from the environment.
type Config struct {
	// ServerURL is the media server base URL (e.g. http://jellyfin:8096).
	ServerURL string
	// APIToken authenticates against the media server.
	APIToken string
	// UserID is the media server user the daemon plays as.
	UserID string

	// ListenAddr is the local control API bind address.
	ListenAddr string
	// ControlToken guards the local control API. Empty disables auth.
	ControlToken string

	// StorageDir holds persisted selections, settings and history.
	StorageDir string
	// PreferredAudioLanguage picks audio tracks for items without a stored
	// selection (e.g. "eng"). Empty defers to the server default.
	PreferredAudioLanguage string
	// LogFile enables rotated file logging when non-empty.
	LogFile string

	// AutoAdvanceDelay is the countdown before the next episode starts.
	AutoAdvanceDelay time.Duration
	// CueFallbackDuration is the assumed length of a subtitle cue that has
	// no explicit end and no successor.
	CueFallbackDuration time.Duration
}

// Load reads .env (if present) and builds the configuration from the
// environment. ServerURL and APIToken are required.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		ServerURL:              os.Getenv("FINPLAY_SERVER_URL"),
		APIToken:               os.Getenv("FINPLAY_API_TOKEN"),
		UserID:                 os.Getenv("FINPLAY_USER_ID"),
		ListenAddr:             getEnv("FINPLAY_LISTEN_ADDR", ":8099"),
		ControlToken:           os.Getenv("FINPLAY_CONTROL_TOKEN"),
		StorageDir:             getEnv("FINPLAY_STORAGE_DIR", defaultStorageDir()),
		PreferredAudioLanguage: os.Getenv("FINPLAY_AUDIO_LANGUAGE"),
		LogFile:                os.Getenv("FINPLAY_LOG_FILE"),
		AutoAdvanceDelay:       getEnvDuration("FINPLAY_AUTO_ADVANCE_DELAY", 10*time.Second),
		CueFallbackDuration:    getEnvDuration("FINPLAY_CUE_FALLBACK", 5*time.Second),
	}

	if cfg.ServerURL == "" {
		return Config{}, fmt.Errorf("FINPLAY_SERVER_URL is required")
	}
	if cfg.APIToken == "" {
		return Config{}, fmt.Errorf("FINPLAY_API_TOKEN is required")
	}

	return cfg, nil
}

func defaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".finplay"
	}
	return home + "/.finplay"
}

// getEnv returns the environment variable named by key, or fallback if unset
// or empty.
func getEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// getEnvDuration returns the duration value of the variable named by key, or
// fallback if unset or unparsable.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}
