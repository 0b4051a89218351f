package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables overriding YAML settings.
const (
	EnvFaceAPIURL   = "KIOSK_FACE_API_URL"
	EnvBotAPIURL    = "KIOSK_BOT_API_URL"
	EnvCameraDevice = "KIOSK_CAMERA_DEVICE"
	EnvLogLevel     = "KIOSK_LOG_LEVEL"

	// DotEnvFilename is loaded before overrides are applied.
	DotEnvFilename = ".env"
)

// ApplyEnv loads .env (if present) without clobbering the real environment
// and copies the KIOSK_* overrides into cfg.
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if err := godotenv.Load(DotEnvFilename); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", DotEnvFilename, err)
	}

	overrides := map[string]*string{
		EnvFaceAPIURL:   &cfg.FaceAPIURL,
		EnvBotAPIURL:    &cfg.BotAPIURL,
		EnvCameraDevice: &cfg.CameraDevice,
		EnvLogLevel:     &cfg.LogLevel,
	}

	for key, target := range overrides {
		if value, ok := os.LookupEnv(key); ok && value != "" {
			*target = value
		}
	}

	return nil
}
