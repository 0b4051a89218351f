package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/exhibit-kiosk/internal/domain/detection"
)

// Config holds every tunable of the kiosk daemon.
type Config struct {
	// APIInterval is the minimum time between two remote recognition calls.
	APIInterval time.Duration `yaml:"api_interval" validate:"gte=0"`
	// FacesDisappearGrace is the delay between the two absence probes.
	FacesDisappearGrace time.Duration `yaml:"faces_disappear_grace" validate:"gte=0"`
	// MinReplayDelay is the cool-down after playback stops before a new recognition.
	MinReplayDelay time.Duration `yaml:"min_replay_delay" validate:"gte=0"`
	// TickInterval is the period of the state machine timer.
	TickInterval time.Duration `yaml:"tick_interval" validate:"gte=0"`
	// ProbeTimeout bounds one camera frame probe, including face tracking or QR decoding.
	ProbeTimeout time.Duration `yaml:"probe_timeout" validate:"gte=0"`

	// CameraDevice selects the camera (device node such as /dev/video0).
	CameraDevice string `yaml:"camera_device" validate:"required"`
	// CameraCommand grabs one JPEG frame to stdout; "{device}" is substituted.
	CameraCommand []string `yaml:"camera_command,omitempty"`
	// FrameWidth is the width frames are normalized to.
	FrameWidth int `yaml:"frame_width" validate:"gte=0"`
	// FrameHeight is the height frames are normalized to.
	FrameHeight int `yaml:"frame_height" validate:"gte=0"`
	// MaxUploadDimension bounds the longer side of uploaded images.
	MaxUploadDimension int `yaml:"max_upload_dimension" validate:"gte=0"`

	// VisionCommand starts the face tracker / QR decoder sidecar.
	VisionCommand []string `yaml:"vision_command,omitempty"`
	// SpeechCommand speaks its last argument (text-to-speech).
	SpeechCommand []string `yaml:"speech_command,omitempty"`
	// ListenerCommand emits recognized speech as JSON lines.
	ListenerCommand []string `yaml:"listener_command,omitempty"`
	// MediumConfidence is the minimum speech confidence treated as understood.
	MediumConfidence float64 `yaml:"medium_confidence" validate:"gte=0,lte=1"`

	// FaceAPIURL is the remote recognition endpoint.
	FaceAPIURL string `yaml:"face_api_url" validate:"required,url"`
	// BotAPIURL is the conversational endpoint; empty disables conversation.
	BotAPIURL string `yaml:"bot_api_url,omitempty" validate:"omitempty,url"`
	// BotRatePerMinute caps conversational calls.
	BotRatePerMinute int `yaml:"bot_rate_per_minute" validate:"gte=0"`
	// Timeout bounds every HTTP call.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`

	// IdentityStore selects the device identity backend: file or sqlite.
	IdentityStore string `yaml:"identity_store" validate:"omitempty,oneof=file sqlite"`
	// IdentityPath is the identity file or database location.
	IdentityPath string `yaml:"identity_path"`

	// ControlAddress is the gRPC control listen/dial address.
	ControlAddress string `yaml:"control_addr" validate:"omitempty,hostname_port"`
	// MetricsAddress serves Prometheus metrics when set.
	MetricsAddress string `yaml:"metrics_addr,omitempty" validate:"omitempty,hostname_port"`
	// NATSURL enables event publishing when set.
	NATSURL string `yaml:"nats_url,omitempty" validate:"omitempty,url"`

	// AutoStart drives the machine to Startup as soon as the daemon runs.
	AutoStart bool `yaml:"auto_start"`
	// OpenSchedule is a cron expression starting the exhibit.
	OpenSchedule string `yaml:"open_schedule,omitempty"`
	// CloseSchedule is a cron expression suspending the exhibit.
	CloseSchedule string `yaml:"close_schedule,omitempty"`

	// LogLevel is the minimum log level.
	LogLevel string `yaml:"log_level,omitempty"`
	// LogFile enables the rotated operational log.
	LogFile string `yaml:"log_file,omitempty"`
	// LogMaxSizeMB is the rotation size of LogFile.
	LogMaxSizeMB int `yaml:"log_max_size_mb,omitempty" validate:"gte=0"`
	// LogMaxBackups is the number of rotated files kept.
	LogMaxBackups int `yaml:"log_max_backups,omitempty" validate:"gte=0"`

	// fileKeys are the top-level keys present in the loaded file.
	fileKeys map[string]bool
}

const (
	// DefaultConfigFilename is the default filename for kiosk settings.
	DefaultConfigFilename = "kiosk-settings.yaml"
	// DefaultIdentityFilename is the default device identity file.
	DefaultIdentityFilename = "kiosk-identity.yaml"
	// DefaultControlAddress is the default gRPC control address.
	DefaultControlAddress = "127.0.0.1:50061"

	// DefaultAPIInterval is the default remote call cadence.
	DefaultAPIInterval = 5 * time.Second
	// DefaultFacesDisappearGrace is the default debounce delay.
	DefaultFacesDisappearGrace = 2 * time.Second
	// DefaultMinReplayDelay is the default replay cool-down.
	DefaultMinReplayDelay = 10 * time.Second
	// DefaultTickInterval is the default timer period.
	DefaultTickInterval = 500 * time.Millisecond
	// DefaultProbeTimeout is the default bound of one frame probe.
	DefaultProbeTimeout = 3 * time.Second
	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 10 * time.Second

	// DefaultFrameWidth and DefaultFrameHeight are the normalized frame size.
	DefaultFrameWidth  = 640
	DefaultFrameHeight = 480
	// DefaultMaxUploadDimension bounds uploaded images.
	DefaultMaxUploadDimension = 800
	// DefaultBotRatePerMinute caps conversational calls.
	DefaultBotRatePerMinute = 20
	// DefaultMediumConfidence is the default speech confidence threshold.
	DefaultMediumConfidence = 0.5

	// IdentityStoreFile keeps the identity in a YAML file.
	IdentityStoreFile = "file"
	// IdentityStoreSQLite keeps the identity in a SQLite database.
	IdentityStoreSQLite = "sqlite"

	// DefaultFilePermissions is the default file permission for written files.
	DefaultFilePermissions = 0o600
)

// errConfigIsNotSet is returned when a nil configuration is provided.
var errConfigIsNotSet = errors.New("configuration is not set")

//nolint:gochecknoglobals // validator caches struct metadata, one instance is intended.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration from the provided path, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	var keys map[string]any
	if err = yaml.Unmarshal(contents, &keys); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	cfg.fileKeys = make(map[string]bool, len(keys))
	for key := range keys {
		cfg.fileKeys[key] = true
	}

	if err = ApplyEnv(&cfg); err != nil {
		return nil, err
	}

	if err = Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills defaults and checks the settings.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	applyDefaults(cfg)

	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	return nil
}

// Policy returns the timing rules consumed by the state machine.
func (c *Config) Policy() detection.Policy {
	return detection.Policy{
		APIInterval:         c.APIInterval,
		FacesDisappearGrace: c.FacesDisappearGrace,
		MinReplayDelay:      c.MinReplayDelay,
		ProbeTimeout:        c.ProbeTimeout,
	}
}

//nolint:cyclop // A flat list of defaults reads better than a table.
func applyDefaults(cfg *Config) {
	// An explicit zero in the file disables the corresponding timing rule.
	if cfg.APIInterval <= 0 && !cfg.fileKeys["api_interval"] {
		cfg.APIInterval = DefaultAPIInterval
	}

	if cfg.FacesDisappearGrace <= 0 && !cfg.fileKeys["faces_disappear_grace"] {
		cfg.FacesDisappearGrace = DefaultFacesDisappearGrace
	}

	if cfg.MinReplayDelay <= 0 && !cfg.fileKeys["min_replay_delay"] {
		cfg.MinReplayDelay = DefaultMinReplayDelay
	}

	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}

	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.FrameWidth <= 0 || cfg.FrameHeight <= 0 {
		cfg.FrameWidth, cfg.FrameHeight = DefaultFrameWidth, DefaultFrameHeight
	}

	if cfg.MaxUploadDimension <= 0 {
		cfg.MaxUploadDimension = DefaultMaxUploadDimension
	}

	if cfg.BotRatePerMinute <= 0 {
		cfg.BotRatePerMinute = DefaultBotRatePerMinute
	}

	if cfg.MediumConfidence <= 0 {
		cfg.MediumConfidence = DefaultMediumConfidence
	}

	if cfg.IdentityStore == "" {
		cfg.IdentityStore = IdentityStoreFile
	}

	if cfg.IdentityPath == "" {
		cfg.IdentityPath = DefaultIdentityFilename
	}

	if cfg.ControlAddress == "" {
		cfg.ControlAddress = DefaultControlAddress
	}
}
