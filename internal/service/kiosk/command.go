package kiosk

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"

	api "github.com/oshokin/exhibit-kiosk/internal/api/grpc/control"
	"github.com/oshokin/exhibit-kiosk/internal/camera"
	"github.com/oshokin/exhibit-kiosk/internal/config"
	"github.com/oshokin/exhibit-kiosk/internal/events"
	"github.com/oshokin/exhibit-kiosk/internal/instance"
	"github.com/oshokin/exhibit-kiosk/internal/logger"
	"github.com/oshokin/exhibit-kiosk/internal/metrics"
	"github.com/oshokin/exhibit-kiosk/internal/remote/bot"
	"github.com/oshokin/exhibit-kiosk/internal/remote/faceapi"
	"github.com/oshokin/exhibit-kiosk/internal/repository/identity"
	"github.com/oshokin/exhibit-kiosk/internal/sidecar"
	"github.com/oshokin/exhibit-kiosk/internal/speech"
	"github.com/oshokin/exhibit-kiosk/internal/vision"
)

// Options controls the kiosk daemon.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ControlAddress overrides the gRPC control listen address from config.
	ControlAddress string
	// AllowMultiple skips the single-instance check.
	AllowMultiple bool
}

// Run starts the kiosk daemon and blocks until ctx is cancelled. On the way
// out the machine is driven to Idle before any collaborator is closed.
//
//nolint:cyclop,funlen // Wiring of every collaborator lives in one place on purpose.
func Run(ctx context.Context, opts *Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	// The named logger is derived after the file sink is installed.
	closeLog := setupLogger(ctx, cfg)

	defer func() {
		_ = closeLog()
	}()

	ctx = logger.WithKV(logger.WithName(ctx, "kiosk"), "camera_device", cfg.CameraDevice)

	if !opts.AllowMultiple {
		if err = instance.EnsureSingle(); err != nil {
			return err
		}
	}

	controlAddress := cfg.ControlAddress
	if opts.ControlAddress != "" {
		controlAddress = opts.ControlAddress
	}

	store, err := identity.Open(ctx, cfg.IdentityStore, cfg.IdentityPath)
	if err != nil {
		return fmt.Errorf("open identity store: %w", err)
	}

	defer func() {
		_ = store.Close()
	}()

	var publisher events.Publisher = events.Noop{}

	if cfg.NATSURL != "" {
		natsPublisher, dialErr := events.Dial(ctx, cfg.NATSURL)
		if dialErr != nil {
			return dialErr
		}

		publisher = natsPublisher
	}

	defer func() {
		_ = publisher.Close()
	}()

	visionWorker, err := sidecar.Start(ctx, "vision", cfg.VisionCommand)
	if err != nil {
		return fmt.Errorf("start vision worker: %w", err)
	}

	defer func() {
		_ = visionWorker.Close()
	}()

	recognizer, err := faceapi.New(cfg.FaceAPIURL, faceapi.WithCallTimeout(cfg.Timeout))
	if err != nil {
		return err
	}

	phrases := speech.DefaultPhrases()
	speaker := speech.NewCommandSpeaker(cfg.SpeechCommand, phrases)
	recorder := metrics.NewRecorder(nil)
	worker := vision.NewWorker(visionWorker)

	machine := NewMachine(Dependencies{
		Camera:     camera.NewCommandDevice(cfg.CameraCommand),
		Frames:     camera.NewFrameSource(camera.PixelFormatRGBA8, cfg.FrameWidth, cfg.FrameHeight),
		Tracker:    worker,
		Decoder:    worker,
		Builder:    vision.NewRequestBuilder(cfg.MaxUploadDimension),
		Recognizer: recognizer,
		Speaker:    speaker,
		Phrases:    phrases,
		Identity:   store,
		Events:     publisher,
		Metrics:    recorder,
	}, cfg.CameraDevice, cfg.Policy())

	runtime := NewRuntime(machine, cfg.TickInterval)

	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)

	defer func() {
		cancel()
		wg.Wait()
	}()

	wg.Go(func() {
		runtime.Run(ctx)
	})

	if cfg.MetricsAddress != "" {
		wg.Go(func() {
			if serveErr := recorder.Serve(ctx, cfg.MetricsAddress); serveErr != nil {
				logger.ErrorKV(ctx, "Metrics server failed", "error", serveErr)
			}
		})
	}

	wg.Go(func() {
		watchErr := config.Watch(ctx, opts.ConfigPath, func(updated *config.Config) {
			if level, ok := logger.ParseLogLevel(updated.LogLevel); ok {
				logger.SetLevel(level)
			}

			if policyErr := runtime.UpdatePolicy(ctx, updated.Policy()); policyErr != nil {
				logger.WarnKV(ctx, "Failed to apply settings", "error", policyErr)
			}

			if intervalErr := runtime.UpdateInterval(ctx, updated.TickInterval); intervalErr != nil {
				logger.WarnKV(ctx, "Failed to apply tick interval", "error", intervalErr)
			}
		})
		if watchErr != nil {
			logger.WarnKV(ctx, "Settings watcher stopped", "error", watchErr)
		}
	})

	if err = startConversation(ctx, &wg, cfg, speaker, phrases, store, recorder); err != nil {
		return err
	}

	schedule, err := NewSchedule(ctx, runtime, cfg.OpenSchedule, cfg.CloseSchedule)
	if err != nil {
		return err
	}

	schedule.Start()

	defer func() {
		_ = schedule.Stop()
	}()

	if cfg.AutoStart {
		if _, err = runtime.Start(ctx); err != nil {
			return fmt.Errorf("auto start: %w", err)
		}
	}

	return serveControl(ctx, controlAddress, runtime)
}

// setupLogger applies the configured level and file sink.
func setupLogger(ctx context.Context, cfg *config.Config) func() error {
	level, ok := logger.ParseLogLevel(cfg.LogLevel)
	if !ok {
		logger.WarnKV(ctx, "Unknown log level, keeping default", "log_level", cfg.LogLevel)

		level = logger.Level()
	}

	logger.SetLevel(level)

	if cfg.LogFile == "" {
		return func() error { return nil }
	}

	l, closeFile := logger.NewWithFile(nil, logger.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	logger.SetLogger(l)

	return closeFile
}

// startConversation wires speech input to the bot when both are configured.
func startConversation(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg *config.Config,
	speaker speech.Speaker,
	phrases speech.Phrases,
	store IdentityStore,
	recorder *metrics.Recorder,
) error {
	if cfg.BotAPIURL == "" || len(cfg.ListenerCommand) == 0 {
		logger.Info(ctx, "Conversation disabled")

		return nil
	}

	client, err := bot.New(cfg.BotAPIURL,
		bot.WithCallTimeout(cfg.Timeout),
		bot.WithRatePerMinute(cfg.BotRatePerMinute))
	if err != nil {
		return err
	}

	listener, err := sidecar.Start(ctx, "listener", cfg.ListenerCommand)
	if err != nil {
		logger.ErrorKV(ctx, "Speech input unavailable", "error", err)
		speaker.Say(ctx, phrases.SpeechUnavailable)

		return nil
	}

	conversation := NewConversation(client, speaker, phrases, store, cfg.MediumConfidence, recorder)
	results := speech.NewLineListener(ctx, listener).Results()

	wg.Go(func() {
		defer func() {
			_ = listener.Close()
		}()

		conversation.Run(ctx, results)
	})

	return nil
}

// serveControl runs the gRPC control API until ctx is cancelled.
func serveControl(ctx context.Context, address string, runtime *Runtime) error {
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}

	grpcServer := grpc.NewServer()
	api.RegisterControlServer(grpcServer, api.NewServer(runtime))

	logger.InfoKV(ctx, "Kiosk control listening", "listen_address", lis.Addr().String())

	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down control server")
		grpcServer.GracefulStop()
		close(done)
	}()

	if err = grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done
	logger.Info(ctx, "Control server stopped")

	return nil
}
