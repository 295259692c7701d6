package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"

	"github.com/smazurov/camcore/cmd"
	"github.com/smazurov/camcore/internal/api"
	"github.com/smazurov/camcore/internal/config"
	"github.com/smazurov/camcore/internal/engine"
	"github.com/smazurov/camcore/internal/events"
	"github.com/smazurov/camcore/internal/led"
	"github.com/smazurov/camcore/internal/logging"
	"github.com/smazurov/camcore/internal/metrics"
	"github.com/smazurov/camcore/internal/platform"
	"github.com/smazurov/camcore/internal/sim"
	"github.com/smazurov/camcore/internal/systemd"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"camcore.toml"`

	// Server settings
	Port       string `help:"Address to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`
	CORSOrigin string `help:"Allowed CORS origin" default:"*" toml:"server.cors_origin" env:"SERVER_CORS_ORIGIN"`

	// Platform settings
	PlatformFile string `help:"Platform description file; built-in default when absent" default:"platform.toml" toml:"platform.file" env:"PLATFORM_FILE"`

	// Engine settings
	EngineWorkers           int `help:"Event dispatch workers" default:"2" toml:"engine.workers" env:"ENGINE_WORKERS"`
	EngineEventQueueSize    int `help:"Inbound hardware event queue capacity" default:"64" toml:"engine.event_queue_size" env:"ENGINE_EVENT_QUEUE_SIZE"`
	EngineMaxSessions       int `help:"Maximum open sessions" default:"16" toml:"engine.max_sessions" env:"ENGINE_MAX_SESSIONS"`
	EngineLatencyMax        int `help:"Default queued frames before dropping" default:"2" toml:"engine.default_latency_max" env:"ENGINE_LATENCY_MAX"`
	EngineLatencyReduceRate int `help:"Default frames dropped per latency overflow" default:"1" toml:"engine.default_latency_reduce_rate" env:"ENGINE_LATENCY_REDUCE_RATE"`

	// Simulated hardware settings
	SimFrameIntervalMs int     `help:"Frame interval of the simulated hardware; 0 follows the input frame rate" default:"0" toml:"sim.frame_interval_ms" env:"SIM_FRAME_INTERVAL_MS"`
	SimErrorRate       float64 `help:"Probability of a simulated path error per frame" default:"0" toml:"sim.error_rate" env:"SIM_ERROR_RATE"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Features settings
	FeaturesLEDControl  bool `help:"Enable LED control" default:"false" toml:"features.led_control_enabled" env:"FEATURES_LED_CONTROL"`
	FeaturesWatchConfig bool `help:"Reload log levels when the config file changes" default:"true" toml:"features.watch_config" env:"FEATURES_WATCH_CONFIG"`

	// Logging settings
	LoggingLevel    string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat   string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingEngine   string `help:"Engine logging level" default:"info" toml:"logging.engine" env:"LOGGING_ENGINE"`
	LoggingDispatch string `help:"Event dispatch logging level" default:"info" toml:"logging.dispatch" env:"LOGGING_DISPATCH"`
	LoggingSession  string `help:"Session logging level" default:"info" toml:"logging.session" env:"LOGGING_SESSION"`
	LoggingSim      string `help:"Simulated hardware logging level" default:"info" toml:"logging.sim" env:"LOGGING_SIM"`
	LoggingAPI      string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

func simOptions(opts *Options) sim.Options {
	return sim.Options{
		FrameInterval: time.Duration(opts.SimFrameIntervalMs) * time.Millisecond,
		ErrorRate:     opts.SimErrorRate,
		Logger:        logging.GetLogger("sim"),
	}
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"engine":   opts.LoggingEngine,
				"dispatch": opts.LoggingDispatch,
				"session":  opts.LoggingSession,
				"sim":      opts.LoggingSim,
				"api":      opts.LoggingAPI,
			},
		})
		logger := logging.GetLogger("main")

		plat, err := platform.LoadOrDefault(opts.PlatformFile)
		if err != nil {
			logger.Error("Failed to load platform", "file", opts.PlatformFile, "error", err)
			os.Exit(1)
		}

		// Create event bus for in-process event handling
		eventBus := events.New()

		// Log entries are pushed to SSE clients through the bus
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(api.LogEventFromEntry(entry))
		})

		hardware := sim.New(simOptions(opts))
		eng, err := engine.New(engine.Config{
			Workers:           opts.EngineWorkers,
			EventQueueSize:    opts.EngineEventQueueSize,
			MaxSessions:       opts.EngineMaxSessions,
			LatencyMax:        opts.EngineLatencyMax,
			LatencyReduceRate: opts.EngineLatencyReduceRate,
		}, engine.Deps{
			Platform: plat,
			Device:   hardware.Device(),
			Pipeline: hardware.Pipeline(),
			Mapper:   hardware.Mapper(),
			Bus:      eventBus,
			Logger:   logging.GetLogger("engine"),
		})
		if err != nil {
			logger.Error("Failed to create capture engine", "error", err)
			os.Exit(1)
		}

		// Initialize LED control if enabled
		var ledManager *led.Manager
		var ledController led.Controller
		if opts.FeaturesLEDControl {
			logger.Info("LED control enabled, initializing")
			ledController = led.New(logging.GetLogger("led"))
			ledManager = led.NewManager(ledController, eventBus, logging.GetLogger("led"))
		}

		server := api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			Engine:            eng,
			EventBus:          eventBus,
			PrometheusHandler: metrics.HTTPHandler(),
			LEDController:     ledController,
			CORSOrigin:        opts.CORSOrigin,
		})

		var watcher *config.Watcher[logging.Config]
		notifier := systemd.NewNotifier(logging.GetLogger("systemd"))
		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			if initErr := eng.Init(ctx); initErr != nil {
				logger.Error("Failed to start capture engine", "error", initErr)
				os.Exit(1)
			}

			if opts.FeaturesWatchConfig {
				if _, statErr := os.Stat(opts.Config); statErr == nil {
					w, watchErr := config.WatchLogging(ctx, opts.Config, logging.GetLogger("config"))
					if watchErr != nil {
						logger.Warn("Failed to watch config file", "file", opts.Config, "error", watchErr)
					} else {
						watcher = w
					}
				}
			}

			if ledManager != nil {
				ledManager.Start()
			}

			notifier.Ready()
			notifier.Status("Capturing on %d inputs", len(plat.Inputs))
			go notifier.Watchdog(ctx, eng.Running)

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			notifier.Stopping()
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			// Engine shutdown closes every session after the API stops taking requests
			if shutdownErr := eng.Shutdown(); shutdownErr != nil {
				logger.Error("Error shutting down capture engine", "error", shutdownErr)
			}
			cancel()

			if watcher != nil {
				if stopErr := watcher.Stop(); stopErr != nil {
					logger.Warn("Error stopping config watcher", "error", stopErr)
				}
			}
			if ledManager != nil {
				ledManager.Stop()
			}
		})
	})

	cli.Root().Use = "camcore"
	cli.Root().Short = "Camera capture engine daemon"
	cli.Root().AddCommand(cmd.CreateInputsCmd(), cmd.CreateSimulateCmd())
	cli.Root().CompletionOptions = cobra.CompletionOptions{DisableDefaultCmd: true}

	// Run the CLI
	cli.Run()
}
