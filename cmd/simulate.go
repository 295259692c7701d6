package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/camcore/internal/buffers"
	"github.com/smazurov/camcore/internal/engine"
	"github.com/smazurov/camcore/internal/events"
	"github.com/smazurov/camcore/internal/hw"
	"github.com/smazurov/camcore/internal/logging"
	"github.com/smazurov/camcore/internal/metrics"
	"github.com/smazurov/camcore/internal/platform"
	"github.com/smazurov/camcore/internal/session"
	"github.com/smazurov/camcore/internal/sim"
	"github.com/smazurov/camcore/internal/status"
)

// SimulateOptions configures one simulated capture run.
type SimulateOptions struct {
	PlatformFile  string
	Input         uint32
	Frames        int
	Buffers       int
	LatencyMax    int
	ReduceRate    int
	FrameInterval time.Duration
	ConsumerDelay time.Duration
	ErrorRate     float64
}

// SimulateResult summarizes a simulated capture run.
type SimulateResult struct {
	Received     int
	FieldUnknown int
	PathErrors   int
	Dropped      uint64
	LastFrameID  uint64
	Elapsed      time.Duration
}

// CreateSimulateCmd creates the simulate command.
func CreateSimulateCmd() *cobra.Command {
	opts := SimulateOptions{}
	var logJSON bool
	var verbose bool

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Capture frames from simulated hardware",
		Long: `Runs the capture engine against simulated hardware: opens one input, maps buffers, ` +
			`starts streaming and consumes the requested number of frames. A consumer delay larger ` +
			`than the frame interval exercises the latency bound.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loggingConfig := logging.Config{Level: "warn", Format: "text"}
			if verbose {
				loggingConfig.Level = "debug"
			}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)

			res, err := RunSimulation(cmd.Context(), opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "input %d: %d frames received in %s\n", opts.Input, res.Received, res.Elapsed.Round(time.Millisecond))
			fmt.Fprintf(out, "  last frame id:   %d\n", res.LastFrameID)
			fmt.Fprintf(out, "  dropped:         %d\n", res.Dropped)
			fmt.Fprintf(out, "  field unknown:   %d\n", res.FieldUnknown)
			fmt.Fprintf(out, "  path errors:     %d\n", res.PathErrors)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.PlatformFile, "platform", "platform.toml", "Platform description file")
	cmd.Flags().Uint32Var(&opts.Input, "input", 0, "Input to capture from")
	cmd.Flags().IntVar(&opts.Frames, "frames", 30, "Frames to consume before stopping")
	cmd.Flags().IntVar(&opts.Buffers, "buffers", 4, "Client buffers to map")
	cmd.Flags().IntVar(&opts.LatencyMax, "latency-max", session.DefaultLatencyMax, "Queued frames before dropping")
	cmd.Flags().IntVar(&opts.ReduceRate, "latency-reduce-rate", session.DefaultLatencyReduceRate, "Frames dropped per latency overflow")
	cmd.Flags().DurationVar(&opts.FrameInterval, "interval", 0, "Frame interval; 0 follows the input frame rate")
	cmd.Flags().DurationVar(&opts.ConsumerDelay, "consumer-delay", 0, "Delay before releasing each frame")
	cmd.Flags().Float64Var(&opts.ErrorRate, "error-rate", 0, "Probability of a path error per frame")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log engine activity at debug level")

	return cmd
}

// RunSimulation captures opts.Frames frames from a simulated input.
func RunSimulation(ctx context.Context, opts SimulateOptions) (SimulateResult, error) {
	var res SimulateResult
	if opts.Frames <= 0 {
		return res, status.New(status.CodeBadParam, "frames must be positive")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	plat, err := platform.LoadOrDefault(opts.PlatformFile)
	if err != nil {
		return res, fmt.Errorf("load platform: %w", err)
	}

	hardware := sim.New(sim.Options{
		FrameInterval: opts.FrameInterval,
		ErrorRate:     opts.ErrorRate,
		Logger:        logging.GetLogger("sim"),
	})
	bus := events.New()
	eng, err := engine.New(engine.Config{
		Workers:           1,
		LatencyMax:        opts.LatencyMax,
		LatencyReduceRate: opts.ReduceRate,
	}, engine.Deps{
		Platform: plat,
		Device:   hardware.Device(),
		Pipeline: hardware.Pipeline(),
		Mapper:   hardware.Mapper(),
		Bus:      bus,
		Logger:   logging.GetLogger("engine"),
	})
	if err != nil {
		return res, err
	}
	if err := eng.Init(ctx); err != nil {
		return res, err
	}
	defer func() {
		if err := eng.Shutdown(); err != nil {
			logging.GetLogger("simulate").Warn("Engine shutdown failed", "error", err)
		}
	}()

	pathErrors := make(chan struct{}, 256)
	unsubscribe := bus.Subscribe(func(events.PathErrorEvent) {
		select {
		case pathErrors <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	h, err := eng.Open(hw.InputID(opts.Input))
	if err != nil {
		return res, err
	}
	bufs := make([]buffers.ClientBuffer, opts.Buffers)
	size := frameSize(plat, hw.InputID(opts.Input))
	for i := range bufs {
		bufs[i] = buffers.ClientBuffer{Handle: uint64(i + 1), Size: size}
	}
	if err := eng.SetBuffers(h, bufs); err != nil {
		return res, err
	}
	if err := eng.Start(h); err != nil {
		return res, err
	}

	info, err := eng.Session(h)
	if err != nil {
		return res, err
	}

	started := time.Now()
	for res.Received < opts.Frames {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		frame, err := eng.GetFrame(ctx, h, time.Second)
		if errors.Is(err, status.ErrTimeout) {
			return res, fmt.Errorf("no frame after %d received: %w", res.Received, err)
		}
		if err != nil {
			return res, err
		}
		res.Received++
		res.LastFrameID = frame.FrameID
		if frame.Field == hw.FieldUnknown {
			res.FieldUnknown++
		}
		if opts.ConsumerDelay > 0 {
			time.Sleep(opts.ConsumerDelay)
		}
		if err := eng.ReleaseFrame(h, frame.BufferIndex); err != nil {
			return res, err
		}
	}
	res.Elapsed = time.Since(started)

	if err := eng.Stop(h); err != nil {
		return res, err
	}
	if m := metrics.GetSessionMetrics(info.ID); m != nil {
		res.Dropped = m.Dropped
	}
	res.PathErrors = len(pathErrors)
	return res, eng.Close(h)
}

func frameSize(plat *platform.Platform, id hw.InputID) int {
	in, ok := plat.Input(id)
	if !ok || in.Resolution.Width == 0 {
		return 4096
	}
	// two bytes per pixel covers every packed format the platform lists
	return in.Resolution.Width * in.Resolution.Height * 2
}
