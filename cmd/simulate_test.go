package cmd

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/smazurov/camcore/internal/status"
)

func simOptions(t *testing.T) SimulateOptions {
	return SimulateOptions{
		PlatformFile:  filepath.Join(t.TempDir(), "absent.toml"),
		Frames:        5,
		Buffers:       4,
		LatencyMax:    2,
		ReduceRate:    1,
		FrameInterval: 2 * time.Millisecond,
	}
}

func TestRunSimulation(t *testing.T) {
	res, err := RunSimulation(context.Background(), simOptions(t))
	if err != nil {
		t.Fatalf("RunSimulation failed: %v", err)
	}
	if res.Received != 5 {
		t.Errorf("Received = %d, want 5", res.Received)
	}
	if res.LastFrameID == 0 {
		t.Error("LastFrameID not recorded")
	}
}

func TestRunSimulation_Interlaced(t *testing.T) {
	opts := simOptions(t)
	opts.Input = 4
	res, err := RunSimulation(context.Background(), opts)
	if err != nil {
		t.Fatalf("RunSimulation failed: %v", err)
	}
	if res.Received != 5 {
		t.Errorf("Received = %d, want 5", res.Received)
	}
}

func TestRunSimulation_BadParams(t *testing.T) {
	opts := simOptions(t)
	opts.Frames = 0
	if _, err := RunSimulation(context.Background(), opts); !errors.Is(err, status.ErrBadParam) {
		t.Errorf("zero frames: err = %v, want BAD_PARAM", err)
	}

	opts = simOptions(t)
	opts.Input = 99
	if _, err := RunSimulation(context.Background(), opts); !errors.Is(err, status.ErrBadParam) {
		t.Errorf("unknown input: err = %v, want BAD_PARAM", err)
	}

	opts = simOptions(t)
	opts.Buffers = 1
	if _, err := RunSimulation(context.Background(), opts); err == nil {
		t.Error("single buffer should be rejected")
	}
}

func TestRunSimulation_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := RunSimulation(ctx, simOptions(t)); err == nil {
		t.Error("cancelled context should stop the run")
	}
}
