package led

import "testing"

func TestNew(t *testing.T) {
	ctrl := New(discard())
	if ctrl == nil {
		t.Fatal("New() returned nil")
	}
	if ctrl.Available() == nil || ctrl.Patterns() == nil {
		t.Error("controller returned nil slices")
	}
}

func TestNewForModel(t *testing.T) {
	tests := []struct {
		model     string
		wantSysfs bool
	}{
		{"FriendlyElec NanoPC-T6", true},
		{"Raspberry Pi 4 Model B Rev 1.4", true},
		{"NVIDIA Jetson Orin Nano", true},
		{"QEMU Virtual Machine", false},
		{"unknown", false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			ctrl := newForModel(tt.model, t.TempDir(), discard())
			_, isSysfs := ctrl.(*sysfs)
			if isSysfs != tt.wantSysfs {
				t.Fatalf("sysfs = %v, want %v", isSysfs, tt.wantSysfs)
			}
			if isSysfs && ctrl.Available()[0] == "" {
				t.Error("sysfs controller without LEDs")
			}
		})
	}
}

func TestDetectBoard(t *testing.T) {
	if detectBoard() == "" {
		t.Error("detectBoard() returned empty string")
	}
}
