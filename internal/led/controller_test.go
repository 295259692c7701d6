package led

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestNoopController(t *testing.T) {
	ctrl := newNoop(discard())

	if err := ctrl.Set("user", true, "solid"); err != nil {
		t.Errorf("Set() returned error: %v", err)
	}
	if types := ctrl.Available(); len(types) != 0 {
		t.Errorf("Available() = %v, want empty slice", types)
	}
	if patterns := ctrl.Patterns(); len(patterns) != 0 {
		t.Errorf("Patterns() = %v, want empty slice", patterns)
	}
}

func TestSysfsController_Available(t *testing.T) {
	tests := []struct {
		name string
		leds map[string]string
		want []string
	}{
		{"two LEDs", map[string]string{"user": "usr_led", "system": "sys_led"}, []string{"system", "user"}},
		{"single LED", map[string]string{"system": "ACT"}, []string{"system"}},
		{"no LEDs", map[string]string{}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newSysfs("", tt.leds).Available()
			if !slices.Equal(got, tt.want) {
				t.Errorf("Available() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSysfsController_Patterns(t *testing.T) {
	patterns := newSysfs("", nil).Patterns()
	for _, want := range []string{"solid", "blink", "heartbeat"} {
		if !slices.Contains(patterns, want) {
			t.Errorf("Patterns() missing %q", want)
		}
	}
}

func TestSysfsController_Set_InvalidType(t *testing.T) {
	ctrl := newSysfs(t.TempDir(), map[string]string{"user": "usr_led"})
	if err := ctrl.Set("nonexistent", true, ""); err == nil {
		t.Error("Set() with invalid LED type should return error")
	}
	if err := ctrl.Set("user", true, ""); err == nil {
		t.Error("Set() with missing sysfs node should return error")
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestSysfsController_Set(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "sys_led")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	ctrl := newSysfs(root, map[string]string{Indicator: "sys_led"})

	if err := ctrl.Set(Indicator, true, "solid"); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, filepath.Join(dir, "trigger")); got != "none" {
		t.Errorf("trigger = %q, want none", got)
	}
	if got := readFile(t, filepath.Join(dir, "brightness")); got != "1" {
		t.Errorf("brightness = %q, want 1", got)
	}

	if err := ctrl.Set(Indicator, true, "blink"); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, filepath.Join(dir, "trigger")); got != "heartbeat" {
		t.Errorf("trigger = %q, want heartbeat", got)
	}

	if err := ctrl.Set(Indicator, false, "solid"); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, filepath.Join(dir, "brightness")); got != "0" {
		t.Errorf("brightness = %q, want 0", got)
	}
}
