package led

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

const sysfsLEDPath = "/sys/class/leds"

// sysfs implements Controller using the Linux sysfs LED interface.
type sysfs struct {
	root string
	leds map[string]string // LED type -> sysfs name
}

func newSysfs(root string, leds map[string]string) *sysfs {
	if root == "" {
		root = sysfsLEDPath
	}
	return &sysfs{root: root, leds: leds}
}

// trigger maps a pattern onto the kernel trigger name.
func trigger(pattern string) string {
	switch pattern {
	case "solid":
		return "none"
	case "blink", "heartbeat":
		return "heartbeat"
	default:
		return pattern
	}
}

// Set controls an LED's state and optional pattern.
func (s *sysfs) Set(ledType string, enabled bool, pattern string) error {
	sysfsName, ok := s.leds[ledType]
	if !ok {
		return fmt.Errorf("LED type %q not supported on this board", ledType)
	}

	ledPath := filepath.Join(s.root, sysfsName)
	if _, err := os.Stat(ledPath); os.IsNotExist(err) {
		return fmt.Errorf("LED %q not found at %s", ledType, ledPath)
	}

	if pattern != "" {
		triggerPath := filepath.Join(ledPath, "trigger")
		if err := os.WriteFile(triggerPath, []byte(trigger(pattern)), 0o644); err != nil {
			return fmt.Errorf("failed to set LED trigger: %w", err)
		}
	}

	// A heartbeat trigger owns the brightness.
	if pattern == "blink" || pattern == "heartbeat" {
		return nil
	}

	brightness := "0"
	if enabled {
		brightness = "1"
	}
	if err := os.WriteFile(filepath.Join(ledPath, "brightness"), []byte(brightness), 0o644); err != nil {
		return fmt.Errorf("failed to set LED brightness: %w", err)
	}
	return nil
}

func (s *sysfs) Available() []string {
	types := make([]string, 0, len(s.leds))
	for ledType := range s.leds {
		types = append(types, ledType)
	}
	slices.Sort(types)
	return types
}

func (s *sysfs) Patterns() []string {
	return []string{"solid", "blink", "heartbeat"}
}
