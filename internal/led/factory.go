package led

import (
	"log/slog"
	"os"
	"strings"
)

const deviceTreeModelPath = "/proc/device-tree/model"

// boards maps a device-tree model fragment to the sysfs names of its LEDs.
// Every entry exposes an Indicator LED.
var boards = []struct {
	model string
	leds  map[string]string
}{
	{"NanoPC-T6", map[string]string{"user": "usr_led", Indicator: "sys_led"}},
	{"Orange Pi", map[string]string{"blue": "blue_led", Indicator: "green_led"}},
	{"Raspberry Pi", map[string]string{Indicator: "ACT"}},
	{"Jetson", map[string]string{Indicator: "pwr"}},
}

// New creates an LED controller based on board detection.
// Falls back to a no-op controller if LEDs are not available.
func New(logger *slog.Logger) Controller {
	return newForModel(detectBoard(), sysfsLEDPath, logger)
}

func newForModel(model, root string, logger *slog.Logger) Controller {
	logger.Info("Detecting board for LED control", "board_model", model)
	for _, b := range boards {
		if strings.Contains(model, b.model) {
			logger.Info("Using sysfs LED controller", "board", b.model)
			return newSysfs(root, b.leds)
		}
	}
	logger.Info("No LED support detected, using no-op controller", "board_model", model)
	return newNoop(logger)
}

// detectBoard reads the device tree model to identify the board.
func detectBoard() string {
	data, err := os.ReadFile(deviceTreeModelPath)
	if err != nil {
		return "unknown"
	}
	// Device tree model contains null bytes
	return strings.TrimRight(string(data), "\x00")
}
