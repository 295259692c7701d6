package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// TestConfig mirrors the shape of the daemon options.
type TestConfig struct {
	Config string `help:"Config file path"`

	Listen      string   `toml:"server.listen" env:"LISTEN"`
	Simulate    bool     `toml:"sim.enabled" env:"SIM_ENABLED"`
	Workers     int      `toml:"engine.workers" env:"WORKERS"`
	FrameRate   float64  `toml:"sim.frame_rate" env:"SIM_FRAME_RATE"`
	Inputs      []string `toml:"sim.inputs" env:"SIM_INPUTS"`
	LoggingPath string   `toml:"logging.path" env:"LOGGING_PATH"`
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "camcore.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeTemp(t, `
[server]
listen = ":9090"

[engine]
workers = 4

[sim]
enabled = true
frame_rate = 29.97
inputs = ["cam0", "cam1"]
`)

	cfg := &TestConfig{Config: path}
	if err := LoadConfig(cfg, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("Listen = %q, want :9090", cfg.Listen)
	}
	if !cfg.Simulate {
		t.Error("Simulate should be true")
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if cfg.FrameRate != 29.97 {
		t.Errorf("FrameRate = %v, want 29.97", cfg.FrameRate)
	}
	if want := []string{"cam0", "cam1"}; !reflect.DeepEqual(cfg.Inputs, want) {
		t.Errorf("Inputs = %v, want %v", cfg.Inputs, want)
	}
}

func TestLoadConfigIntegerAsFloat(t *testing.T) {
	path := writeTemp(t, "[sim]\nframe_rate = 30\n")

	cfg := &TestConfig{Config: path}
	if err := LoadConfig(cfg, nil); err != nil {
		t.Fatal(err)
	}
	if cfg.FrameRate != 30 {
		t.Errorf("FrameRate = %v, want 30", cfg.FrameRate)
	}
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	t.Setenv("CAMCORE_LISTEN", ":7070")
	t.Setenv("CAMCORE_SIM_ENABLED", "true")
	t.Setenv("CAMCORE_WORKERS", "3")
	t.Setenv("CAMCORE_SIM_FRAME_RATE", "15.5")
	t.Setenv("CAMCORE_SIM_INPUTS", "a, b ,c")

	cfg := &TestConfig{}
	if err := LoadConfig(cfg, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Listen != ":7070" || !cfg.Simulate || cfg.Workers != 3 || cfg.FrameRate != 15.5 {
		t.Errorf("cfg = %+v", cfg)
	}
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(cfg.Inputs, want) {
		t.Errorf("Inputs = %v, want %v", cfg.Inputs, want)
	}
}

func TestEnvOverridesTOML(t *testing.T) {
	path := writeTemp(t, "[engine]\nworkers = 2\n\n[server]\nlisten = \":8090\"\n")
	t.Setenv("CAMCORE_WORKERS", "8")

	cfg := &TestConfig{Config: path}
	if err := LoadConfig(cfg, nil); err != nil {
		t.Fatal(err)
	}
	if cfg.Workers != 8 {
		t.Errorf("Workers = %d, env should win over file", cfg.Workers)
	}
	if cfg.Listen != ":8090" {
		t.Errorf("Listen = %q, file value expected", cfg.Listen)
	}
}

func TestInvalidEnvValueIgnored(t *testing.T) {
	t.Setenv("CAMCORE_WORKERS", "many")

	cfg := &TestConfig{Workers: 2}
	if err := LoadConfig(cfg, nil); err != nil {
		t.Fatal(err)
	}
	if cfg.Workers != 2 {
		t.Errorf("Workers = %d, want default kept", cfg.Workers)
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	path := writeTemp(t, "[engine\nworkers = ")
	if err := LoadConfig(&TestConfig{Config: path}, nil); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg := &TestConfig{Config: filepath.Join(t.TempDir(), "absent.toml"), Workers: 2}
	if err := LoadConfig(cfg, nil); err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if cfg.Workers != 2 {
		t.Errorf("Workers = %d", cfg.Workers)
	}
}

func TestFieldNameToFlag(t *testing.T) {
	tests := map[string]string{
		"Port":             "port",
		"LoggingLevel":     "logging-level",
		"EngineLatencyMax": "engine-latency-max",
		"SimFrameRate":     "sim-frame-rate",
	}
	for in, want := range tests {
		if got := fieldNameToFlag(in); got != want {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseLoggingConfig(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantLevel   string
		wantFormat  string
		wantModules map[string]string
		wantErr     bool
	}{
		{
			name:        "modules table",
			content:     "[logging]\nlevel = \"warn\"\nformat = \"json\"\n\n[logging.modules]\nengine = \"debug\"\n",
			wantLevel:   "warn",
			wantFormat:  "json",
			wantModules: map[string]string{"engine": "debug"},
		},
		{
			name:        "flat module keys",
			content:     "[logging]\nlevel = \"info\"\ndispatch = \"debug\"\nsim = \"error\"\n",
			wantLevel:   "info",
			wantFormat:  "text",
			wantModules: map[string]string{"dispatch": "debug", "sim": "error"},
		},
		{
			name:        "no logging section",
			content:     "[engine]\nworkers = 2\n",
			wantLevel:   "info",
			wantFormat:  "text",
			wantModules: map[string]string{},
		},
		{
			name:    "invalid global level",
			content: "[logging]\nlevel = \"loud\"\n",
			wantErr: true,
		},
		{
			name:    "invalid module level",
			content: "[logging.modules]\nengine = \"verbose\"\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseLoggingConfig(writeTemp(t, tt.content))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", cfg)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if cfg.Level != tt.wantLevel || cfg.Format != tt.wantFormat {
				t.Errorf("level/format = %s/%s, want %s/%s", cfg.Level, cfg.Format, tt.wantLevel, tt.wantFormat)
			}
			if !reflect.DeepEqual(cfg.Modules, tt.wantModules) {
				t.Errorf("modules = %v, want %v", cfg.Modules, tt.wantModules)
			}
		})
	}
}

func TestLoadLoggingConfigDefaults(t *testing.T) {
	cfg := LoadLoggingConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if cfg.Level != "info" || cfg.Format != "text" {
		t.Errorf("defaults = %+v", cfg)
	}

	cfg = LoadLoggingConfig(writeTemp(t, "[logging]\nlevel = \"nope\"\n"))
	if cfg.Level != "info" {
		t.Errorf("invalid file should fall back to defaults, got %+v", cfg)
	}
}
