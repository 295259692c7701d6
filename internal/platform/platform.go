// Package platform describes the capture hardware of a board: the camera
// inputs, the CSI root each one is wired to, and the front-end cores with
// their output interfaces.
package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/camcore/internal/hw"
)

// MaxInterfaces is the most output interfaces a single core may expose.
const MaxInterfaces = 8

// Input is one camera input.
type Input struct {
	ID         uint32  `toml:"id"`
	Name       string  `toml:"name"`
	Root       uint32  `toml:"root"`
	VC         uint32  `toml:"vc"`
	Width      int     `toml:"width"`
	Height     int     `toml:"height"`
	Format     string  `toml:"format"`
	FPS        float64 `toml:"fps"`
	Interlaced bool    `toml:"interlaced,omitempty"`
}

// Core is one front-end core attached to a CSI root.
type Core struct {
	ID         uint32 `toml:"id"`
	Root       uint32 `toml:"root"`
	Interfaces int    `toml:"interfaces"`
}

// Platform is a complete board description.
type Platform struct {
	Name   string  `toml:"name"`
	Inputs []Input `toml:"inputs"`
	Cores  []Core  `toml:"cores"`
}

var knownFormats = []hw.PixelFormat{
	hw.FormatUYVY, hw.FormatYUYV, hw.FormatNV12, hw.FormatRAW10, hw.FormatRAW12, hw.FormatRGB24,
}

// Default returns the built-in four-camera surround-view layout with an
// interlaced cabin camera.
func Default() *Platform {
	return &Platform{
		Name: "surround-view",
		Inputs: []Input{
			{ID: 0, Name: "front", Root: 0, VC: 0, Width: 1280, Height: 800, Format: string(hw.FormatUYVY), FPS: 30},
			{ID: 1, Name: "rear", Root: 0, VC: 1, Width: 1280, Height: 800, Format: string(hw.FormatUYVY), FPS: 30},
			{ID: 2, Name: "left", Root: 1, VC: 0, Width: 1280, Height: 800, Format: string(hw.FormatUYVY), FPS: 30},
			{ID: 3, Name: "right", Root: 1, VC: 1, Width: 1280, Height: 800, Format: string(hw.FormatUYVY), FPS: 30},
			{ID: 4, Name: "cabin", Root: 2, VC: 0, Width: 720, Height: 240, Format: string(hw.FormatYUYV), FPS: 60, Interlaced: true},
		},
		Cores: []Core{
			{ID: 0, Root: 0, Interfaces: 2},
			{ID: 1, Root: 1, Interfaces: 1},
			{ID: 2, Root: 2, Interfaces: 1},
		},
	}
}

// Load reads a platform description from a TOML file.
func Load(path string) (*Platform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read platform file: %w", err)
	}

	var p Platform
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse platform file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid platform %s: %w", path, err)
	}
	return &p, nil
}

// LoadOrDefault loads path, or returns Default when path is empty.
func LoadOrDefault(path string) (*Platform, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Save writes p to path as TOML.
func Save(path string, p *Platform) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create platform directory: %w", err)
	}

	data, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal platform: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write platform file: %w", err)
	}
	return nil
}

// Validate checks ids are unique and every entry is well formed.
func (p *Platform) Validate() error {
	var errs []error

	if len(p.Inputs) == 0 {
		errs = append(errs, errors.New("no inputs"))
	}

	inputs := make(map[uint32]bool)
	for _, in := range p.Inputs {
		if inputs[in.ID] {
			errs = append(errs, fmt.Errorf("duplicate input id %d", in.ID))
		}
		inputs[in.ID] = true

		if in.Width <= 0 || in.Height <= 0 {
			errs = append(errs, fmt.Errorf("input %d: bad resolution %dx%d", in.ID, in.Width, in.Height))
		}
		if in.FPS <= 0 {
			errs = append(errs, fmt.Errorf("input %d: bad frame rate %g", in.ID, in.FPS))
		}
		if !slices.Contains(knownFormats, hw.PixelFormat(in.Format)) {
			errs = append(errs, fmt.Errorf("input %d: unknown format %q", in.ID, in.Format))
		}
	}

	cores := make(map[uint32]bool)
	for _, c := range p.Cores {
		if cores[c.ID] {
			errs = append(errs, fmt.Errorf("duplicate core id %d", c.ID))
		}
		cores[c.ID] = true

		if c.Interfaces < 1 || c.Interfaces > MaxInterfaces {
			errs = append(errs, fmt.Errorf("core %d: interfaces %d out of range [1,%d]", c.ID, c.Interfaces, MaxInterfaces))
		}
	}

	return errors.Join(errs...)
}

// InputInfos returns every input in declaration order.
func (p *Platform) InputInfos() []hw.InputInfo {
	out := make([]hw.InputInfo, 0, len(p.Inputs))
	for _, in := range p.Inputs {
		out = append(out, in.info())
	}
	return out
}

// Input looks up an input by id.
func (p *Platform) Input(id hw.InputID) (hw.InputInfo, bool) {
	for _, in := range p.Inputs {
		if hw.InputID(in.ID) == id {
			return in.info(), true
		}
	}
	return hw.InputInfo{}, false
}

func (in Input) info() hw.InputInfo {
	return hw.InputInfo{
		ID:         hw.InputID(in.ID),
		Name:       in.Name,
		Root:       hw.RootID(in.Root),
		VC:         in.VC,
		Resolution: hw.Resolution{Width: in.Width, Height: in.Height},
		Format:     hw.PixelFormat(in.Format),
		FPS:        in.FPS,
		Interlaced: in.Interlaced,
	}
}
