package session

import (
	"github.com/smazurov/camcore/internal/buffers"
)

// Configurer implements the hardware lifecycle for one hardware domain.
// Calls that take a *Context are made with that session's lock held; a
// configurer may read the session through its accessors but must not call
// its state-changing methods.
type Configurer interface {
	Init() error
	Deinit() error
	PowerSuspend() error
	PowerResume() error
	Config(c *Context) error
	Start(c *Context) error
	Stop(c *Context) error
	Pause(c *Context) error
	Resume(c *Context) error
	SetParam(c *Context, id ParamID, value any) error
	GetParam(c *Context, id ParamID) (any, error)
}

// OutputPath is the configurer for the front-end output interface. It also
// accepts buffers for the hardware to fill.
type OutputPath interface {
	Configurer
	Submit(c *Context, buf buffers.Buffer) error
}

// Stage identifies a configurer's position in the pipeline.
type Stage int

// Pipeline stages in start order.
const (
	StageInput Stage = iota
	StageInterconnect
	StageOutput
	numStages
)

func (s Stage) String() string {
	switch s {
	case StageInput:
		return "input"
	case StageInterconnect:
		return "interconnect"
	case StageOutput:
		return "output"
	default:
		return "unknown"
	}
}

// Pipeline is the fixed set of configurers a session drives.
type Pipeline struct {
	Input        Configurer
	Interconnect Configurer
	Output       OutputPath
}

// Stages returns the configurers in start order.
func (p Pipeline) Stages() [numStages]Configurer {
	return [numStages]Configurer{p.Input, p.Interconnect, p.Output}
}

// Arbiter grants and takes back hardware output paths.
type Arbiter interface {
	Reserve(c *Context) error
	Release(c *Context) error
}
