// Package hw holds the hardware-facing vocabulary shared by the capture core:
// identifiers for inputs, CSI roots, front-end cores and their output
// interfaces, the asynchronous events raised by the hardware, and the frame
// descriptors handed back to clients.
package hw

import (
	"fmt"
	"time"
)

// InputID identifies a camera input as exposed to clients.
type InputID uint32

// RootID identifies a physical interconnect root (a CSI PHY).
type RootID uint32

// CoreID identifies an image front-end core.
type CoreID uint32

// InterfaceID identifies an output interface on a front-end core.
type InterfaceID uint32

// PathBinding is an exclusive claim on one output interface.
type PathBinding struct {
	Root      RootID      `json:"root"`
	Core      CoreID      `json:"core"`
	Interface InterfaceID `json:"interface"`
}

func (b PathBinding) String() string {
	return fmt.Sprintf("root%d/core%d/if%d", b.Root, b.Core, b.Interface)
}

// PixelFormat is a pixel layout tag.
type PixelFormat string

// Pixel formats understood by the platform description.
const (
	FormatUYVY  PixelFormat = "uyvy"
	FormatYUYV  PixelFormat = "yuyv"
	FormatNV12  PixelFormat = "nv12"
	FormatRAW10 PixelFormat = "raw10"
	FormatRAW12 PixelFormat = "raw12"
	FormatRGB24 PixelFormat = "rgb24"
)

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// InputInfo describes one input as reported by query-inputs.
type InputInfo struct {
	ID         InputID     `json:"id"`
	Name       string      `json:"name"`
	Root       RootID      `json:"root"`
	VC         uint32      `json:"vc"`
	Resolution Resolution  `json:"resolution"`
	Format     PixelFormat `json:"format"`
	FPS        float64     `json:"fps"`
	Interlaced bool        `json:"interlaced"`
}

// FieldType identifies which field of an interlaced frame a buffer carries.
type FieldType int

// Field types.
const (
	FieldNone FieldType = iota // progressive source
	FieldEven
	FieldOdd
	FieldUnknown
)

func (f FieldType) String() string {
	switch f {
	case FieldNone:
		return "none"
	case FieldEven:
		return "even"
	case FieldOdd:
		return "odd"
	default:
		return "unknown"
	}
}

// FrameInfo describes a completed frame delivered to a client.
type FrameInfo struct {
	Input       InputID       `json:"input"`
	BufferIndex int           `json:"buffer_index"`
	FrameID     uint64        `json:"frame_id"`
	Timestamp   time.Duration `json:"timestamp"`
	SOFTime     time.Duration `json:"sof_time"`
	Field       FieldType     `json:"field"`
}
