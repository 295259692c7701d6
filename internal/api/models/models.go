// Package models holds the request and response bodies of the HTTP API.
package models

import (
	"github.com/smazurov/camcore/internal/hw"
	"github.com/smazurov/camcore/internal/resource"
	"github.com/smazurov/camcore/internal/session"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"Capture engine running" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.0.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2025-01-27T10:30:00Z" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"42" doc:"Build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.1" doc:"Go toolchain version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Go compiler"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Target platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Input models
type InputListData struct {
	Inputs []hw.InputInfo `json:"inputs" doc:"Camera inputs of the platform"`
	Count  int            `json:"count" example:"8" doc:"Number of inputs"`
}

type InputListResponse struct {
	Body InputListData
}

type PathListResponse struct {
	Body struct {
		Paths []resource.Slot `json:"paths" doc:"Hardware paths and their owners"`
	}
}

// Session models
type SessionData struct {
	Handle   string          `json:"handle" example:"ca5e000100000003" doc:"Client handle"`
	ID       string          `json:"id" example:"3f0c2a4e-8d7b-4f0e-9f57-0b8e51c1f2aa" doc:"Session identifier"`
	Input    hw.InputID      `json:"input" example:"0" doc:"Input identifier"`
	State    string          `json:"state" example:"streaming" doc:"Session state"`
	Binding  *hw.PathBinding `json:"binding,omitempty" doc:"Reserved hardware path"`
	Buffers  int             `json:"buffers" example:"4" doc:"Mapped buffers"`
	Queued   int             `json:"queued" example:"1" doc:"Frames waiting for the client"`
	Acquired int             `json:"acquired" example:"0" doc:"Frames held by the client"`
}

// SessionFromInfo converts a session snapshot to its API form.
func SessionFromInfo(info session.Info) SessionData {
	data := SessionData{
		Handle:   info.Handle.String(),
		ID:       info.ID,
		Input:    info.Input,
		State:    info.State.String(),
		Buffers:  info.Buffers,
		Queued:   info.Queued,
		Acquired: info.Acquired,
	}
	if info.Bound {
		b := info.Binding
		data.Binding = &b
	}
	return data
}

type SessionResponse struct {
	Body SessionData
}

type SessionListResponse struct {
	Body struct {
		Sessions []SessionData `json:"sessions" doc:"Open sessions"`
		Count    int           `json:"count" example:"2" doc:"Number of open sessions"`
	}
}

type OpenSessionRequest struct {
	Body struct {
		Input hw.InputID `json:"input" example:"0" doc:"Input to capture from"`
	}
}

type SessionPath struct {
	Handle string `path:"handle" example:"ca5e000100000003" doc:"Client handle"`
}

type SessionActionRequest struct {
	Handle string `path:"handle" example:"ca5e000100000003" doc:"Client handle"`
	Action string `path:"action" enum:"reserve,release,start,stop,pause,resume" doc:"State transition"`
}

type SetBuffersRequest struct {
	Handle string `path:"handle" example:"ca5e000100000003" doc:"Client handle"`
	Body   struct {
		Buffers []BufferData `json:"buffers" doc:"Client buffers, in index order"`
	}
}

type BufferData struct {
	Handle uint64 `json:"handle" example:"1" doc:"Client memory handle"`
	Size   int    `json:"size" example:"4147200" doc:"Buffer size in bytes"`
}

// Parameter models
type ParamPath struct {
	Handle string `path:"handle" example:"ca5e000100000003" doc:"Client handle"`
	Param  string `path:"param" example:"latency_max" doc:"Parameter name"`
}

type SetParamRequest struct {
	Handle string `path:"handle" example:"ca5e000100000003" doc:"Client handle"`
	Param  string `path:"param" example:"latency_max" doc:"Parameter name"`
	Body   struct {
		Value any `json:"value" doc:"Parameter value; shape depends on the parameter"`
	}
}

type ParamData struct {
	Param string `json:"param" example:"latency_max" doc:"Parameter name"`
	Value any    `json:"value" doc:"Parameter value"`
}

type ParamResponse struct {
	Body ParamData
}

// Frame models
type GetFrameRequest struct {
	Handle    string `path:"handle" example:"ca5e000100000003" doc:"Client handle"`
	TimeoutMs int    `query:"timeout_ms" default:"0" minimum:"-1" doc:"0 returns immediately, -1 waits until a frame arrives or the session stops"`
}

type FrameData struct {
	Input       hw.InputID `json:"input" example:"0" doc:"Input identifier"`
	BufferIndex int        `json:"buffer_index" example:"2" doc:"Buffer holding the frame"`
	FrameID     uint64     `json:"frame_id" example:"1042" doc:"Frame sequence number"`
	TimestampNs int64      `json:"timestamp_ns" example:"33366666" doc:"Completion time"`
	SOFNs       int64      `json:"sof_ns" example:"33300000" doc:"Start-of-frame time"`
	Field       string     `json:"field" example:"none" doc:"Interlaced field: none, even, odd or unknown"`
}

// FrameFromInfo converts a delivered frame to its API form.
func FrameFromInfo(f hw.FrameInfo) FrameData {
	return FrameData{
		Input:       f.Input,
		BufferIndex: f.BufferIndex,
		FrameID:     f.FrameID,
		TimestampNs: f.Timestamp.Nanoseconds(),
		SOFNs:       f.SOFTime.Nanoseconds(),
		Field:       f.Field.String(),
	}
}

type ReleaseFrameRequest struct {
	Handle string `path:"handle" example:"ca5e000100000003" doc:"Client handle"`
	Index  int    `path:"index" minimum:"0" example:"2" doc:"Buffer index"`
}

// Log models
type LogsRequest struct {
	Since uint64 `query:"since" doc:"Only entries with a greater sequence number"`
}

type LogLevelsResponse struct {
	Body struct {
		Levels map[string]string `json:"levels" doc:"Effective level per module"`
	}
}
