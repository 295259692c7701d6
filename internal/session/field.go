package session

import (
	"time"

	"github.com/smazurov/camcore/internal/hw"
)

const (
	fieldSamples   = 8
	fieldTolerance = time.Millisecond
)

type fieldSample struct {
	sof   time.Duration
	field hw.FieldType
	used  bool
}

// FieldTracker pairs frame-done events of interlaced inputs with the field
// reported at their start of frame. It keeps a small ring of recent samples;
// recording into a full ring overwrites the oldest one.
type FieldTracker struct {
	samples [fieldSamples]fieldSample
	head    int
	count   int
	last    hw.FieldType
}

// Record stores the field reported at a start of frame.
func (f *FieldTracker) Record(sof time.Duration, field hw.FieldType) {
	f.samples[f.head] = fieldSample{sof: sof, field: field}
	f.head = (f.head + 1) % fieldSamples
	if f.count < fieldSamples {
		f.count++
	}
}

// Resolve returns the field of the frame that started at sof. It reports
// hw.FieldUnknown when no sample matches within tolerance or when the matched
// field does not alternate with the previously resolved one.
func (f *FieldTracker) Resolve(sof time.Duration) hw.FieldType {
	for i := 0; i < f.count; i++ {
		// newest first
		idx := (f.head - 1 - i + fieldSamples) % fieldSamples
		s := &f.samples[idx]
		if s.used || absDuration(s.sof-sof) > fieldTolerance {
			continue
		}
		s.used = true

		field := s.field
		if field != hw.FieldEven && field != hw.FieldOdd {
			f.last = hw.FieldUnknown
			return hw.FieldUnknown
		}
		if field == f.last {
			f.last = hw.FieldUnknown
			return hw.FieldUnknown
		}
		f.last = field
		return field
	}

	f.last = hw.FieldUnknown
	return hw.FieldUnknown
}

// Len returns the number of samples held.
func (f *FieldTracker) Len() int {
	return f.count
}

// Reset drops every sample.
func (f *FieldTracker) Reset() {
	*f = FieldTracker{}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
