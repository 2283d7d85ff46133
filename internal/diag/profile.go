package diag

import (
	"fmt"
	"io"

	"github.com/google/pprof/profile"
)

// SwitchProfile accumulates one pprof sample per dispatch, so a run can
// be inspected afterward with `go tool pprof` to see which processes
// consumed the most instructions and how often each was scheduled.
// biscuit carries google/pprof only as an indirect dependency of its
// build tooling; here it has an actual home recording scheduling
// behavior instead of sitting unused.
type SwitchProfile struct {
	samples   []*profile.Sample
	locations map[int]*profile.Location
	functions map[int]*profile.Function
	nextID    uint64
}

// NewSwitchProfile returns an empty profile recorder.
func NewSwitchProfile() *SwitchProfile {
	return &SwitchProfile{
		locations: make(map[int]*profile.Location),
		functions: make(map[int]*profile.Function),
	}
}

// RecordDispatch adds one sample for a dispatch of pid that ran for
// instructionCount opcodes.
func (sp *SwitchProfile) RecordDispatch(pid, instructionCount int) {
	loc := sp.locationFor(pid)
	sp.samples = append(sp.samples, &profile.Sample{
		Location: []*profile.Location{loc},
		Value:    []int64{1, int64(instructionCount)},
		Label:    map[string][]string{"pid": {fmt.Sprintf("%d", pid)}},
	})
}

func (sp *SwitchProfile) locationFor(pid int) *profile.Location {
	if loc, ok := sp.locations[pid]; ok {
		return loc
	}
	sp.nextID++
	fn := &profile.Function{ID: sp.nextID, Name: fmt.Sprintf("process[%d]", pid)}
	sp.functions[pid] = fn
	sp.nextID++
	loc := &profile.Location{
		ID:   sp.nextID,
		Line: []profile.Line{{Function: fn, Line: 1}},
	}
	sp.locations[pid] = loc
	return loc
}

// Write serializes the recorded samples into pprof's gzip-encoded
// protobuf format.
func (sp *SwitchProfile) Write(w io.Writer) error {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "dispatches", Unit: "count"},
			{Type: "instructions", Unit: "count"},
		},
		PeriodType: &profile.ValueType{Type: "dispatch", Unit: "count"},
		Period:     1,
		Sample:     sp.samples,
	}
	for _, fn := range sp.functions {
		p.Function = append(p.Function, fn)
	}
	for _, loc := range sp.locations {
		p.Location = append(p.Location, loc)
	}
	if err := p.CheckValid(); err != nil {
		return fmt.Errorf("diag: invalid profile: %w", err)
	}
	return p.Write(w)
}
