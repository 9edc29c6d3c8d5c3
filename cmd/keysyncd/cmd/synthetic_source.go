package cmd

import (
	"time"

	"github.com/exmg/keysync/internal/fragment"
)

// syntheticSource emits a fragment.Source sequence simulating a single
// DASH video track advancing by durationPerFragment media-time units
// (1000 Hz timescale) on each call, for smoke-testing a Session without a
// real muxer.
type syntheticSource struct {
	timescale     uint32
	durationTicks int64
	nextFragStart int64
}

func newSyntheticSource(fragmentDuration time.Duration) *syntheticSource {
	const timescale = 1000
	return &syntheticSource{
		timescale:     timescale,
		durationTicks: fragmentDuration.Milliseconds(),
	}
}

func (s *syntheticSource) next() fragment.Source {
	f := syntheticFragment{
		fragStart: s.nextFragStart,
		endPTS:    s.nextFragStart + s.durationTicks,
		timescale: s.timescale,
	}
	s.nextFragStart += s.durationTicks
	return f
}

type syntheticFragment struct {
	fragStart int64
	endPTS    int64
	timescale uint32
}

func (f syntheticFragment) IsDASH() bool      { return true }
func (f syntheticFragment) NumStreams() int   { return 1 }
func (f syntheticFragment) HasTrack() bool    { return true }
func (f syntheticFragment) TrackID() int      { return 1 }
func (f syntheticFragment) FragStart() int64  { return f.fragStart }
func (f syntheticFragment) EndPTS() int64     { return f.endPTS }
func (f syntheticFragment) Timescale() uint32 { return f.timescale }
func (f syntheticFragment) CodecID() int      { return 7 }
func (f syntheticFragment) CodecType() string { return "video" }
func (f syntheticFragment) BitRate() int64    { return 2_500_000 }
