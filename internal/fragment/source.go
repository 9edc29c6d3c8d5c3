package fragment

// Source is the narrow, read-only muxer contract the Fragment Handler
// consumes: the muxer produces a fragment callback and exposes
// frag_start, end_pts, timescale, and codec metadata for it. A real
// embedder (e.g. a DASH muxer) implements this directly against its own
// track state; tests drive it with a fake.
type Source interface {
	// IsDASH reports whether the muxer is currently operating in DASH mode.
	// The Fragment Handler is a no-op when this is false.
	IsDASH() bool

	// NumStreams returns the number of tracks exposed by the muxer for the
	// current fragment. The core requires exactly one; more is fatal.
	NumStreams() int

	// HasTrack reports whether the single track reference is non-nil.
	// False is a benign, silently-ignored late-shutdown race.
	HasTrack() bool

	TrackID() int
	FragStart() int64
	EndPTS() int64
	Timescale() uint32
	CodecID() int
	CodecType() string
	BitRate() int64
}
