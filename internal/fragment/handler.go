// Package fragment implements the Fragment Handler and encryption-scope
// state machine: the per-fragment callback that advances scope state,
// generates keys at scope boundaries, and formats the key-message pushed
// onto the delay queue.
package fragment

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/exmg/keysync/pkg/keymsg"
)

// ErrMultiTrackFragment is returned when the muxer exposes more than one
// stream for a fragment — the core rejects them as fatal.
var ErrMultiTrackFragment = errors.New("fragment: muxer exposes more than one track per fragment")

// Result is returned by Handle for each fragment callback. Enqueue is true
// exactly when the scope closed on this fragment, in which case Message
// is populated.
type Result struct {
	Enqueue   bool
	Message   keymsg.Message
	MediaTime int64 // FragStart of the fragment that closed the scope; the queue key.
}

// Handler owns the encryption-scope state machine for a single Session. It
// is not safe for concurrent use — the muxer invokes it from one thread,
// exactly once per finalized fragment.
type Handler struct {
	fragmentsPerKey uint32
	logger          *slog.Logger

	scopeFirstPTS         int64
	scopeDuration         int64
	fragCounter           uint32
	keyIndexCounter       uint64
	usedZeroDurWorkaround bool

	aesKey [16]byte
	aesIV  [16]byte
}

// New creates a Handler for a session's scope length. fragmentsPerKey must
// be at least 1; New itself falls back to 1 when given 0, matching the
// original's "parsed 0 treated as 1" config behavior.
func New(fragmentsPerKey uint32, logger *slog.Logger) *Handler {
	if fragmentsPerKey == 0 {
		fragmentsPerKey = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{fragmentsPerKey: fragmentsPerKey, logger: logger}
}

// Handle advances the scope state machine for one finalized fragment. It
// returns silently (Result zero value) when the muxer is not in DASH mode
// or the track reference is absent (late-shutdown race), and returns
// ErrMultiTrackFragment when more than one stream is exposed — callers
// should treat that as process-fatal.
func (h *Handler) Handle(src Source) (Result, error) {
	if !src.IsDASH() {
		return Result{}, nil
	}
	if n := src.NumStreams(); n > 1 {
		return Result{}, fmt.Errorf("%w: got %d streams", ErrMultiTrackFragment, n)
	}
	if !src.HasTrack() {
		h.logger.Warn("fragment callback fired but track reference is absent, ignoring (late shutdown?)")
		return Result{}, nil
	}

	fragStart := src.FragStart()
	endPTS := src.EndPTS()

	if h.fragCounter == 0 {
		h.startScope(fragStart)
	}
	h.fragCounter++

	fragDuration := endPTS - fragStart
	zeroDuration := fragDuration == 0
	if zeroDuration {
		// Workaround for audio tracks in low-latency streaming mode, where
		// end_pts == frag_start.
		h.scopeDuration = fragStart - h.scopeFirstPTS
		h.usedZeroDurWorkaround = true
	} else {
		h.scopeDuration += fragDuration
		h.usedZeroDurWorkaround = false
	}

	h.logger.Debug("fragment observed",
		"codec_type", src.CodecType(),
		"frag_duration", fragDuration,
		"scope_duration", h.scopeDuration,
		"frag_counter", h.fragCounter,
		"fragments_per_key", h.fragmentsPerKey,
	)

	if h.fragCounter < h.fragmentsPerKey {
		return Result{}, nil
	}
	h.fragCounter = 0

	if zeroDuration {
		// Ensures players comparing firstPts < keyBoundaryPts see a
		// strictly-greater boundary.
		h.scopeDuration++
	}

	msg := h.formatMessage(src)

	h.logger.Info("encryption scope closed, enqueuing key-message",
		"key_id", msg.KeyID,
		"track_id", msg.Fragment.TrackID,
		"first_pts", msg.Fragment.FirstPTS,
		"duration", msg.Fragment.Duration,
	)

	return Result{Enqueue: true, Message: msg, MediaTime: fragStart}, nil
}

// startScope snapshots the new scope's starting PTS and generates a fresh
// key/IV pair.
func (h *Handler) startScope(fragStart int64) {
	h.scopeDuration = 0
	h.scopeFirstPTS = fragStart
	h.keyIndexCounter++

	// Low 16 bits of a uniform random source; remainder zero. The IV is
	// fixed at zero to match the original source's observed behavior.
	key := uint32(rand.Uint32() & 0xFFFF)
	var iv uint32

	h.aesKey = [16]byte{}
	h.aesIV = [16]byte{}
	putLittleEndian32(h.aesKey[:4], key)
	putLittleEndian32(h.aesIV[:4], iv)

	h.logger.Debug("new encryption scope key/iv",
		"key_id", h.keyIndexCounter,
		"fragments_per_key", h.fragmentsPerKey,
	)
}

func putLittleEndian32(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}

func readLittleEndian32(src [16]byte) uint32 {
	return uint32(src[0]) | uint32(src[1])<<8 | uint32(src[2])<<16 | uint32(src[3])<<24
}

// formatMessage builds the key-message for the just-closed scope.
func (h *Handler) formatMessage(src Source) keymsg.Message {
	key := readLittleEndian32(h.aesKey)
	iv := readLittleEndian32(h.aesIV)

	return keymsg.Message{
		CreationTime: time.Now().UnixMicro(),
		Fragment: keymsg.FragmentInfo{
			TrackID:       src.TrackID(),
			MediaTimeSecs: float64(h.scopeFirstPTS) / float64(src.Timescale()),
			FirstPTS:      h.scopeFirstPTS,
			Duration:      h.scopeDuration,
			Timescale:     src.Timescale(),
			CodecID:       src.CodecID(),
			CodecType:     src.CodecType(),
			Bitrate:       src.BitRate(),
		},
		KeyID: h.keyIndexCounter,
		Key:   fmt.Sprintf("0x%08X", key),
		IV:    fmt.Sprintf("0x%08X", iv),
	}
}
