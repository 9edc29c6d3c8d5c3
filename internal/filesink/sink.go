// Package filesink implements the File Sink: an alternative (or
// additional) key-message publishing target that writes each message to
// its own file, atomically, so a filesystem-watching consumer never
// observes a partially-written key-message. Uses the temp-file-then-rename
// pattern common across this codebase's atomic-publish stages.
package filesink

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Sink writes key-messages under a base directory, one file per scope.
type Sink struct {
	basePath string
	logger   *slog.Logger
}

// New creates a Sink rooted at basePath. basePath is created lazily on
// first Write.
func New(basePath string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{basePath: basePath, logger: logger}
}

// Write publishes data for the given track, codec type, and media time
// (seconds), using the naming convention
// "<track_id>_<codec_type>_<media_time_secs>_<scope_id>.json". scopeID is
// a ulid minted by the Session per closed scope (distinct from the wire
// key_id) so that two scopes sharing a track/codec/media-time — e.g.
// after a muxer restart resets its own media-time clock — never collide
// on disk. Errors are logged and swallowed — a failed write to the file
// sink must never stall or crash the Polling Worker.
func (s *Sink) Write(trackID int, codecType string, mediaTimeSecs float64, scopeID string, data []byte) {
	if err := s.write(trackID, codecType, mediaTimeSecs, scopeID, data); err != nil {
		s.logger.Warn("file sink write failed, dropping message",
			"track_id", trackID, "codec_type", codecType, "error", err)
	}
}

func (s *Sink) write(trackID int, codecType string, mediaTimeSecs float64, scopeID string, data []byte) error {
	if err := os.MkdirAll(s.basePath, 0o755); err != nil {
		return fmt.Errorf("filesink: creating base path %s: %w", s.basePath, err)
	}

	name := fmt.Sprintf("%d_%s_%.3f_%s.json", trackID, codecType, mediaTimeSecs, scopeID)
	destPath := filepath.Join(s.basePath, name)
	tmpPath := destPath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("filesink: writing temp file %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("filesink: renaming %s to %s: %w", tmpPath, destPath, err)
	}

	s.logger.Debug("published key-message to file sink", "path", destPath, "bytes", len(data))
	return nil
}
