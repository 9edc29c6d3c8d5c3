package keysession

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeSource struct {
	fragStart int64
	endPTS    int64
	timescale uint32
	trackID   int
	codecType string
}

func (f fakeSource) IsDASH() bool      { return true }
func (f fakeSource) NumStreams() int   { return 1 }
func (f fakeSource) HasTrack() bool    { return true }
func (f fakeSource) TrackID() int      { return f.trackID }
func (f fakeSource) FragStart() int64  { return f.fragStart }
func (f fakeSource) EndPTS() int64     { return f.endPTS }
func (f fakeSource) Timescale() uint32 { return f.timescale }
func (f fakeSource) CodecID() int      { return 7 }
func (f fakeSource) CodecType() string { return f.codecType }
func (f fakeSource) BitRate() int64    { return 500000 }

func video(fragStart, endPTS int64) fakeSource {
	return fakeSource{fragStart: fragStart, endPTS: endPTS, timescale: 1000, trackID: 1, codecType: "video"}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseConfig() Config {
	return Config{
		PublishDelaySecs: 0,
		FragmentsPerKey:  1,
		PollInterval:     5 * time.Millisecond,
		QueueCapacity:    4,
	}
}

func TestSession_OnFragment_EnqueuesOnScopeClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := New(ctx, baseConfig(), nil, testLogger())
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	defer s.Close(context.Background())

	if err := s.OnFragment(video(0, 1000)); err != nil {
		t.Fatalf("OnFragment: unexpected error: %v", err)
	}

	stats := s.Stats()
	if stats.KeyIndexCounter != 1 {
		t.Errorf("expected key_index_counter=1 after first scope close, got %d", stats.KeyIndexCounter)
	}
}

func TestSession_OnFragment_QueueFullSurfacesError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := baseConfig()
	cfg.QueueCapacity = 1
	// Large delay so the worker never drains the queue during the test.
	cfg.PublishDelaySecs = 1000
	cfg.PollInterval = time.Hour

	s, err := New(ctx, cfg, nil, testLogger())
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	defer s.Close(context.Background())

	if err := s.OnFragment(video(0, 1000)); err != nil {
		t.Fatalf("first OnFragment: unexpected error: %v", err)
	}
	err = s.OnFragment(video(1000, 2000))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull when queue at capacity, got %v", err)
	}
}

func TestSession_DryRun_DoesNotBlockWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := baseConfig()
	cfg.DryRun = true

	s, err := New(ctx, cfg, nil, testLogger())
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	defer s.Close(context.Background())

	if err := s.OnFragment(video(0, 1000)); err != nil {
		t.Fatalf("OnFragment: unexpected error: %v", err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if s.Stats().QueueLen == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected dry-run worker to drain the queue")
}

func TestSession_PublishDelayGatesRelease(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := baseConfig()
	cfg.PublishDelaySecs = 10
	cfg.DryRun = true

	s, err := New(ctx, cfg, nil, testLogger())
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	defer s.Close(context.Background())

	if err := s.OnFragment(video(0, 1000)); err != nil {
		t.Fatalf("OnFragment: unexpected error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if s.Stats().QueueLen != 1 {
		t.Fatalf("expected item to remain queued under publish delay, got QueueLen=%d", s.Stats().QueueLen)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	ctx := context.Background()
	cfg := baseConfig()
	cfg.FragmentsPerKey = 0

	_, err := New(ctx, cfg, nil, testLogger())
	if err == nil {
		t.Fatal("expected error constructing Session with fragments_per_key=0")
	}
}

func TestSession_Close_DrainsRemainingQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := baseConfig()
	cfg.PublishDelaySecs = 1000
	cfg.PollInterval = time.Hour

	s, err := New(ctx, cfg, nil, testLogger())
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}

	if err := s.OnFragment(video(0, 1000)); err != nil {
		t.Fatalf("OnFragment: unexpected error: %v", err)
	}
	if s.Stats().QueueLen != 1 {
		t.Fatalf("expected 1 item queued before close, got %d", s.Stats().QueueLen)
	}

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: unexpected error: %v", err)
	}
}
