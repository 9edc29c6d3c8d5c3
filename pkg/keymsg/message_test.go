package keymsg

import (
	"strings"
	"testing"
)

func sampleMessage() Message {
	return Message{
		CreationTime: 1700000000000000,
		Fragment: FragmentInfo{
			TrackID:       1,
			MediaTimeSecs: 0,
			FirstPTS:      0,
			Duration:      2000,
			Timescale:     1000,
			CodecID:       7,
			CodecType:     "video",
			Bitrate:       500000,
		},
		KeyID: 1,
		Key:   "0x0000ABCD",
		IV:    "0x00000000",
	}
}

func TestMessage_MarshalIsNulTerminated(t *testing.T) {
	data, err := sampleMessage().Marshal()
	if err != nil {
		t.Fatalf("Marshal: unexpected error: %v", err)
	}
	if len(data) == 0 || data[len(data)-1] != 0 {
		t.Fatalf("expected NUL-terminated buffer, got: %q", data)
	}
}

func TestMessage_MarshalFieldOrder(t *testing.T) {
	data, err := sampleMessage().Marshal()
	if err != nil {
		t.Fatalf("Marshal: unexpected error: %v", err)
	}
	s := string(data[:len(data)-1])

	fields := []string{`"creation_time"`, `"fragment_info"`, `"key_id"`, `"key"`, `"iv"`}
	last := -1
	for _, f := range fields {
		idx := strings.Index(s, f)
		if idx == -1 {
			t.Fatalf("field %s missing from marshaled message: %s", f, s)
		}
		if idx <= last {
			t.Fatalf("field %s out of order in marshaled message: %s", f, s)
		}
		last = idx
	}
}

func TestMessage_RoundTrip(t *testing.T) {
	original := sampleMessage()
	data, err := original.Marshal()
	if err != nil {
		t.Fatalf("Marshal: unexpected error: %v", err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: unexpected error: %v", err)
	}
	if got != original {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, original)
	}
}

func TestUnmarshal_WithoutTrailingNUL(t *testing.T) {
	original := sampleMessage()
	data, err := original.Marshal()
	if err != nil {
		t.Fatalf("Marshal: unexpected error: %v", err)
	}
	stripped := data[:len(data)-1]

	got, err := Unmarshal(stripped)
	if err != nil {
		t.Fatalf("Unmarshal: unexpected error: %v", err)
	}
	if got != original {
		t.Errorf("mismatch without trailing NUL: got %+v, want %+v", got, original)
	}
}

func TestMessage_Deterministic(t *testing.T) {
	a, _ := sampleMessage().Marshal()
	b, _ := sampleMessage().Marshal()
	if string(a) != string(b) {
		t.Errorf("expected deterministic output for fixed inputs, got %q and %q", a, b)
	}
}
