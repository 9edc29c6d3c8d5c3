// Package keymsg defines the Secure-Sync key-message wire format: the JSON
// object a Fragment Handler emits for each closed encryption scope and a
// downstream consumer (player, key-server) parses to apply the matching
// key/IV to media decryption.
package keymsg

import "encoding/json"

// FragmentInfo describes the media span an encryption scope covers.
type FragmentInfo struct {
	TrackID       int     `json:"track_id"`
	MediaTimeSecs float64 `json:"media_time_secs"`
	FirstPTS      int64   `json:"first_pts"`
	Duration      int64   `json:"duration"`
	Timescale     uint32  `json:"timescale"`
	CodecID       int     `json:"codec_id"`
	CodecType     string  `json:"codec_type"`
	Bitrate       int64   `json:"bitrate"`
}

// Message is the key-message published per closed encryption scope.
// Field order matches the original's wire layout exactly for consumers
// that parse textually as well as those that parse as JSON.
type Message struct {
	CreationTime int64        `json:"creation_time"`
	Fragment     FragmentInfo `json:"fragment_info"`
	KeyID        uint64       `json:"key_id"`
	Key          string       `json:"key"`
	IV           string       `json:"iv"`
}

// Marshal serializes the message to its null-terminated wire form: a UTF-8
// JSON object followed by a single NUL byte, matching the
// `strlen(message_buffer) + 1` transport length the original C
// implementation used when handing the buffer to the MQTT client.
func (m Message) Marshal() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(b, 0), nil
}

// Unmarshal parses a key-message, tolerating an optional trailing NUL byte
// left over from the wire framing above.
func Unmarshal(data []byte) (Message, error) {
	data = trimTrailingNUL(data)
	var m Message
	err := json.Unmarshal(data, &m)
	return m, err
}

func trimTrailingNUL(data []byte) []byte {
	if n := len(data); n > 0 && data[n-1] == 0 {
		return data[:n-1]
	}
	return data
}
