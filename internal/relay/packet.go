package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"unicode/utf8"
)

// Packet types carried in the "type" field of every datagram.
const (
	PacketTypeSample   = "open_earable_udp_sample"
	PacketTypeProbe    = "open_earable_udp_probe"
	PacketTypeProbeAck = "open_earable_udp_probe_ack"
)

// MaxPacketSize is the largest datagram the relay reads.
const MaxPacketSize = 65535

var (
	ErrNotUTF8     = errors.New("packet is not valid UTF-8")
	ErrInvalidJSON = errors.New("packet is not valid JSON")
	ErrNotObject   = errors.New("packet JSON is not an object")
)

// DecodePayload decodes one datagram into a JSON object. Numbers are kept as
// json.Number so the sender's literals survive in Sample.Raw.
func DecodePayload(packet []byte) (map[string]any, error) {
	if !utf8.Valid(packet) {
		return nil, ErrNotUTF8
	}

	dec := json.NewDecoder(bytes.NewReader(packet))
	dec.UseNumber()

	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, errors.Join(ErrInvalidJSON, err)
	}
	// Trailing data after the first value is as invalid as a syntax error.
	if _, err := dec.Token(); err != io.EOF {
		return nil, ErrInvalidJSON
	}

	payload, ok := decoded.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return payload, nil
}

func packetType(payload map[string]any) string {
	t, _ := payload["type"].(string)
	return t
}
