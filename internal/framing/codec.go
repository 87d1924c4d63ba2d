// Package framing implements the length-prefixed byte-stream codec used by
// every stream-oriented transport (TCP or serial): a two-byte magic plus a
// big-endian 16-bit length header in front of a FromRadio/ToRadio protobuf
// payload, with a four-byte all-magic wakeup sequence used to nudge a
// sleeping device awake before the first write.
package framing

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"google.golang.org/protobuf/proto"
)

const (
	// Start1 and Start2 form the two-byte frame header magic.
	Start1 byte = 0x94
	Start2 byte = 0xc3

	// MaxPacketSize bounds the length field; any header claiming this many
	// bytes or more is treated as corrupt framing rather than an oversized
	// packet.
	MaxPacketSize = 512

	headerLen = 4 // Start1, Start2, length-hi, length-lo
)

// Wakeup is the four-byte all-0x94 sequence a stream transport writes before
// its first framed message to rouse a sleeping radio.
var Wakeup = [4]byte{Start1, Start1, Start1, Start1}

// Recv is one decoded unit handed up from a stream transport: either a
// structured FromRadio message or a run of bytes that did not parse as
// framing, typically device boot-up log lines.
type Recv struct {
	FromRadio    *meshtastic.FromRadio
	Unstructured []byte
}

// IsStructured reports whether this Recv carries a decoded FromRadio message
// rather than raw unstructured bytes.
func (r Recv) IsStructured() bool {
	return r.FromRadio != nil
}

// Decoder incrementally parses a byte stream per Feed, buffering partial
// frames across calls. It is not safe for concurrent use.
type Decoder struct {
	buf []byte
}

// Feed appends newly read bytes to the decoder's buffer and drains as many
// complete items as are available. Call repeatedly as bytes arrive; the
// returned slice may be empty if only a partial frame is buffered.
func (d *Decoder) Feed(chunk []byte) ([]Recv, error) {
	d.buf = append(d.buf, chunk...)

	var out []Recv
	for {
		item, consumed, err := d.decodeOne()
		if err != nil {
			return out, err
		}
		if consumed == 0 {
			return out, nil
		}
		d.buf = d.buf[consumed:]
		if item != nil {
			out = append(out, *item)
		}
	}
}

// decodeOne attempts to pull a single Recv out of d.buf, returning the
// number of bytes consumed. consumed == 0 means "need more data"; bytes that
// precede a possible frame start come back as an item with Unstructured set.
func (d *Decoder) decodeOne() (*Recv, int, error) {
	src := d.buf

	dropoff := len(src)
	if pos := bytes.IndexByte(src, Start1); pos >= 0 {
		if pos+1 < len(src) {
			if src[pos+1] == Start2 {
				dropoff = pos
			} else {
				// Not a real header start; treat everything up to and
				// including this byte as unstructured, since it cannot be the
				// start of a frame, and let Feed's loop scan past it.
				dropoff = pos + 1
			}
		} else {
			// Last byte might be the start of a magic sequence split across
			// reads: hold it back and wait for more data.
			dropoff = pos
		}
	}

	if dropoff > 0 {
		return &Recv{Unstructured: src[:dropoff]}, dropoff, nil
	}

	if len(src) < headerLen {
		return nil, 0, nil
	}
	if src[0] != Start1 || src[1] != Start2 {
		return nil, 0, fmt.Errorf("framing: invalid magic %#x %#x", src[0], src[1])
	}

	length := binary.BigEndian.Uint16(src[2:4])
	if length >= MaxPacketSize {
		return nil, 0, fmt.Errorf("framing: invalid packet length %d (max %d)", length, MaxPacketSize)
	}

	frameLen := headerLen + int(length)
	if len(src) < frameLen {
		return nil, 0, nil
	}

	payload := src[headerLen:frameLen]
	var fromRadio meshtastic.FromRadio
	if err := proto.Unmarshal(payload, &fromRadio); err != nil {
		return nil, 0, fmt.Errorf("framing: decoding FromRadio: %w", err)
	}
	if fromRadio.PayloadVariant == nil {
		return nil, 0, fmt.Errorf("framing: FromRadio with no payload variant")
	}
	return &Recv{FromRadio: &fromRadio}, frameLen, nil
}

// EncodeToRadio frames a ToRadio message with the header magic and length.
func EncodeToRadio(toRadio *meshtastic.ToRadio) ([]byte, error) {
	payload, err := proto.Marshal(toRadio)
	if err != nil {
		return nil, fmt.Errorf("framing: encoding ToRadio: %w", err)
	}
	return Headed(payload)
}

// Headed wraps raw bytes with the frame header (magic + big-endian length).
func Headed(payload []byte) ([]byte, error) {
	if len(payload) >= MaxPacketSize {
		return nil, fmt.Errorf("framing: payload too large: %d bytes (max %d)", len(payload), MaxPacketSize)
	}
	out := make([]byte, headerLen+len(payload))
	out[0] = Start1
	out[1] = Start2
	binary.BigEndian.PutUint16(out[2:4], uint16(len(payload)))
	copy(out[headerLen:], payload)
	return out, nil
}
