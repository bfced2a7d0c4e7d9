// Package rtppacket parses the RTP datagrams carrying linear-PCM telephony
// audio into an immutable in-memory representation.
package rtppacket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/pion/rtp"
)

// LoseTimeout bounds how long an unbound packet may wait in the dispatcher's
// deferred list for its audio container to appear.
const LoseTimeout = 5 * time.Second

// ErrTooShort is returned when a datagram is smaller than a bare RTP header.
var ErrTooShort = errors.New("rtppacket: datagram shorter than RTP header")

// Packet is a parsed RTP datagram plus the decoded PCM amplitude vector.
// Once constructed a Packet is never mutated.
type Packet struct {
	Host string
	Port int

	CSRCCount   uint8
	PayloadType uint8
	SeqNum      uint16
	Timestamp   uint32
	SSRC        uint32
	Payload     []byte

	Amplitudes []int16
	MaxAmp     int16
	MinAmp     int16

	ReceivedAt time.Time
	LoseTime   time.Time
}

// Parse decodes a raw UDP datagram received from host:port into a Packet.
// Datagrams too short for an RTP header or for the declared CSRC count are
// rejected; an odd trailing payload byte is dropped and the packet is kept.
func Parse(host string, port int, data []byte) (*Packet, error) {
	if len(data) < 12 {
		return nil, ErrTooShort
	}

	var hdr rtp.Header
	n, err := hdr.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("rtppacket: header unmarshal: %w", err)
	}
	if len(data) < n {
		return nil, ErrTooShort
	}

	payload := data[n:]
	if len(payload)%2 != 0 {
		// Drop the trailing odd byte rather than reject the whole packet;
		// linear PCM-16 payloads are always even-length in practice, so this
		// only trims truncated captures.
		payload = payload[:len(payload)-1]
	}

	amplitudes := make([]int16, len(payload)/2)
	for i := range amplitudes {
		amplitudes[i] = int16(binary.BigEndian.Uint16(payload[i*2 : i*2+2]))
	}

	now := time.Now()
	p := &Packet{
		Host:        host,
		Port:        port,
		CSRCCount:   uint8(len(hdr.CSRC)),
		PayloadType: hdr.PayloadType,
		SeqNum:      hdr.SequenceNumber,
		Timestamp:   hdr.Timestamp,
		SSRC:        hdr.SSRC,
		Payload:     payload,
		Amplitudes:  amplitudes,
		ReceivedAt:  now,
		LoseTime:    now.Add(LoseTimeout),
	}

	if len(amplitudes) > 0 {
		p.MaxAmp, p.MinAmp = amplitudes[0], amplitudes[0]
		for _, a := range amplitudes[1:] {
			if a > p.MaxAmp {
				p.MaxAmp = a
			}
			if a < p.MinAmp {
				p.MinAmp = a
			}
		}
	}

	return p, nil
}

// EMAddress identifies the endpoint, independent of the media stream's SSRC.
func (p *Packet) EMAddress() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// EMAddressSSRC identifies the specific media flow this packet belongs to.
func (p *Packet) EMAddressSSRC() string {
	return fmt.Sprintf("%d@%s:%d", p.SSRC, p.Host, p.Port)
}

// LittleEndianBytes renders the amplitude vector as little-endian s16 bytes,
// ready to append to a WAV data chunk.
func (p *Packet) LittleEndianBytes() []byte {
	out := make([]byte, len(p.Amplitudes)*2)
	for i, a := range p.Amplitudes {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(a))
	}
	return out
}
