// Package receiver runs the dedicated UDP socket that drains inbound RTP
// datagrams and batches them for the dispatcher, isolated from the
// cooperative runtime per spec.md §5.
package receiver

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/chuffdetect/callsentry/internal/metrics"
	"github.com/chuffdetect/callsentry/internal/rtppacket"
	"github.com/chuffdetect/callsentry/internal/xlog"
)

const (
	batchSize    = 300
	batchWindow  = 250 * time.Millisecond
	readDeadline = 1 * time.Second
)

// Receiver owns the unicast listening socket and emits batches of parsed
// packets on Batches(). Grounded on the teacher's setupDataSocket /
// receiveLoop, generalized from multicast to the unicast socket this
// system listens on.
type Receiver struct {
	conn       *net.UDPConn
	log        *xlog.Logger
	metrics    *metrics.Metrics
	batches    chan []*rtppacket.Packet
}

// New binds a UDP socket at host:port with the given kernel receive
// buffer size, enabling SO_REUSEADDR the same way the teacher's
// setupDataSocket does for its multicast listener.
func New(host string, port int, bufferSize int, log *xlog.Logger, m *metrics.Metrics) (*Receiver, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	pc, err := lc.ListenPacket(context.Background(), "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("receiver: listen %s: %w", addr, err)
	}
	conn := pc.(*net.UDPConn)

	if bufferSize > 0 {
		if err := conn.SetReadBuffer(bufferSize); err != nil {
			log.Printf("failed to set read buffer size: %v", err)
		}
	}

	return &Receiver{
		conn:    conn,
		log:     log,
		metrics: m,
		batches: make(chan []*rtppacket.Packet, 16),
	}, nil
}

// Batches exposes the channel of parsed-packet batches.
func (r *Receiver) Batches() <-chan []*rtppacket.Packet {
	return r.batches
}

// Close stops the receiver and closes its socket.
func (r *Receiver) Close() error {
	return r.conn.Close()
}

// Run drains the socket until ctx is cancelled or the socket closes,
// emitting a batch every batchSize packets or batchWindow, whichever
// comes first, per spec.md §4.1. Run locks its goroutine to its OS thread
// for its whole lifetime, isolating the kernel read loop from the
// cooperative dispatcher/detector runtime.
func (r *Receiver) Run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(r.batches)

	buf := make([]byte, 65536)
	var batch []*rtppacket.Packet
	deadline := time.Now().Add(batchWindow)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		select {
		case r.batches <- batch:
		case <-ctx.Done():
		}
		batch = nil
		deadline = time.Now().Add(batchWindow)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		default:
		}

		r.conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				flush()
				continue
			}
			select {
			case <-ctx.Done():
				flush()
				return
			default:
				r.log.Printf("read error: %v", err)
				continue
			}
		}

		if r.metrics != nil {
			r.metrics.PacketsReceived.Inc()
		}

		p, err := rtppacket.Parse(addr.IP.String(), addr.Port, buf[:n])
		if err != nil {
			if r.metrics != nil {
				r.metrics.PacketsMalformed.Inc()
			}
			r.log.Printf("malformed datagram from %s: %v", addr, err)
			continue
		}

		batch = append(batch, p)
		if len(batch) >= batchSize || time.Now().After(deadline) {
			flush()
		}
	}
}
