package dispatcher_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/chuffdetect/callsentry/internal/container"
	"github.com/chuffdetect/callsentry/internal/dispatcher"
	"github.com/chuffdetect/callsentry/internal/events"
	"github.com/chuffdetect/callsentry/internal/rtppacket"
	"github.com/chuffdetect/callsentry/internal/xlog"
)

type fakeRegistry struct {
	bound      map[string]string // em_address_ssrc -> chan_id
	waitingFor map[string]string // em_address -> chan_id
	containers map[string]*container.Container
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		bound:      make(map[string]string),
		waitingFor: make(map[string]string),
		containers: make(map[string]*container.Container),
	}
}

func (r *fakeRegistry) ResolveBoundSSRC(emAddressSSRC string) (string, bool) {
	chanID, ok := r.bound[emAddressSSRC]
	return chanID, ok
}

func (r *fakeRegistry) BindWaitingSSRC(emAddress, emAddressSSRC string) (string, bool) {
	chanID, ok := r.waitingFor[emAddress]
	if !ok {
		return "", false
	}
	delete(r.waitingFor, emAddress)
	r.bound[emAddressSSRC] = chanID
	return chanID, true
}

func (r *fakeRegistry) Container(chanID string) (*container.Container, bool) {
	c, ok := r.containers[chanID]
	return c, ok
}

func (r *fakeRegistry) addWaiting(chanID, emAddress string) {
	r.waitingFor[emAddress] = chanID
	r.containers[chanID] = container.New(chanID, "call-"+chanID, "10.0.0.1", 5000, events.CreateInfo{}, time.Now(), xlog.New("test"), nil)
}

func packet(ssrc uint32, seq uint16, host string, port int, loseTime time.Time) *rtppacket.Packet {
	return &rtppacket.Packet{
		Host:     host,
		Port:     port,
		SSRC:     ssrc,
		SeqNum:   seq,
		LoseTime: loseTime,
	}
}

// runOneBatch sends batch through d.Run and waits for Run to return, which
// it does once the channel is closed and drained.
func runOneBatch(d *dispatcher.Dispatcher, batch []*rtppacket.Packet) {
	batches := make(chan []*rtppacket.Packet, 1)
	batches <- batch
	close(batches)
	d.Run(context.Background(), batches)
}

func TestDispatcherBindsWaitingSSRCOnFirstPacket(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	reg.addWaiting("chan-1", "10.0.0.1:5000")

	d := dispatcher.New(reg, xlog.New("test"), nil)
	pkt := packet(42, 1, "10.0.0.1", 5000, time.Now().Add(time.Minute))

	runOneBatch(d, []*rtppacket.Packet{pkt})

	_, bound := reg.ResolveBoundSSRC("42@10.0.0.1:5000")
	assert.True(t, bound, "first packet on a waiting em_address should bind its SSRC")
}

func TestDispatcherDefersUnboundPacketUntilLoseTime(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	d := dispatcher.New(reg, xlog.New("test"), nil)

	pkt := packet(99, 1, "10.0.0.2", 6000, time.Now().Add(time.Minute))
	runOneBatch(d, []*rtppacket.Packet{pkt})

	_, bound := reg.ResolveBoundSSRC("99@10.0.0.2:6000")
	assert.False(t, bound, "an unbindable packet within its lose window must be deferred, not bound")
}

func TestDispatcherRedeliversDeferredPacketOnceBound(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	d := dispatcher.New(reg, xlog.New("test"), nil)

	pkt := packet(99, 1, "10.0.0.2", 6000, time.Now().Add(time.Minute))
	runOneBatch(d, []*rtppacket.Packet{pkt})
	_, bound := reg.ResolveBoundSSRC("99@10.0.0.2:6000")
	assert.False(t, bound)

	// Now the em_address becomes bindable; the next batch should flush the
	// packet deferred by the previous call along with the new one.
	reg.addWaiting("chan-2", "10.0.0.2:6000")
	pkt2 := packet(99, 2, "10.0.0.2", 6000, time.Now().Add(time.Minute))
	runOneBatch(d, []*rtppacket.Packet{pkt2})

	_, bound = reg.ResolveBoundSSRC("99@10.0.0.2:6000")
	assert.True(t, bound, "a previously deferred packet must be retried on the next batch")
}

func TestDispatcherLosesPacketPastLoseTimeWithoutPanicking(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	d := dispatcher.New(reg, xlog.New("test"), nil)

	pkt := packet(7, 1, "10.0.0.3", 7000, time.Now().Add(-time.Second))
	assert.NotPanics(t, func() {
		runOneBatch(d, []*rtppacket.Packet{pkt})
	})

	_, bound := reg.ResolveBoundSSRC("7@10.0.0.3:7000")
	assert.False(t, bound)
}
