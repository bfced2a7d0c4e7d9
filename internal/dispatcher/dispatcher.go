// Package dispatcher routes batches of parsed RTP packets from the
// receiver to the bound Audio Container, deferring packets whose
// container isn't registered yet and dropping them once lose_time
// passes. Grounded on original_source/src/manager.py's start_allocate,
// translated from its single-threaded asyncio loop into a goroutine
// draining the receiver's batch channel.
package dispatcher

import (
	"context"
	"sort"
	"time"

	"github.com/chuffdetect/callsentry/internal/container"
	"github.com/chuffdetect/callsentry/internal/metrics"
	"github.com/chuffdetect/callsentry/internal/rtppacket"
	"github.com/chuffdetect/callsentry/internal/xlog"
)

// ContainerRegistry is the subset of the lifecycle controller's state the
// dispatcher needs: SSRC binding lookups by em_address, and resolved
// container lookup by chan_id. Defined here, implemented there, so
// neither package imports the other's concrete type.
type ContainerRegistry interface {
	// ResolveBoundSSRC returns the chan_id bound to this em_address_ssrc,
	// if any.
	ResolveBoundSSRC(emAddressSSRC string) (string, bool)
	// BindWaitingSSRC claims the chan_id waiting on this em_address (if
	// any) for emAddressSSRC, and returns it.
	BindWaitingSSRC(emAddress, emAddressSSRC string) (string, bool)
	// Container returns the live container for a chan_id.
	Container(chanID string) (*container.Container, bool)
}

// Dispatcher drains batches from a receiver and routes each packet to its
// bound container, exactly mirroring start_allocate's per-package branch:
// already bound, newly bindable via a waiting em_address, deferred
// pending a bind, or lost.
type Dispatcher struct {
	registry ContainerRegistry
	log      *xlog.Logger
	metrics  *metrics.Metrics

	deferred []*rtppacket.Packet
	stressPeak int
}

// New constructs a Dispatcher against the given registry.
func New(registry ContainerRegistry, log *xlog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{registry: registry, log: log, metrics: m}
}

// Run drains batches until ctx is cancelled or the channel closes,
// routing each batch in sequence-number order, per start_allocate.
func (d *Dispatcher) Run(ctx context.Context, batches <-chan []*rtppacket.Packet) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-batches:
			if !ok {
				return
			}
			d.routeBatch(batch)
		}
	}
}

func (d *Dispatcher) routeBatch(batch []*rtppacket.Packet) {
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		if elapsed > time.Second {
			d.log.Printf("allocation loop took %s", elapsed)
		}
		if d.metrics != nil {
			d.metrics.DispatcherLoopDuration.Observe(elapsed.Seconds())
		}
	}()

	queue := append(d.deferred, batch...)
	d.deferred = nil

	queueLen := len(queue)
	if queueLen > d.stressPeak+99 {
		d.stressPeak = queueLen
		d.log.Printf("update stress peak=%d", d.stressPeak)
	} else if queueLen > 0 {
		d.stressPeak = max(0, d.stressPeak-1)
	}
	if d.metrics != nil {
		d.metrics.DispatcherStressPeak.Set(float64(d.stressPeak))
	}

	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].SeqNum < queue[j].SeqNum
	})

	var lost int
	now := time.Now()
	for _, pkt := range queue {
		emAddressSSRC := pkt.EMAddressSSRC()
		emAddress := pkt.EMAddress()

		if chanID, ok := d.registry.ResolveBoundSSRC(emAddressSSRC); ok {
			d.deliver(chanID, pkt)
			continue
		}
		if chanID, ok := d.registry.BindWaitingSSRC(emAddress, emAddressSSRC); ok {
			d.deliver(chanID, pkt)
			continue
		}
		if now.Before(pkt.LoseTime) {
			d.deferred = append(d.deferred, pkt)
			if d.metrics != nil {
				d.metrics.PacketsDeferred.Inc()
			}
			continue
		}
		lost++
	}

	if lost > 0 {
		d.log.Printf("lose_packages: %d", lost)
		if d.metrics != nil {
			d.metrics.PacketsLost.Add(float64(lost))
		}
	}
}

func (d *Dispatcher) deliver(chanID string, pkt *rtppacket.Packet) {
	c, ok := d.registry.Container(chanID)
	if !ok {
		return
	}
	c.AppendPackage(pkt)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
