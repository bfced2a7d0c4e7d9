// Package lifecycle owns the chan_id -> Container registry and the
// CREATE/PROGRESS/ANSWER/DETECT/DESTROY state machine described in
// spec.md §4.7, translated from original_source/src/manager.py's
// start_event_* family and its em_address_wait_ssrc /
// em_address_ssrc_with_chan_id bookkeeping.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chuffdetect/callsentry/internal/callback"
	"github.com/chuffdetect/callsentry/internal/container"
	"github.com/chuffdetect/callsentry/internal/events"
	"github.com/chuffdetect/callsentry/internal/metrics"
	"github.com/chuffdetect/callsentry/internal/xlog"
)

const progressRetries = 5
const progressRetryDelay = 200 * time.Millisecond

// OnContainerFinished is invoked with a container once its background
// parse loop exits, so a recording sink can flush it and the registry
// can forget it.
type OnContainerFinished func(c *container.Container)

// Controller is the single owner of all live containers. Safe for
// concurrent use: the dispatcher resolves bindings on one goroutine while
// the HTTP control plane mutates event state on others.
type Controller struct {
	mu sync.RWMutex

	boundSSRC map[string]string // em_address_ssrc -> chan_id
	waitSSRC  map[string]string // em_address -> chan_id
	containers map[string]*container.Container

	// callbackClients caches one Client per callback_host:callback_port,
	// mirroring manager.py's callpy_clients dict keyed by callback_address.
	callbackClients map[string]*callback.Client
	callbackAddress map[string]string // chan_id -> callback_address

	log     *xlog.Logger
	metrics *metrics.Metrics

	onFinished OnContainerFinished
}

// New constructs an empty Controller.
func New(log *xlog.Logger, m *metrics.Metrics) *Controller {
	return &Controller{
		boundSSRC:       make(map[string]string),
		waitSSRC:        make(map[string]string),
		containers:      make(map[string]*container.Container),
		callbackClients: make(map[string]*callback.Client),
		callbackAddress: make(map[string]string),
		log:             log,
		metrics:         m,
	}
}

// SetOnContainerFinished registers the callback run when any container's
// background loop exits.
func (c *Controller) SetOnContainerFinished(fn OnContainerFinished) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFinished = fn
}

// ResolveBoundSSRC implements dispatcher.ContainerRegistry.
func (c *Controller) ResolveBoundSSRC(emAddressSSRC string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	chanID, ok := c.boundSSRC[emAddressSSRC]
	return chanID, ok
}

// BindWaitingSSRC implements dispatcher.ContainerRegistry.
func (c *Controller) BindWaitingSSRC(emAddress, emAddressSSRC string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chanID, ok := c.waitSSRC[emAddress]
	if !ok {
		return "", false
	}
	delete(c.waitSSRC, emAddress)
	c.boundSSRC[emAddressSSRC] = chanID
	return chanID, true
}

// Container implements dispatcher.ContainerRegistry.
func (c *Controller) Container(chanID string) (*container.Container, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ct, ok := c.containers[chanID]
	return ct, ok
}

// HandleCreate allocates a new Container for event.chan_id, waiting on an
// em_address binding. Grounded on start_event_create.
func (c *Controller) HandleCreate(event events.CreateEvent) {
	emAddress := fmt.Sprintf("%s:%d", event.Info.EMHost, event.Info.EMPort)
	c.log.Printf("event_name=%s and call_id=%s em_address=%s", event.EventName, event.CallID, emAddress)

	createEventTime, _ := time.Parse(time.RFC3339, event.EventTime)
	ct := container.New(event.ChanID, event.CallID, event.Info.EMHost, event.Info.EMPort, event.Info, createEventTime, xlog.New("container").With(event.ChanID), c.metrics)

	callbackAddress := fmt.Sprintf("%s:%d", event.Info.CallbackHost, event.Info.CallbackPort)

	c.mu.Lock()
	c.waitSSRC[emAddress] = event.ChanID
	c.containers[event.ChanID] = ct
	c.callbackAddress[event.ChanID] = callbackAddress
	if _, ok := c.callbackClients[callbackAddress]; !ok {
		c.log.Printf("start create callback client")
		c.callbackClients[callbackAddress] = callback.New(event.Info.CallbackHost, event.Info.CallbackPort, c.log, c.metrics)
	}
	onFinished := c.onFinished
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ContainersActive.Inc()
	}

	ct.SetOnFinished(func(ct *container.Container) {
		c.forget(ct.ChanID)
		if onFinished != nil {
			onFinished(ct)
		}
	})
}

// HandleProgress retries up to 5 times at 200ms, per start_event_progress,
// since a PROGRESS notification can race the CREATE that allocates the
// container.
func (c *Controller) HandleProgress(event events.ProgressEvent) bool {
	c.log.Printf("event_name=%s and call_id=%s", event.EventName, event.CallID)
	return c.retryOnContainer(event.ChanID, func(ct *container.Container) {
		ct.AddEventProgress(event.Info)
	})
}

// HandleAnswer records an ANSWER event; the container computes
// seq_num_answer_package from this event's event_time against its own
// stored CREATE event_time.
func (c *Controller) HandleAnswer(event events.AnswerEvent, answerEventTime time.Time) bool {
	c.log.Printf("event_name=%s and call_id=%s", event.EventName, event.CallID)
	return c.retryOnContainer(event.ChanID, func(ct *container.Container) {
		ct.AddEventAnswer(event.Info, answerEventTime)
	})
}

// HandleDetect appends a DETECT request, per start_event_detect.
func (c *Controller) HandleDetect(event events.DetectEvent) bool {
	c.log.Printf("event_name=%s and call_id=%s", event.EventName, event.CallID)
	return c.retryOnContainer(event.ChanID, func(ct *container.Container) {
		ct.AddEventDetect(event.Info)
	})
}

// HandleDestroy marks the container for teardown, per start_event_destroy.
func (c *Controller) HandleDestroy(event events.DestroyEvent) bool {
	c.log.Printf("event_name=%s and call_id=%s", event.EventName, event.CallID)
	return c.retryOnContainer(event.ChanID, func(ct *container.Container) {
		ct.AddEventDestroy(event.Info)
	})
}

func (c *Controller) retryOnContainer(chanID string, fn func(ct *container.Container)) bool {
	for i := 0; i < progressRetries; i++ {
		if ct, ok := c.Container(chanID); ok {
			fn(ct)
			return true
		}
		time.Sleep(progressRetryDelay)
	}
	c.log.Printf("chan_id=%s not found", chanID)
	return false
}

func (c *Controller) forget(chanID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.containers, chanID)
	delete(c.callbackAddress, chanID)
	if c.metrics != nil {
		c.metrics.ContainersActive.Dec()
		c.metrics.ContainersDestroyed.Inc()
	}
}

// NotifyMatch posts the accepted-template result to the call's own
// callback client, per manager.py's per-callback_address CallPyClient
// routing.
func (c *Controller) NotifyMatch(ctx context.Context, chanID, callID, templateName string) error {
	c.mu.RLock()
	address := c.callbackAddress[chanID]
	client, ok := c.callbackClients[address]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("lifecycle: no callback client for chan_id=%s", chanID)
	}

	body := map[string]string{
		"chan_id":  chanID,
		"call_id":  callID,
		"template": templateName,
	}
	return client.Notify(ctx, "detect", "/callsentry/detect", body)
}

// ActiveContainers returns a snapshot of every live container, for the
// detector's prepare loop to poll.
func (c *Controller) ActiveContainers() []*container.Container {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*container.Container, 0, len(c.containers))
	for _, ct := range c.containers {
		out = append(out, ct)
	}
	return out
}
