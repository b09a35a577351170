package websocket

import (
	"sync"
	"sync/atomic"

	"github.com/kiprono234/chat-verse/internal/metrics"
	"github.com/kiprono234/chat-verse/internal/models"
	"go.uber.org/zap"
)

// SyncFunc produces the frames a new subscriber receives before any live event.
// It runs on the hub loop, so it must not call back into the hub.
type SyncFunc = func() []models.Event

// Hub maintains the set of subscribed connections and fans events out to them.
// Every operation goes through one channel drained by one loop, so events
// are delivered in the order they were submitted.
type Hub struct {
	// subscribers maps connection id to its outbound queue
	subscribers map[string]*subscriber

	// ops carries subscribe, unsubscribe, publish and send requests
	ops chan op

	// quit is closed by Stop; done is closed when Run returns
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// sendBuffer is the length of each subscriber queue
	sendBuffer int

	count   atomic.Int64
	metrics *metrics.Metrics
	log     *zap.Logger
}

type subscriber struct {
	// send is the bounded outbound queue drained by the write pump
	send chan []byte

	// presenceVersion is the version of the last snapshot delivered, valid when presenceSeen
	presenceVersion uint64
	presenceSeen    bool
}

type opKind int

const (
	opSubscribe opKind = iota
	opUnsubscribe
	opPublish
	opSend
)

type op struct {
	kind   opKind
	connID string
	event  models.Event
	send   chan []byte
	sync   SyncFunc
}

// NewHub creates a Hub whose subscribers each get a queue of sendBuffer frames.
func NewHub(sendBuffer int, m *metrics.Metrics, log *zap.Logger) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		subscribers: make(map[string]*subscriber),
		ops:         make(chan op, 256),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		sendBuffer:  sendBuffer,
		metrics:     m,
		log:         log,
	}
}

// Run starts the hub's main event loop
// This should be called in a goroutine: go hub.Run()
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case o := <-h.ops:
			h.handle(o)
		case <-h.quit:
			for id, sub := range h.subscribers {
				delete(h.subscribers, id)
				close(sub.send)
			}
			h.count.Store(0)
			h.log.Info("hub_stopped")
			return
		}
	}
}

// Stop closes every subscriber queue and waits for Run to return.
// Run must have been started. Later calls are no-ops.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
	<-h.done
}

// Subscribe registers connID and returns its outbound queue. The frames
// produced by sync are queued before any event published afterwards.
// The queue is closed on Unsubscribe, on eviction and on Stop.
func (h *Hub) Subscribe(connID string, syncFn SyncFunc) <-chan []byte {
	send := make(chan []byte, h.sendBuffer)
	if !h.submit(op{kind: opSubscribe, connID: connID, send: send, sync: syncFn}) {
		close(send)
	}
	return send
}

// Unsubscribe removes connID and closes its queue if it is still subscribed.
func (h *Hub) Unsubscribe(connID string) {
	h.submit(op{kind: opUnsubscribe, connID: connID})
}

// Publish fans ev out to every subscriber. Typing events skip ev.Origin.
func (h *Hub) Publish(ev models.Event) {
	h.submit(op{kind: opPublish, event: ev})
}

// Send delivers ev to connID only, if it is still subscribed.
func (h *Hub) Send(connID string, ev models.Event) {
	h.submit(op{kind: opSend, connID: connID, event: ev})
}

// Len returns the number of subscribed connections.
func (h *Hub) Len() int {
	return int(h.count.Load())
}

func (h *Hub) submit(o op) bool {
	select {
	case <-h.quit:
		return false
	default:
	}
	select {
	case h.ops <- o:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) handle(o op) {
	switch o.kind {
	case opSubscribe:
		if old, ok := h.subscribers[o.connID]; ok {
			close(old.send)
		}
		sub := &subscriber{send: o.send}
		h.subscribers[o.connID] = sub
		h.setCount()
		h.log.Debug("subscribed", zap.String("conn", o.connID), zap.Int("total", len(h.subscribers)))
		if o.sync != nil {
			for _, ev := range o.sync() {
				if !h.deliver(o.connID, sub, ev, nil) {
					break
				}
			}
		}

	case opUnsubscribe:
		if sub, ok := h.subscribers[o.connID]; ok {
			delete(h.subscribers, o.connID)
			h.setCount()
			close(sub.send)
			h.log.Debug("unsubscribed", zap.String("conn", o.connID), zap.Int("remaining", len(h.subscribers)))
		}

	case opPublish:
		h.broadcast(o.event)

	case opSend:
		if sub, ok := h.subscribers[o.connID]; ok {
			h.deliver(o.connID, sub, o.event, nil)
		}
	}
}

func (h *Hub) broadcast(ev models.Event) {
	frame, err := ev.Encode()
	if err != nil {
		h.log.Error("encode_event_failed", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	if h.metrics != nil {
		h.metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	}

	sent := 0
	for id, sub := range h.subscribers {
		if ev.Type == models.EventTyping && id == ev.Origin {
			continue
		}
		if h.deliver(id, sub, ev, frame) {
			sent++
		}
	}
	h.log.Debug("broadcast", zap.String("type", string(ev.Type)), zap.Int("sent", sent))
}

// deliver queues one frame for sub. frame may be nil, in which case ev is
// encoded here. A full queue evicts the subscriber. It reports whether the
// frame was queued.
func (h *Hub) deliver(id string, sub *subscriber, ev models.Event, frame []byte) bool {
	if snap, ok := presenceOf(ev); ok {
		if sub.presenceSeen && snap.Version <= sub.presenceVersion {
			if h.metrics != nil {
				h.metrics.StaleSnapshots.Inc()
			}
			return false
		}
		sub.presenceVersion = snap.Version
		sub.presenceSeen = true
	}

	if frame == nil {
		var err error
		if frame, err = ev.Encode(); err != nil {
			h.log.Error("encode_event_failed", zap.String("type", string(ev.Type)), zap.Error(err))
			return false
		}
	}

	select {
	case sub.send <- frame:
		return true
	default:
		// Client's buffer is full, remove them
		delete(h.subscribers, id)
		h.setCount()
		if h.metrics != nil {
			h.metrics.SlowConsumers.Inc()
		}
		close(sub.send)
		h.log.Warn("slow_consumer_evicted", zap.String("conn", id), zap.Int("buffer", h.sendBuffer))
		return false
	}
}

func (h *Hub) setCount() {
	h.count.Store(int64(len(h.subscribers)))
}

func presenceOf(ev models.Event) (models.PresenceSnapshot, bool) {
	if ev.Type != models.EventPresenceChanged {
		return models.PresenceSnapshot{}, false
	}
	switch p := ev.Payload.(type) {
	case models.PresenceSnapshot:
		return p, true
	case *models.PresenceSnapshot:
		if p != nil {
			return *p, true
		}
	}
	return models.PresenceSnapshot{}, false
}
