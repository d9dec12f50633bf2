// Circuit relay
//
// Every browser viewing the board holds one websocket session. Whatever
// circuit one browser submits is echoed, byte for byte, to every session
// that is connected at that moment, including the one that sent it.
//
// Features:
// - One goroutine owns the set of live sessions; nothing else touches it
// - Inbound frames are dispatched through an explicit event -> handler table
// - Payloads are never decoded, so any JSON value is relayed as-is
// - Slow or dead sessions are dropped without stalling the others
// - No state is kept between updates; a new session starts with a blank board

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"
)

const (
	eventCircuitUpdate = "circuit_update"
	eventCircuitState  = "circuit_state"
)

var errRelayStopped = errors.New("relay is not running")

// Envelope is the shape of every websocket text frame, in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// encodeFrame leaves HTML characters in data unescaped so the payload goes
// out as it came in.
func encodeFrame(event string, data json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(Envelope{Event: event, Data: data}); err != nil {
		return nil, err
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

type inboundMessage struct {
	session  *Session
	envelope Envelope
}

// Registry is the live set of connected sessions. It is not safe for
// concurrent use; the relay loop is its only caller outside of tests.
type Registry struct {
	sessions map[*Session]struct{}
}

func newRegistry() *Registry {
	return &Registry{
		sessions: make(map[*Session]struct{}),
	}
}

func (r *Registry) connect(s *Session) {
	s.open = true
	r.sessions[s] = struct{}{}
}

// disconnect reports whether s was a member. Removing a session that is
// already gone is a no-op.
func (r *Registry) disconnect(s *Session) bool {
	if _, ok := r.sessions[s]; !ok {
		return false
	}

	delete(r.sessions, s)
	s.open = false
	close(s.send)

	return true
}

func (r *Registry) members() []*Session {
	out := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) len() int {
	return len(r.sessions)
}

type handlerFunc func(sender *Session, data json.RawMessage)

// Relay fans inbound circuit updates out to the registry's members.
type Relay struct {
	cfg      *Config
	registry *Registry
	handlers map[string]handlerFunc

	register   chan *Session
	unregister chan *Session
	inbound    chan inboundMessage
	counts     chan chan int
	done       chan struct{}
}

func newRelay(cfg *Config, registry *Registry) *Relay {
	r := &Relay{
		cfg:        cfg,
		registry:   registry,
		register:   make(chan *Session),
		unregister: make(chan *Session),
		inbound:    make(chan inboundMessage),
		counts:     make(chan chan int),
		done:       make(chan struct{}),
	}

	r.handlers = map[string]handlerFunc{
		eventCircuitUpdate: r.onCircuitUpdate,
	}

	return r
}

// run is the event loop. It returns once ctx is cancelled, after closing
// every remaining session.
func (r *Relay) run(ctx context.Context) error {
	defer close(r.done)

	for {
		select {
		case s := <-r.register:
			r.registry.connect(s)
			logf(r.cfg, "SESSION: %s connected from %s (%d live)", s.id, s.remoteAddr, r.registry.len())

		case s := <-r.unregister:
			if r.registry.disconnect(s) {
				logf(r.cfg, "SESSION: %s disconnected after %s (%d live)",
					s.id,
					time.Since(s.connectedAt).Round(time.Millisecond),
					r.registry.len(),
				)
			}

		case msg := <-r.inbound:
			r.dispatch(msg)

		case reply := <-r.counts:
			reply <- r.registry.len()

		case <-ctx.Done():
			for _, s := range r.registry.members() {
				r.registry.disconnect(s)
			}
			logf(r.cfg, "RELAY: Stopped")

			return nil
		}
	}
}

func (r *Relay) dispatch(msg inboundMessage) {
	handle, ok := r.handlers[msg.envelope.Event]
	if !ok {
		logf(r.cfg, "RELAY: Ignoring unknown event %q from %s", msg.envelope.Event, msg.session.id)

		return
	}

	handle(msg.session, msg.envelope.Data)
}

// onCircuitUpdate rebroadcasts data to every live session, the sender included.
func (r *Relay) onCircuitUpdate(sender *Session, data json.RawMessage) {
	frame, err := encodeFrame(eventCircuitState, data)
	if err != nil {
		logf(r.cfg, "RELAY: Discarding update from %s: %v", sender.id, err)

		return
	}

	recipients := r.registry.members()
	for _, s := range recipients {
		r.deliver(s, frame)
	}

	logf(r.cfg, "RELAY: %s from %s to %d sessions",
		humanReadableSize(len(frame)),
		sender.id,
		len(recipients),
	)
}

// deliver never blocks. A session whose queue is full is dropped.
func (r *Relay) deliver(s *Session, frame []byte) {
	select {
	case s.send <- frame:
	default:
		r.registry.disconnect(s)
		logf(r.cfg, "SESSION: %s dropped, send buffer full", s.id)
	}
}

func (r *Relay) join(ctx context.Context, s *Session) error {
	select {
	case r.register <- s:
		return nil
	case <-r.done:
		return errRelayStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// leave does not take a context; it must still land after the request that
// opened the session has been cancelled.
func (r *Relay) leave(s *Session) {
	select {
	case r.unregister <- s:
	case <-r.done:
	}
}

func (r *Relay) submit(ctx context.Context, s *Session, env Envelope) error {
	select {
	case r.inbound <- inboundMessage{session: s, envelope: env}:
		return nil
	case <-r.done:
		return errRelayStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relay) memberCount(ctx context.Context) (int, error) {
	reply := make(chan int, 1)

	select {
	case r.counts <- reply:
	case <-r.done:
		return 0, errRelayStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	return <-reply, nil
}
