// Package inflight tracks outbound QoS 1 and QoS 2 publishes that are
// awaiting acknowledgment from the broker, including retransmission on
// timeout.
package inflight

import (
	"sync"
	"time"

	"github.com/streammq/client/internal/packets"
)

// Phase identifies which acknowledgment an inflight publish is waiting for.
type Phase int

const (
	// AwaitingPubAck is the terminal wait state for a QoS 1 publish.
	AwaitingPubAck Phase = iota
	// AwaitingPubRec is the first wait state for a QoS 2 publish.
	AwaitingPubRec
	// AwaitingPubComp is the second wait state for a QoS 2 publish, entered
	// once PubRec has been received and PubRel has been sent.
	AwaitingPubComp
)

func (p Phase) String() string {
	switch p {
	case AwaitingPubAck:
		return "awaiting_puback"
	case AwaitingPubRec:
		return "awaiting_pubrec"
	case AwaitingPubComp:
		return "awaiting_pubcomp"
	default:
		return "unknown"
	}
}

// Entry is a single outbound publish awaiting completion.
type Entry struct {
	ID       uint16
	Publish  *packets.PublishPacket
	Phase    Phase
	Attempts int
	Deadline time.Time

	done chan struct{}
	err  error
	once sync.Once
}

func newEntry(id uint16, pub *packets.PublishPacket, deadline time.Time) *Entry {
	return &Entry{
		ID:       id,
		Publish:  pub,
		Phase:    phaseFor(pub.QoS),
		Attempts: 1,
		Deadline: deadline,
		done:     make(chan struct{}),
	}
}

func phaseFor(qos uint8) Phase {
	if qos == 2 {
		return AwaitingPubRec
	}
	return AwaitingPubAck
}

// Done returns a channel closed once the entry reaches a terminal state.
func (e *Entry) Done() <-chan struct{} { return e.done }

// Err returns the completion error, or nil on success. Only meaningful after
// Done() is closed.
func (e *Entry) Err() error { return e.err }

func (e *Entry) complete(err error) {
	e.once.Do(func() {
		e.err = err
		close(e.done)
	})
}

// Sender transmits a packet on the session's outbound path. The registry
// invokes it for retransmissions and PubRel packets driven by
// OnTimer/OnPubRec/ReplayAll; the initial send is made by the caller, after
// Register.
type Sender func(packets.Packet) error

// Registry holds every inflight entry for one session.
type Registry struct {
	mu         sync.Mutex
	entries    map[uint16]*Entry
	timeout    time.Duration
	maxRetries int
	send       Sender
	now        func() time.Time
}

// New returns a Registry that retransmits unacknowledged entries after
// timeout, using send to put packets back on the wire. maxRetries counts
// every transmission including the initial send, so an entry is
// retransmitted at most maxRetries-1 times before it times out.
func New(timeout time.Duration, maxRetries int, send Sender) *Registry {
	return &Registry{
		entries:    make(map[uint16]*Entry),
		timeout:    timeout,
		maxRetries: maxRetries,
		send:       send,
		now:        time.Now,
	}
}

// Register records a newly sent publish as inflight and returns its Entry.
func (r *Registry) Register(id uint16, pub *packets.PublishPacket) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := newEntry(id, pub, r.now().Add(r.timeout))
	r.entries[id] = e
	return e
}

// OnPubAck completes the entry for id if it is awaiting a PubAck.
func (r *Registry) OnPubAck(id uint16) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok && e.Phase == AwaitingPubAck {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if ok && e.Phase == AwaitingPubAck {
		e.complete(nil)
		return true
	}
	return false
}

// OnPubRec advances the entry for id from AwaitingPubRec to AwaitingPubComp
// and (re)sends PubRel. A repeated PubRec while already AwaitingPubComp
// resends PubRel idempotently, as the protocol requires.
func (r *Registry) OnPubRec(id uint16) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	switch e.Phase {
	case AwaitingPubRec, AwaitingPubComp:
		e.Phase = AwaitingPubComp
		e.Deadline = r.now().Add(r.timeout)
	default:
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	if r.send != nil {
		_ = r.send(&packets.PubrelPacket{PacketID: id})
	}
	return true
}

// OnPubComp completes the entry for id if it is awaiting a PubComp.
func (r *Registry) OnPubComp(id uint16) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok && e.Phase == AwaitingPubComp {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if ok && e.Phase == AwaitingPubComp {
		e.complete(nil)
		return true
	}
	return false
}

// OnTimer retransmits every entry whose deadline has passed. Entries that
// have exhausted maxRetries are completed with errTimedOut and removed.
func (r *Registry) OnTimer(now time.Time) {
	type resend struct {
		pkt packets.Packet
	}
	var toSend []resend
	var expired []*Entry

	r.mu.Lock()
	for id, e := range r.entries {
		if now.Before(e.Deadline) {
			continue
		}
		if e.Attempts >= r.maxRetries {
			delete(r.entries, id)
			expired = append(expired, e)
			continue
		}
		e.Attempts++
		e.Deadline = now.Add(r.timeout)

		if e.Phase == AwaitingPubComp {
			toSend = append(toSend, resend{pkt: &packets.PubrelPacket{PacketID: e.ID}})
		} else {
			e.Publish.Dup = true
			toSend = append(toSend, resend{pkt: e.Publish})
		}
	}
	r.mu.Unlock()

	for _, e := range expired {
		e.complete(errTimedOut)
	}
	if r.send == nil {
		return
	}
	for _, rs := range toSend {
		_ = r.send(rs.pkt)
	}
}

// FailAll completes every remaining entry with err and clears the registry.
// Used on disconnect when reconnect is disabled, or on fatal protocol error.
func (r *Registry) FailAll(err error) {
	r.mu.Lock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.entries = make(map[uint16]*Entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.complete(err)
	}
}

// Entries returns a snapshot of every currently tracked entry, for
// diagnostics and tests; ReplayAll is the reconnect-time replay path.
func (r *Registry) Entries() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// ReplayAll resends every tracked entry immediately: a DUP-flagged publish
// for one still awaiting PubAck/PubRec, or a fresh PubRel for one already
// awaiting PubComp. Used right after a reconnect so inflight publishes
// resume with their packet ids preserved before subscriptions are replayed
// or any new user call is processed, rather than waiting for OnTimer's next
// tick. Every replayed entry's deadline is re-armed from now so OnTimer
// doesn't immediately re-fire on top of this replay.
func (r *Registry) ReplayAll(now time.Time) {
	type resend struct {
		pkt packets.Packet
	}
	var toSend []resend

	r.mu.Lock()
	for _, e := range r.entries {
		e.Deadline = now.Add(r.timeout)
		if e.Phase == AwaitingPubComp {
			toSend = append(toSend, resend{pkt: &packets.PubrelPacket{PacketID: e.ID}})
		} else {
			e.Publish.Dup = true
			toSend = append(toSend, resend{pkt: e.Publish})
		}
	}
	r.mu.Unlock()

	if r.send == nil {
		return
	}
	for _, rs := range toSend {
		_ = r.send(rs.pkt)
	}
}

// Len returns the number of entries currently tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// errTimedOut is returned to Entry.Err() when retries are exhausted.
// Defined here (rather than imported from the root package) to keep this
// package free of a dependency on the client façade; the root package
// wraps it into the public error taxonomy.
var errTimedOut = &timeoutError{}

type timeoutError struct{}

func (*timeoutError) Error() string { return "publish timed out waiting for acknowledgment" }

// IsTimeout reports whether err is the sentinel produced by OnTimer.
func IsTimeout(err error) bool {
	_, ok := err.(*timeoutError)
	return ok
}
