package inflight

import (
	"testing"
	"time"

	"github.com/streammq/client/internal/packets"
)

func TestRegisterAndPubAckCompletes(t *testing.T) {
	r := New(time.Second, 3, nil)
	e := r.Register(1, &packets.PublishPacket{PacketID: 1, QoS: 1})

	if !r.OnPubAck(1) {
		t.Fatal("OnPubAck(1) = false, want true")
	}
	select {
	case <-e.Done():
	default:
		t.Fatal("entry not completed after OnPubAck")
	}
	if e.Err() != nil {
		t.Fatalf("Err() = %v, want nil", e.Err())
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
}

func TestQoS2HandshakeSendsPubrelThenCompletesOnPubcomp(t *testing.T) {
	var sent []packets.Packet
	r := New(time.Second, 3, func(p packets.Packet) error {
		sent = append(sent, p)
		return nil
	})
	e := r.Register(7, &packets.PublishPacket{PacketID: 7, QoS: 2})

	if !r.OnPubRec(7) {
		t.Fatal("OnPubRec(7) = false, want true")
	}
	if len(sent) != 1 {
		t.Fatalf("sent %d packets after PubRec, want 1", len(sent))
	}
	if _, ok := sent[0].(*packets.PubrelPacket); !ok {
		t.Fatalf("sent packet type %T, want *packets.PubrelPacket", sent[0])
	}

	// duplicate PubRec resends PubRel idempotently
	if !r.OnPubRec(7) {
		t.Fatal("second OnPubRec(7) = false, want true")
	}
	if len(sent) != 2 {
		t.Fatalf("sent %d packets after duplicate PubRec, want 2", len(sent))
	}

	if !r.OnPubComp(7) {
		t.Fatal("OnPubComp(7) = false, want true")
	}
	select {
	case <-e.Done():
	default:
		t.Fatal("entry not completed after OnPubComp")
	}
}

func TestOnTimerRetransmitsWithDupThenTimesOut(t *testing.T) {
	var sent []packets.Packet
	// maxRetries=3 means 3 total wire transmissions: the initial send (done by
	// the caller after Register, not counted here) plus two DUP-flagged
	// retransmissions from OnTimer before the third deadline expires it.
	r := New(10*time.Millisecond, 3, func(p packets.Packet) error {
		sent = append(sent, p)
		return nil
	})
	e := r.Register(3, &packets.PublishPacket{PacketID: 3, QoS: 1})

	base := time.Now()
	r.OnTimer(base.Add(20 * time.Millisecond))
	r.OnTimer(base.Add(40 * time.Millisecond))
	r.OnTimer(base.Add(60 * time.Millisecond))

	select {
	case <-e.Done():
	default:
		t.Fatal("entry not completed after exhausting retries")
	}
	if !IsTimeout(e.Err()) {
		t.Fatalf("Err() = %v, want a timeout error", e.Err())
	}
	if len(sent) != 2 {
		t.Fatalf("retransmitted %d times, want 2", len(sent))
	}
	for _, p := range sent {
		pub := p.(*packets.PublishPacket)
		if !pub.Dup {
			t.Fatal("retransmitted publish missing Dup flag")
		}
	}
}

func TestFailAllCompletesEveryEntry(t *testing.T) {
	r := New(time.Second, 3, nil)
	e1 := r.Register(1, &packets.PublishPacket{PacketID: 1, QoS: 1})
	e2 := r.Register(2, &packets.PublishPacket{PacketID: 2, QoS: 2})

	sentinel := &timeoutError{}
	r.FailAll(sentinel)

	for _, e := range []*Entry{e1, e2} {
		select {
		case <-e.Done():
		default:
			t.Fatal("entry not completed by FailAll")
		}
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d after FailAll, want 0", r.Len())
	}
}
