package horstbeacon

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSenderReceiverOverChannelTransport(t *testing.T) {
	ctx := testKeystoreContext(t)

	signerTransport, receiverTransport := NewChannelTransportPair(8)

	signer, err := NewBlockSigner(ctx, filepath.Join(t.TempDir(), "sender.state"), [32]byte{11})
	if err != nil {
		t.Fatalf("NewBlockSigner: %v", err)
	}
	sender := NewSender(signer, signerTransport)
	defer sender.Close()

	graph := NewTrustGraph()
	verifier := NewBlockVerifier(ctx, graph, "alice")
	queue := NewDeliveryQueue()
	receiver := NewReceiver(verifier, receiverTransport, queue)

	done := make(chan error, 1)
	go func() { done <- receiver.Run() }()

	if err := sender.Broadcast([]byte("hello beacon")); err != nil {
		t.Fatalf("Broadcast message 1: %v", err)
	}
	if err := sender.Broadcast([]byte("second message")); err != nil {
		t.Fatalf("Broadcast message 2: %v", err)
	}

	var results []*VerifyResult
	deadline := time.Now().Add(2 * time.Second)
	for len(results) < 2 && time.Now().Before(deadline) {
		if r, ok := queue.Dequeue(); ok {
			results = append(results, r)
			continue
		}
		time.Sleep(time.Millisecond)
	}

	receiver.Stop()
	receiverTransport.Close()
	<-done

	if len(results) != 2 {
		t.Fatalf("expected 2 delivered results, got %d", len(results))
	}
	if results[0].Verdict != Certified {
		t.Fatalf("message 1 verdict = %v, want Certified", results[0].Verdict)
	}
	if string(results[0].Payload) != "hello beacon" {
		t.Fatalf("message 1 payload mismatch: %q", results[0].Payload)
	}
	if string(results[1].Payload) != "second message" {
		t.Fatalf("message 2 payload mismatch: %q", results[1].Payload)
	}
}

func TestDeliveryQueueFIFOOrder(t *testing.T) {
	q := NewDeliveryQueue()
	q.Enqueue(&VerifyResult{SeqNo: 0})
	q.Enqueue(&VerifyResult{SeqNo: 1})

	first, ok := q.Dequeue()
	if !ok || first.SeqNo != 0 {
		t.Fatalf("expected seq 0 first")
	}
	second, ok := q.Dequeue()
	if !ok || second.SeqNo != 1 {
		t.Fatalf("expected seq 1 second")
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestChannelTransportClosedReturnsTransportError(t *testing.T) {
	a, b := NewChannelTransportPair(1)
	defer b.Close()
	a.Close()

	if err := a.Send([]byte("x")); err == nil {
		t.Fatalf("expected Send on a closed transport to error")
	}
	if _, err := a.Receive(); err == nil {
		t.Fatalf("expected Receive on a closed transport to error")
	}
}
