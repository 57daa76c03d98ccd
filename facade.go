package horstbeacon

import (
	"sync"
	"sync/atomic"
)

// Transport abstracts the collaborator that moves wire-format bytes
// between a Sender and a Receiver, per spec.md §4.G: "either side may
// substitute an in-process channel for the transport." Implementations
// include internal/transport's UDP datagram transport and, for tests,
// ChannelTransport below.
type Transport interface {
	Send(data []byte) error
	Receive() ([]byte, error)
	Close() error
}

// ChannelTransport is an in-process Transport backed by a Go channel,
// grounded on the same substitutability spec.md §4.G calls for; used in
// tests in place of a real socket.
type ChannelTransport struct {
	out    chan<- []byte
	in     <-chan []byte
	closed chan struct{}
	once   sync.Once
}

// NewChannelTransportPair returns two linked ChannelTransports: sending
// on one is receivable on the other, and vice versa.
func NewChannelTransportPair(capacity int) (a, b *ChannelTransport) {
	ab := make(chan []byte, capacity)
	ba := make(chan []byte, capacity)
	a = &ChannelTransport{out: ab, in: ba, closed: make(chan struct{})}
	b = &ChannelTransport{out: ba, in: ab, closed: make(chan struct{})}
	return a, b
}

func (c *ChannelTransport) Send(data []byte) error {
	select {
	case <-c.closed:
		return errKindf(TransportError, "channel transport closed")
	default:
	}
	cp := append([]byte(nil), data...)
	select {
	case c.out <- cp:
		return nil
	case <-c.closed:
		return errKindf(TransportError, "channel transport closed")
	}
}

func (c *ChannelTransport) Receive() ([]byte, error) {
	select {
	case <-c.closed:
		return nil, errKindf(TransportError, "channel transport closed")
	default:
	}
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, errKindf(TransportError, "channel transport closed")
	}
}

func (c *ChannelTransport) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// DeliveryQueue is a FIFO of verified results awaiting consumption,
// grounded on original_source/src/delivery_queues.rs's VecDeque-backed
// DeliveryQueues.
type DeliveryQueue struct {
	mu    sync.Mutex
	items []*VerifyResult
}

// NewDeliveryQueue returns an empty queue.
func NewDeliveryQueue() *DeliveryQueue { return &DeliveryQueue{} }

// Enqueue appends a verified result.
func (q *DeliveryQueue) Enqueue(r *VerifyResult) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, r)
}

// Dequeue pops the oldest result, or returns (nil, false) if empty.
func (q *DeliveryQueue) Dequeue() (*VerifyResult, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Sender is component G's broadcasting side: split, sign, and transmit
// payloads until stopped. Grounded on original_source/src/sender.rs's
// SenderTrait::broadcast loop shape (chunk, sign, broadcast each piece).
type Sender struct {
	signer    *BlockSigner
	transport Transport
	running   atomic.Bool
}

// NewSender wires a BlockSigner to a Transport.
func NewSender(signer *BlockSigner, transport Transport) *Sender {
	s := &Sender{signer: signer, transport: transport}
	s.running.Store(true)
	return s
}

// Stop cooperatively ends Broadcast's loop before its next piece is sent,
// mirroring original_source's running: Arc<AtomicBool>. A transport call
// already in progress is not interrupted.
func (s *Sender) Stop() { s.running.Store(false) }

// Broadcast signs payload into one or more pieces and transmits each
// over the transport, stopping early and returning an error if Stop was
// called or a transport write fails.
func (s *Sender) Broadcast(payload []byte) error {
	blocks, err := s.signer.Sign(payload)
	if err != nil {
		return err
	}
	for _, block := range blocks {
		if !s.running.Load() {
			return errKindf(TransportError, "sender stopped mid-broadcast")
		}
		data := EncodeSignedBlock(block)
		if err := s.transport.Send(data); err != nil {
			return wrapErrKindf(TransportError, err, "broadcasting seq %d", block.SeqNo)
		}
	}
	return nil
}

// Close releases the signer's container lock and the transport.
func (s *Sender) Close() error {
	err1 := s.signer.Close()
	err2 := s.transport.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Receiver is component G's subscribing side: receive, verify, and
// enqueue signed blocks until stopped. Grounded on
// original_source/src/receiver.rs's ReceiverTrait::run loop shape
// (receive whole block, debug-log its hash, hand off for delivery).
type Receiver struct {
	verifier  *BlockVerifier
	transport Transport
	queue     *DeliveryQueue
	running   atomic.Bool
}

// NewReceiver wires a BlockVerifier to a Transport and a DeliveryQueue.
func NewReceiver(verifier *BlockVerifier, transport Transport, queue *DeliveryQueue) *Receiver {
	r := &Receiver{verifier: verifier, transport: transport, queue: queue}
	r.running.Store(true)
	return r
}

// Stop cooperatively ends Run's loop.
func (r *Receiver) Stop() { r.running.Store(false) }

// Run blocks receiving and verifying signed blocks, enqueuing each
// VerifyResult, until Stop is called. A SignatureShapeError or
// TransportError on one message is logged and the loop continues, per
// spec.md §7's runtime error policy; any other error aborts the loop.
func (r *Receiver) Run() error {
	for r.running.Load() {
		data, err := r.transport.Receive()
		if err != nil {
			log.Logf("horstbeacon: transport receive failed: %v", err)
			continue
		}
		result, err := r.verifier.Verify(data)
		if err != nil {
			if e, ok := err.(Error); ok && (e.Kind() == SignatureShapeError || e.Kind() == TransportError) {
				log.Logf("horstbeacon: dropping malformed block: %v", err)
				continue
			}
			return err
		}
		r.queue.Enqueue(result)
	}
	return nil
}
