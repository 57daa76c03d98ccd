package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// SubscriberRegistry tracks receivers that have sent a heartbeat to a
// sender recently, grounded on net_sender.rs's NetSender.subscribers
// table and registrator_task. Entries older than lifetime are treated as
// expired subscribers.
type SubscriberRegistry struct {
	mu          sync.Mutex
	subscribers map[string]time.Time
	lifetime    time.Duration
}

// NewSubscriberRegistry returns an empty registry with the given
// subscriber lifetime.
func NewSubscriberRegistry(lifetime time.Duration) *SubscriberRegistry {
	return &SubscriberRegistry{
		subscribers: make(map[string]time.Time),
		lifetime:    lifetime,
	}
}

// Touch records a heartbeat from addr, refreshing its lifetime.
func (r *SubscriberRegistry) Touch(addr string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers[addr] = at
}

// Active returns the addresses that have sent a heartbeat within the
// registry's lifetime as of now, pruning stale entries as a side effect.
func (r *SubscriberRegistry) Active(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var active []string
	for addr, last := range r.subscribers {
		if now.Sub(last) > r.lifetime {
			delete(r.subscribers, addr)
			continue
		}
		active = append(active, addr)
	}
	return active
}

// ListenHeartbeats runs a UDP listener accepting subscriber heartbeats,
// registering the sender's address on each packet, until running is
// cleared. Grounded on net_sender.rs's registrator_task loop shape.
func ListenHeartbeats(conn *net.UDPConn, registry *SubscriberRegistry, running *atomic.Bool) {
	buf := make([]byte, 16)
	for running.Load() {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		_, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		registry.Touch(addr.String(), time.Now())
	}
}

// SendHeartbeats periodically sends a heartbeat datagram over the
// connected conn every interval, until running is cleared. Grounded on
// net_receiver.rs's heartbeat_task loop shape (connect once, sleep
// between sends). A failed send is ignored and the loop continues.
func SendHeartbeats(conn *net.UDPConn, interval time.Duration, running *atomic.Bool) {
	payload := []byte{0}
	for running.Load() {
		_, _ = conn.Write(payload)
		time.Sleep(interval)
	}
}
