package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
)

// fragmentHeaderSize is msg_id(4) + offset(4) + total_len(4) + more(1).
const fragmentHeaderSize = 13

// UDPTransport sends and receives length-bounded messages as fragmented
// UDP datagrams, grounded on net_sender.rs's NetSender.broadcast and
// net_receiver.rs's socket-bind shape, enriched with fragmentation and
// reassembly from buffer_tracker.rs since the original prototype's
// broadcast/receive were stubs operating on whole in-memory byte slices.
type UDPTransport struct {
	conn         *net.UDPConn
	dest         *net.UDPAddr
	datagramSize int
	nextMsgID    uint32

	mu       sync.Mutex
	inflight map[reassemblyKey]*reassembly
}

type reassemblyKey struct {
	addr  string
	msgID uint32
}

type reassembly struct {
	buf     []byte
	tracker *BufferTracker
}

// NewUDPSender opens a UDP socket whose default destination is addr; all
// Sends go there.
func NewUDPSender(addr string, datagramSize int) (*UDPTransport, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving sender destination %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dialing udp destination %s: %w", addr, err)
	}
	return &UDPTransport{conn: conn, dest: raddr, datagramSize: datagramSize, inflight: make(map[reassemblyKey]*reassembly)}, nil
}

// NewUDPReceiver binds a UDP socket on listenAddr to receive fragmented
// messages from any sender.
func NewUDPReceiver(listenAddr string, datagramSize int) (*UDPTransport, error) {
	laddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving receiver address %s: %w", listenAddr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("binding udp receiver on %s: %w", listenAddr, err)
	}
	return &UDPTransport{conn: conn, datagramSize: datagramSize, inflight: make(map[reassemblyKey]*reassembly)}, nil
}

// LocalAddr returns the transport's bound local address.
func (t *UDPTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// Send fragments data into datagrams of at most t.datagramSize bytes
// (including the fragment header) and writes them to the configured
// destination.
func (t *UDPTransport) Send(data []byte) error {
	chunkSize := t.datagramSize - fragmentHeaderSize
	if chunkSize <= 0 {
		return errors.New("datagram size too small to carry a fragment header")
	}

	msgID := t.nextMsgID
	t.nextMsgID++

	total := len(data)
	if total == 0 {
		return t.writeFragment(msgID, 0, total, nil, false)
	}
	for offset := 0; offset < total; offset += chunkSize {
		end := offset + chunkSize
		if end > total {
			end = total
		}
		more := end < total
		if err := t.writeFragment(msgID, offset, total, data[offset:end], more); err != nil {
			return err
		}
	}
	return nil
}

func (t *UDPTransport) writeFragment(msgID uint32, offset, total int, chunk []byte, more bool) error {
	buf := make([]byte, fragmentHeaderSize+len(chunk))
	binary.BigEndian.PutUint32(buf[0:4], msgID)
	binary.BigEndian.PutUint32(buf[4:8], uint32(offset))
	binary.BigEndian.PutUint32(buf[8:12], uint32(total))
	if more {
		buf[12] = 1
	}
	copy(buf[fragmentHeaderSize:], chunk)

	_, err := t.conn.Write(buf)
	if err != nil {
		return fmt.Errorf("writing udp fragment: %w", err)
	}
	return nil
}

// Receive blocks until a complete message has been reassembled from one
// or more fragments and returns it.
func (t *UDPTransport) Receive() ([]byte, error) {
	packet := make([]byte, t.datagramSize)
	for {
		n, addr, err := t.conn.ReadFromUDP(packet)
		if err != nil {
			return nil, fmt.Errorf("reading udp fragment: %w", err)
		}
		if n < fragmentHeaderSize {
			continue
		}
		fragment := packet[:n]
		msgID := binary.BigEndian.Uint32(fragment[0:4])
		offset := int(binary.BigEndian.Uint32(fragment[4:8]))
		total := int(binary.BigEndian.Uint32(fragment[8:12]))
		more := fragment[12] == 1
		chunk := fragment[fragmentHeaderSize:]

		key := reassemblyKey{addr: addr.String(), msgID: msgID}

		t.mu.Lock()
		state, ok := t.inflight[key]
		if !ok {
			state = &reassembly{buf: make([]byte, total), tracker: NewBufferTracker()}
			t.inflight[key] = state
		}
		copy(state.buf[offset:], chunk)
		complete := state.tracker.MarkReceived(offset, offset+len(chunk), more)
		if complete {
			delete(t.inflight, key)
		}
		t.mu.Unlock()

		if complete {
			return state.buf, nil
		}
	}
}

// Close releases the underlying socket.
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}
