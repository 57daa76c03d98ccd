// Package transport provides the UDP datagram transport, fragment
// reassembly, and subscriber heartbeat machinery for broadcasting and
// receiving signed blocks, independent of the signature scheme itself.
package transport

// interval is one contiguous run of received byte offsets within a
// fragmented datagram's reassembly buffer.
type interval struct {
	start, end int
	last       bool
}

// BufferTracker reassembles a fragmented message from out-of-order
// fragment offset ranges, grounded on
// original_source/src/buffer_tracker.rs's BufferTracker/Interval merge
// algorithm.
type BufferTracker struct {
	intervals []interval
}

// NewBufferTracker returns an empty tracker.
func NewBufferTracker() *BufferTracker {
	return &BufferTracker{}
}

// MarkReceived records that the byte range [from, to) has arrived, more
// indicating whether further fragments are expected after this one. It
// returns true once the whole message — a single interval starting at 0
// and including the final fragment — has been received.
func (bt *BufferTracker) MarkReceived(from, to int, more bool) bool {
	merged := interval{start: from, end: to, last: !more}
	var kept []interval
	for _, iv := range bt.intervals {
		if iv.end < merged.start || iv.start > merged.end {
			kept = append(kept, iv)
			continue
		}
		if iv.start < merged.start {
			merged.start = iv.start
		}
		if iv.end > merged.end {
			merged.end = iv.end
		}
		merged.last = merged.last || iv.last
	}
	kept = append(kept, merged)
	bt.intervals = kept

	return bt.isWholeReceived()
}

func (bt *BufferTracker) isWholeReceived() bool {
	if len(bt.intervals) != 1 {
		return false
	}
	iv := bt.intervals[0]
	return iv.start == 0 && iv.last
}
