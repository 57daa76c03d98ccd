package horstbeacon

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"
)

// KeyContainer is one live keypair inside a Layer, per spec.md §3.
type KeyContainer struct {
	SK            *SecretKey
	PK            *PublicKey
	SignsUsed     uint32
	Lifetime      uint32 // remaining charges, starts at KeyCharges
	CertCount     uint32
	LastCertified int64 // unix milliseconds
	Layer         uint32
}

// Layer is an ordered sequence of live keypair containers, length exactly
// the certificate window. retiring holds a container evicted from the
// front on the previous Poll call; it is destroyed at the start of the
// next Poll for this layer, once the single-threaded caller is guaranteed
// to have finished signing with it (spec.md §5).
type Layer struct {
	Containers []*KeyContainer
	retiring   *KeyContainer
}

// signingSlot returns the index of the middle element, the signing slot.
func (l *Layer) signingSlot() int { return len(l.Containers) / 2 }

// PiggybackEntry is one entry of a signed block's piggyback list: a
// public key tagged with its layer.
type PiggybackEntry struct {
	Key   []byte
	Layer uint32
}

// LayeredKeyStore is the sender-side structure from spec.md §4.C: L
// layers of live keypairs, per-layer scheduling state, and the outbound
// monotonic sequence counter.
type LayeredKeyStore struct {
	ctx    *Context
	rng    *streamRNG
	Layers []*Layer

	// ReadyAt[l] is the smallest NextSeq at which layer l may next be
	// sampled.
	ReadyAt []uint64

	// NextSeq is the monotonic outbound sequence counter.
	NextSeq uint64

	// cachedPKs mirrors the most recently assembled piggyback list, for
	// persistence, per spec.md §4.C ("the cached public-key list").
	cachedPKs []PiggybackEntry
}

// NewLayeredKeyStore pre-fills every layer with a fresh certificate
// window of keypairs, per spec.md §4.C.
func NewLayeredKeyStore(ctx *Context, rng *streamRNG) (*LayeredKeyStore, error) {
	s := &LayeredKeyStore{
		ctx:     ctx,
		rng:     rng,
		Layers:  make([]*Layer, ctx.Params.L()),
		ReadyAt: make([]uint64, ctx.Params.L()),
	}

	window := int(ctx.CertWindow)
	for l := 0; l < ctx.Params.L(); l++ {
		containers := make([]*KeyContainer, window)
		for i := 0; i < window; i++ {
			sk, pk, err := ctx.GenerateKeyPair(rng)
			if err != nil {
				return nil, err
			}
			containers[i] = &KeyContainer{SK: sk, PK: pk, Lifetime: ctx.Params.KeyCharges, Layer: uint32(l)}
		}
		s.Layers[l] = &Layer{Containers: containers}
	}
	return s, nil
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// randFloat64 draws a uniform float64 in [0,1) from the keystore's RNG.
func (s *LayeredKeyStore) randFloat64() float64 {
	var buf [8]byte
	_, _ = io.ReadFull(s.rng, buf[:])
	v := binary.BigEndian.Uint64(buf[:])
	return float64(v>>11) / float64(uint64(1)<<53)
}

// sampleLayer draws a layer index from the discrete distribution probs.
func (s *LayeredKeyStore) sampleLayer() int {
	r := s.randFloat64()
	var cumulative float64
	for i, p := range s.ctx.Probs {
		cumulative += p
		if r < cumulative {
			return i
		}
	}
	return len(s.ctx.Probs) - 1
}

// NextKey samples an eligible signing layer, per spec.md §4.C. The first
// signature ever always uses layer 0, regardless of sample.
func (s *LayeredKeyStore) NextKey() int {
	if s.NextSeq == 0 {
		return 0
	}
	const maxAttempts = 64
	for attempt := 0; attempt < maxAttempts; attempt++ {
		l := s.sampleLayer()
		if s.ReadyAt[l] <= s.NextSeq {
			return l
		}
	}
	return 0
}

// Poll produces the signing key and the piggyback list for layerIdx, per
// spec.md §4.C.
func (s *LayeredKeyStore) Poll(layerIdx int) (*SecretKey, *PublicKey, []PiggybackEntry, error) {
	layer := s.Layers[layerIdx]

	if layer.retiring != nil {
		layer.retiring.SK.Destroy()
		layer.retiring = nil
	}

	slot := layer.signingSlot()
	cont := layer.Containers[slot]

	cont.Lifetime--
	cont.SignsUsed++
	cont.LastCertified = nowMillis()

	rate := s.ctx.AvgSignRate[layerIdx]
	if rate == 0 {
		s.ReadyAt[layerIdx] = s.NextSeq
	} else {
		readyAt := int64(s.NextSeq) - 1 + int64(rate)
		if readyAt < 0 {
			readyAt = 0
		}
		s.ReadyAt[layerIdx] = uint64(readyAt)
	}

	piggyback := make([]PiggybackEntry, 0, 1+int(s.ctx.CertWindow)*s.ctx.Params.L())
	piggyback = append(piggyback, PiggybackEntry{Key: cont.PK.Key, Layer: uint32(layerIdx)})
	for l, lyr := range s.Layers {
		for i, c := range lyr.Containers {
			if l == layerIdx && i == slot {
				continue
			}
			piggyback = append(piggyback, PiggybackEntry{Key: c.PK.Key, Layer: uint32(l)})
			c.CertCount++
		}
	}
	s.cachedPKs = piggyback

	signingSK, signingPK := cont.SK, cont.PK

	if cont.Lifetime == 0 {
		evicted := layer.Containers[0]
		layer.Containers = layer.Containers[1:]
		newSK, newPK, err := s.ctx.GenerateKeyPair(s.rng)
		if err != nil {
			return nil, nil, nil, err
		}
		layer.Containers = append(layer.Containers, &KeyContainer{
			SK: newSK, PK: newPK, Lifetime: s.ctx.Params.KeyCharges, Layer: uint32(layerIdx),
		})
		layer.retiring = evicted
	}

	return signingSK, signingPK, piggyback, nil
}

// AllocateSeqNo returns the next outbound sequence number and advances
// the monotonic counter.
func (s *LayeredKeyStore) AllocateSeqNo() uint64 {
	seq := s.NextSeq
	s.NextSeq++
	return seq
}

// --- persistence: layers/pks section encoding, spec.md §6 and SPEC_FULL.md §13.2 ---

// EncodeLayers serializes all layers into the self-describing layout this
// implementation uses for the state file's "layers" section.
func (s *LayeredKeyStore) EncodeLayers() []byte {
	var buf bytes.Buffer
	writeU32(&buf, uint32(len(s.Layers)))
	for _, layer := range s.Layers {
		writeU32(&buf, uint32(len(layer.Containers)))
		for _, c := range layer.Containers {
			writeU32(&buf, c.Layer)
			writeU32(&buf, c.SignsUsed)
			writeU32(&buf, c.Lifetime)
			writeU32(&buf, c.CertCount)
			writeI64(&buf, c.LastCertified)
			writeU32(&buf, uint32(len(c.SK.Leaves)))
			for _, leaf := range c.SK.Leaves {
				buf.Write(leaf)
			}
			buf.Write(c.PK.Key)
		}
	}
	writeU64(&buf, s.NextSeq)
	writeU32(&buf, uint32(len(s.ReadyAt)))
	for _, r := range s.ReadyAt {
		writeU64(&buf, r)
	}
	return buf.Bytes()
}

// DecodeLayers restores layers/NextSeq/ReadyAt from the layout
// EncodeLayers produces. ctx must match the instance that wrote data.
func DecodeLayers(ctx *Context, data []byte) (*LayeredKeyStore, error) {
	r := bytes.NewReader(data)
	numLayers, err := readU32(r)
	if err != nil {
		return nil, wrapErrKindf(StateIoError, err, "reading layer count")
	}

	s := &LayeredKeyStore{ctx: ctx, Layers: make([]*Layer, numLayers)}
	for l := uint32(0); l < numLayers; l++ {
		windowLen, err := readU32(r)
		if err != nil {
			return nil, wrapErrKindf(StateIoError, err, "reading layer %d window length", l)
		}
		containers := make([]*KeyContainer, windowLen)
		for i := uint32(0); i < windowLen; i++ {
			c := &KeyContainer{}
			if c.Layer, err = readU32(r); err != nil {
				return nil, wrapErrKindf(StateIoError, err, "reading container layer tag")
			}
			if c.SignsUsed, err = readU32(r); err != nil {
				return nil, wrapErrKindf(StateIoError, err, "reading signs used")
			}
			if c.Lifetime, err = readU32(r); err != nil {
				return nil, wrapErrKindf(StateIoError, err, "reading lifetime")
			}
			if c.CertCount, err = readU32(r); err != nil {
				return nil, wrapErrKindf(StateIoError, err, "reading cert count")
			}
			if c.LastCertified, err = readI64(r); err != nil {
				return nil, wrapErrKindf(StateIoError, err, "reading last certified")
			}
			numLeaves, err := readU32(r)
			if err != nil {
				return nil, wrapErrKindf(StateIoError, err, "reading leaf count")
			}
			leaves := make([][]byte, numLeaves)
			for j := uint32(0); j < numLeaves; j++ {
				leaf := make([]byte, ctx.Params.N)
				if _, err := io.ReadFull(r, leaf); err != nil {
					return nil, wrapErrKindf(StateIoError, err, "reading secret leaf %d", j)
				}
				leaves[j] = leaf
			}
			pub := make([]byte, ctx.Params.N)
			if _, err := io.ReadFull(r, pub); err != nil {
				return nil, wrapErrKindf(StateIoError, err, "reading public key")
			}
			pubLeaves := make([][]byte, numLeaves)
			for j, leaf := range leaves {
				pubLeaves[j] = ctx.hSk(leaf)
			}
			tree, err := BuildMerkleTree(pubLeaves, ctx.hTree)
			if err != nil {
				return nil, err
			}
			c.SK = &SecretKey{Leaves: leaves, Tree: tree}
			c.PK = &PublicKey{Key: pub}
			containers[i] = c
		}
		s.Layers[l] = &Layer{Containers: containers}
	}

	if s.NextSeq, err = readU64(r); err != nil {
		return nil, wrapErrKindf(StateIoError, err, "reading next seq")
	}
	numReady, err := readU32(r)
	if err != nil {
		return nil, wrapErrKindf(StateIoError, err, "reading ready-at count")
	}
	s.ReadyAt = make([]uint64, numReady)
	for i := range s.ReadyAt {
		if s.ReadyAt[i], err = readU64(r); err != nil {
			return nil, wrapErrKindf(StateIoError, err, "reading ready-at[%d]", i)
		}
	}
	return s, nil
}

// EncodePKs serializes the cached piggyback list for the state file's
// "pks" section.
func (s *LayeredKeyStore) EncodePKs() []byte {
	var buf bytes.Buffer
	writeU32(&buf, uint32(len(s.cachedPKs)))
	for _, e := range s.cachedPKs {
		writeU32(&buf, e.Layer)
		buf.Write(e.Key)
	}
	return buf.Bytes()
}

// DecodePKs restores the cached piggyback list into s.
func (s *LayeredKeyStore) DecodePKs(n int, data []byte) error {
	r := bytes.NewReader(data)
	count, err := readU32(r)
	if err != nil {
		return wrapErrKindf(StateIoError, err, "reading pks count")
	}
	entries := make([]PiggybackEntry, count)
	for i := range entries {
		layer, err := readU32(r)
		if err != nil {
			return wrapErrKindf(StateIoError, err, "reading pks[%d] layer", i)
		}
		key := make([]byte, n)
		if _, err := io.ReadFull(r, key); err != nil {
			return wrapErrKindf(StateIoError, err, "reading pks[%d] key", i)
		}
		entries[i] = PiggybackEntry{Key: key, Layer: layer}
	}
	s.cachedPKs = entries
	return nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeI64(buf *bytes.Buffer, v int64) { writeU64(buf, uint64(v)) }

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readI64(r *bytes.Reader) (int64, error) {
	v, err := readU64(r)
	return int64(v), err
}
