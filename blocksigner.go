package horstbeacon

// BlockSigner is component D: split a payload into pieces, sign each with
// the layered key store, assemble piggybacked public keys, emit signed
// blocks. Grounded on original_source/src/block_signer.rs's
// BlockSignerTrait::sign control flow (poll keystore, sign, sanity-check
// verify, persist, return).
type BlockSigner struct {
	ctx       *Context
	store     *LayeredKeyStore
	container *Container
}

// NewBlockSigner loads persisted state from statePath if present, or
// seeds a fresh LayeredKeyStore from seed otherwise.
func NewBlockSigner(ctx *Context, statePath string, seed [rngStateSize]byte) (*BlockSigner, error) {
	container, err := OpenContainer(statePath)
	if err != nil {
		return nil, err
	}

	store, err := container.Load(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		rng := newStreamRNG(seed)
		store, err = NewLayeredKeyStore(ctx, rng)
		if err != nil {
			return nil, err
		}
		if err := container.Save(rng, store); err != nil {
			return nil, err
		}
	}

	return &BlockSigner{ctx: ctx, store: store, container: container}, nil
}

// Close releases the container's lock.
func (bs *BlockSigner) Close() error { return bs.container.Close() }

func splitPayload(payload []byte, maxPieceSize int) [][]byte {
	if len(payload) == 0 {
		return [][]byte{{}}
	}
	var pieces [][]byte
	for offset := 0; offset < len(payload); offset += maxPieceSize {
		end := offset + maxPieceSize
		if end > len(payload) {
			end = len(payload)
		}
		pieces = append(pieces, payload[offset:end])
	}
	return pieces
}

// Sign splits payload into pieces of at most Context.Params.MaxPieceSize
// bytes and signs each, per spec.md §4.D. The invariant that the first
// piggybacked public key matches the signing key is maintained by
// LayeredKeyStore.Poll and relied on by verifiers.
func (bs *BlockSigner) Sign(payload []byte) ([]*SignedBlock, error) {
	pieces := splitPayload(payload, bs.ctx.Params.MaxPieceSize)
	blocks := make([]*SignedBlock, 0, len(pieces))

	for _, piece := range pieces {
		layer := bs.store.NextKey()
		sk, pk, piggyback, err := bs.store.Poll(layer)
		if err != nil {
			return nil, err
		}

		sig, err := bs.ctx.Sign(piece, sk)
		if err != nil {
			return nil, err
		}

		ok, verr := bs.ctx.Verify(piece, sig, pk)
		if verr != nil || !ok {
			return nil, errKindf(SignatureShapeError, "sanity-check verify failed immediately after signing")
		}

		seq := bs.store.AllocateSeqNo()
		block := &SignedBlock{SeqNo: seq, Piece: piece, Signature: sig, Piggyback: piggyback}

		if saveErr := bs.container.Save(nil, bs.store); saveErr != nil {
			// Runtime StateIoError policy (spec.md §7): log and continue;
			// the next successful write restores durability.
			log.Logf("horstbeacon: failed to persist keystore state after seq %d: %v", seq, saveErr)
		}

		blocks = append(blocks, block)
	}

	return blocks, nil
}
