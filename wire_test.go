package horstbeacon

import "testing"

func TestSignedBlockRoundTrip(t *testing.T) {
	ctx := testContext(t)
	rng := newStreamRNG([32]byte{11})
	sk, _, err := ctx.GenerateKeyPair(rng)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	msg := []byte("payload bytes")
	sig, err := ctx.Sign(msg, sk)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	block := &SignedBlock{
		SeqNo:     42,
		Piece:     msg,
		Signature: sig,
		Piggyback: []PiggybackEntry{{Key: []byte("0123456789abcdef"), Layer: 1}},
	}

	encoded := EncodeSignedBlock(block)
	decoded, err := DecodeSignedBlock(encoded, ctx.Params.N, ctx.Params.Tau)
	if err != nil {
		t.Fatalf("DecodeSignedBlock: %v", err)
	}

	if decoded.SeqNo != block.SeqNo {
		t.Fatalf("SeqNo mismatch: got %d want %d", decoded.SeqNo, block.SeqNo)
	}
	if string(decoded.Piece) != string(block.Piece) {
		t.Fatalf("Piece mismatch")
	}
	if len(decoded.Signature.Pairs) != len(block.Signature.Pairs) {
		t.Fatalf("pair count mismatch")
	}
	if len(decoded.Piggyback) != 1 || decoded.Piggyback[0].Layer != 1 {
		t.Fatalf("piggyback mismatch: %+v", decoded.Piggyback)
	}

	ok, err := ctx.Verify(decoded.Piece, decoded.Signature, &PublicKey{Key: sk.Tree.Root()})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatalf("round-tripped signature failed to verify")
	}
}

func TestFormatVerdictLine(t *testing.T) {
	r := VerifyResult{
		Payload:  []byte("hello"),
		SeqNo:    7,
		Verdict:  Authenticated,
		Petnames: []string{"alice"},
	}
	line := FormatVerdictLine(r)
	want := "7;verified;alice;5;"
	if len(line) < len(want) || line[:len(want)] != want {
		t.Fatalf("FormatVerdictLine = %q, want prefix %q", line, want)
	}
}

func TestFormatVerdictLineUnverifiedHasNoPetnames(t *testing.T) {
	r := VerifyResult{Payload: []byte("x"), SeqNo: 0, Verdict: Unverified}
	line := FormatVerdictLine(r)
	if got := "0;unverified;;1;"; line[:len(got)] != got {
		t.Fatalf("FormatVerdictLine = %q, want prefix %q", line, got)
	}
}
