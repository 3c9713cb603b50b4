package engine

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// signMusigPartial produces our MuSig2 partial signature and public
// nonce over msg, jointly keyed with the swapper's pubkey. Grounded on
// the teacher's musig2.go MuSig2Session: NewContext with known signers,
// a fresh session, remote nonce registration, then Sign. One-shot here
// (no session reuse across calls) since the engine signs each
// claim/refund message exactly once per swap (spec.md §4.F.3-4.4).
func signMusigPartial(ourKey *btcec.PrivateKey, swapperPubKey *btcec.PublicKey, swapperPubNonce [musig2.PubNonceSize]byte, msg [32]byte) (*musig2.PartialSignature, [musig2.PubNonceSize]byte, error) {
	var zeroNonce [musig2.PubNonceSize]byte

	signers := sortedSigners(ourKey.PubKey(), swapperPubKey)

	ctx, err := musig2.NewContext(ourKey, false, musig2.WithKnownSigners(signers))
	if err != nil {
		return nil, zeroNonce, fmt.Errorf("create musig2 context: %w", err)
	}

	session, err := ctx.NewSession()
	if err != nil {
		return nil, zeroNonce, fmt.Errorf("create musig2 session: %w", err)
	}

	if swapperPubNonce != zeroNonce {
		if _, err := session.RegisterPubNonce(swapperPubNonce); err != nil {
			return nil, zeroNonce, fmt.Errorf("register swapper nonce: %w", err)
		}
	}

	partialSig, err := session.Sign(chainhash.Hash(msg))
	if err != nil {
		return nil, zeroNonce, fmt.Errorf("sign: %w", err)
	}

	return partialSig, session.PublicNonce(), nil
}

func sortedSigners(a, b *btcec.PublicKey) []*btcec.PublicKey {
	if compressedLess(b.SerializeCompressed(), a.SerializeCompressed()) {
		return []*btcec.PublicKey{b, a}
	}
	return []*btcec.PublicKey{a, b}
}

func compressedLess(x, y []byte) bool {
	for i := range x {
		if x[i] != y[i] {
			return x[i] < y[i]
		}
	}
	return false
}
