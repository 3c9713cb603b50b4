package engine

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// extractPreimageFromWitness parses a raw claim transaction's witness
// stack and returns the 32-byte preimage element, used to recover the
// payment hash commitment when the swapper claims unilaterally (spec.md
// §4.F.1 event 3). The HTLC claim witness carries the preimage as the
// first stack element exactly 32 bytes long.
func extractPreimageFromWitness(txHex string) ([]byte, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, fmt.Errorf("decode tx hex: %w", err)
	}

	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("deserialize tx: %w", err)
	}

	for _, in := range tx.TxIn {
		for _, elem := range in.Witness {
			if len(elem) == 32 {
				return elem, nil
			}
		}
	}

	return nil, fmt.Errorf("no 32-byte witness element found")
}
