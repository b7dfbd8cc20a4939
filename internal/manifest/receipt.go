package manifest

import (
	"fmt"

	"shardvault/internal/codec"
	"shardvault/internal/digest"
	"shardvault/internal/erasure"
)

// Receipt is the market-facing record of a successful write.
type Receipt struct {
	ManifestHash digest.Hash        `cbor:"manifest_hash" json:"manifest_hash"`
	ChunkCount   uint64             `cbor:"chunk_count" json:"chunk_count"`
	Redundancy   erasure.Redundancy `cbor:"redundancy" json:"redundancy"`
	Lane         string             `cbor:"lane" json:"lane"`
}

// NewReceipt issues the receipt for a finalized manifest written under lane.
func NewReceipt(m *Manifest, lane string) Receipt {
	return Receipt{
		ManifestHash: m.Hash,
		ChunkCount:   uint64(m.ChunkCount()),
		Redundancy:   m.Redundancy,
		Lane:         lane,
	}
}

func (r Receipt) Encode() ([]byte, error) {
	return codec.Marshal(r)
}

// DecodeReceipt parses persisted receipt bytes.
func DecodeReceipt(data []byte) (Receipt, error) {
	var r Receipt
	if err := codec.Unmarshal(data, &r); err != nil {
		return Receipt{}, fmt.Errorf("%w: receipt: %v", ErrCorrupt, err)
	}
	return r, nil
}
