package storage

import (
	"context"

	"github.com/ipfs/go-cid"
)

// CAS stores packed containers keyed by the CIDv1 of their bytes.
//
// Contract:
// - Put is idempotent and returns cidutil.Sum(data).
// - Stored objects are immutable; a second Put of different bytes under an
//   existing CID fails with ErrImmutable.
// - Get returns ErrNotFound when the CID is absent and ErrCIDMismatch when
//   the stored bytes no longer hash to it.
// - An undefined CID is ErrInvalidCID.
type CAS interface {
	Put(ctx context.Context, data []byte) (cid.Cid, error)
	Get(ctx context.Context, id cid.Cid) ([]byte, error)
	Has(ctx context.Context, id cid.Cid) (bool, error)
}
