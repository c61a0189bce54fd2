package storage

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"

	"xdao.co/crx/cidutil"
)

// NamedCAS pairs a backend with the name used in logs and PutAll results.
type NamedCAS struct {
	Name string
	CAS  CAS
}

// Replicating publishes to every backend and reads from the first backend
// that has the object. Backend order is fixed by the caller.
type Replicating struct {
	Backends []NamedCAS
}

var _ CAS = Replicating{}

// PutAll writes data to all backends and returns the CID each reported.
// Any backend reporting a CID other than cidutil.Sum(data) fails the call
// with ErrCIDMismatch.
func (r Replicating) PutAll(ctx context.Context, data []byte) (cid.Cid, map[string]cid.Cid, error) {
	want, err := cidutil.Sum(data)
	if err != nil {
		return cid.Undef, nil, err
	}
	if len(r.Backends) == 0 {
		return cid.Undef, nil, ErrNoBackends
	}

	out := make(map[string]cid.Cid, len(r.Backends))
	for _, b := range r.Backends {
		if b.CAS == nil {
			return cid.Undef, nil, fmt.Errorf("storage: nil CAS for backend %q", b.Name)
		}
		got, err := b.CAS.Put(ctx, data)
		if err != nil {
			return cid.Undef, out, fmt.Errorf("storage: put to %s: %w", b.Name, err)
		}
		out[b.Name] = got
		if !got.Equals(want) {
			return cid.Undef, out, ErrCIDMismatch
		}
	}
	return want, out, nil
}

func (r Replicating) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	id, _, err := r.PutAll(ctx, data)
	return id, err
}

// Get tries backends in order. ErrNotFound from one backend moves on to the
// next; any other error stops the search.
func (r Replicating) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, ErrInvalidCID
	}
	if len(r.Backends) == 0 {
		return nil, ErrNoBackends
	}
	for _, b := range r.Backends {
		if b.CAS == nil {
			continue
		}
		out, err := b.CAS.Get(ctx, id)
		if err == nil {
			return out, nil
		}
		if IsNotFound(err) {
			continue
		}
		return nil, fmt.Errorf("storage: get from %s: %w", b.Name, err)
	}
	return nil, ErrNotFound
}

func (r Replicating) Has(ctx context.Context, id cid.Cid) (bool, error) {
	if !id.Defined() {
		return false, nil
	}
	for _, b := range r.Backends {
		if b.CAS == nil {
			continue
		}
		ok, err := b.CAS.Has(ctx, id)
		if err != nil {
			return false, fmt.Errorf("storage: has on %s: %w", b.Name, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
