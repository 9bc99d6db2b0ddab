// Package banks defines the retrieval capability each institution
// implements and the closed registry the pipeline dispatches through.
package banks

import (
	"context"
	"fmt"
	"sort"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/statement-relay/internal/domain"
)

// RetrievalInput is everything an adapter needs for one retrieval session.
type RetrievalInput struct {
	Account           string
	Password          string
	SecondaryPassword string

	// Identifier is the birth date (YYMMDD) for personal accounts or the
	// business registration number for corporate accounts.
	Identifier string

	PeriodStart civil.Date
	PeriodEnd   civil.Date

	// WorkDir exists before the call and belongs to this attempt only.
	WorkDir string
}

// Artifacts are the files an adapter produced inside its WorkDir.
type Artifacts struct {
	// RawPath is the statement exactly as the bank delivered it. Always set.
	RawPath string

	// UploadPath is an adapter-produced upload-format file. Empty when the
	// adapter leaves normalization to the pipeline.
	UploadPath string
}

// Adapter retrieves a statement from one institution. Each call runs a
// complete session and owns its own connection setup and teardown; on any
// failure it returns an error and no paths.
type Adapter interface {
	Retrieve(ctx context.Context, in RetrievalInput) (Artifacts, error)
}

// AdapterFunc lets a plain function satisfy Adapter.
type AdapterFunc func(ctx context.Context, in RetrievalInput) (Artifacts, error)

// Retrieve implements Adapter.
func (f AdapterFunc) Retrieve(ctx context.Context, in RetrievalInput) (Artifacts, error) {
	return f(ctx, in)
}

// Key identifies a registry entry.
type Key struct {
	BankCode    string
	AccountKind domain.AccountKind
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.BankCode, k.AccountKind)
}

// Entry binds an adapter to a key when building a Registry.
type Entry struct {
	Key     Key
	Adapter Adapter
}

// Registry maps (bank code, account kind) to an adapter. It is built once
// at startup and never modified afterwards, so lookups need no locking.
type Registry struct {
	adapters map[Key]Adapter
}

// NewRegistry builds a registry from entries. Panics on a duplicate key
// or a nil adapter, since both are programming errors in process wiring.
func NewRegistry(entries ...Entry) *Registry {
	r := &Registry{adapters: make(map[Key]Adapter, len(entries))}
	for _, e := range entries {
		if e.Adapter == nil {
			panic("banks: nil adapter for " + e.Key.String())
		}
		if _, ok := r.adapters[e.Key]; ok {
			panic("banks: duplicate adapter for " + e.Key.String())
		}
		r.adapters[e.Key] = e.Adapter
	}
	return r
}

// Resolve returns the adapter registered for bankCode and kind.
func (r *Registry) Resolve(bankCode string, kind domain.AccountKind) (Adapter, error) {
	key := Key{BankCode: bankCode, AccountKind: kind}
	a, ok := r.adapters[key]
	if !ok {
		return nil, &UnsupportedBankError{Key: key}
	}
	return a, nil
}

// Keys lists the registered keys in a stable order.
func (r *Registry) Keys() []Key {
	keys := make([]Key, 0, len(r.adapters))
	for k := range r.adapters {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
