// Package chain isolates per-blockchain variance: address formats,
// signature schemes, and the RPC mechanics of reading the shares ledger.
// Adding a chain means adding one Adapter implementation; the
// authorization pipeline never changes.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
)

var (
	ErrUnsupportedChain = errors.New("unsupported chain type")
	ErrChainUnreachable = errors.New("chain unreachable")
	ErrUnknownSubject   = errors.New("unknown subject")
)

// Trade is one share trade observed on chain.
type Trade struct {
	Trader  string
	Subject string
	IsBuy   bool
	Amount  *big.Int
}

// Cursor marks an ingestion position. Block is the coarse position;
// Metadata carries cursor detail for chains whose position is not a
// plain block number (Sui keeps its JSON event cursor there).
type Cursor struct {
	Block    uint64
	Metadata string
}

type Adapter interface {
	Name() string

	// VerifySignature reports whether signature was produced over message
	// by the holder of claimedAddress, per this chain's signature scheme.
	// Malformed input of any kind returns false, never a panic.
	VerifySignature(message, signature, claimedAddress string) bool

	// ShareBalance reads the user's live holding of the subject's shares.
	// Fails with ErrChainUnreachable on transport trouble and
	// ErrUnknownSubject when the subject has no share market.
	ShareBalance(ctx context.Context, userAddress, subjectAddress string) (*big.Int, error)

	// TradeEvents reads share trades after cur and returns them with the
	// advanced cursor. An unchanged cursor means nothing new.
	TradeEvents(ctx context.Context, cur Cursor) ([]Trade, Cursor, error)
}

// Registry holds the configured adapters keyed by chain type. It is
// built once at startup and read-only afterwards, so lookups need no
// locking.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Registry{adapters: m}
}

func (r *Registry) Lookup(chainType string) (Adapter, error) {
	a, ok := r.adapters[chainType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChain, chainType)
	}
	return a, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
