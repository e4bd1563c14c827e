package model

import (
	"math/big"
	"time"
)

// Agent is a registered chat bot bound to one on-chain subject. The
// subject's shareholders are the only users allowed to post in the
// agent's chat group.
type Agent struct {
	ID             int64
	AgentName      string
	ChainType      string
	SubjectAddress string
	BotToken       string
	ChatGroupID    string
	InviteURL      string
	Bio            string
	CreatedAt      time.Time
}

// Challenge is a single-use random value a client signs to prove control
// of an address. It is bound to the (chat, user) pair it was issued for.
type Challenge struct {
	Value       string
	ChatID      string
	UserAddress string
	ExpiresAt   time.Time
}

// ShareBalance is a live on-chain holding, fetched per authorization
// attempt and never persisted.
type ShareBalance struct {
	UserAddress    string
	SubjectAddress string
	ChainType      string
	Shares         *big.Int
}

// Trade is a row of the local shares ledger maintained by ingestion.
type Trade struct {
	Trader      string
	Subject     string
	ChainType   string
	ShareAmount *big.Int
}

// UserMapping links a verified wallet address to the chat identity that
// proved ownership of it.
type UserMapping struct {
	Address    string
	ChainType  string
	ChatUserID string
	IsBanned   bool
}

// SyncStatus records how far ingestion has read each chain. Metadata
// holds chain-specific cursor detail (Sui stores its full event cursor
// as JSON there).
type SyncStatus struct {
	ChainType       string
	LastSyncedBlock uint64
	Metadata        string
	UpdatedAt       time.Time
}
