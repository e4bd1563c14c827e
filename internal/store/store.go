package store

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/alice2025ai/alice-ai-server/internal/model"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateName    = errors.New("duplicate agent name")
	ErrDuplicateSubject = errors.New("duplicate subject address")

	// Challenge consumption failures. They are distinguished here for
	// logging; the HTTP boundary collapses them into one client message.
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrChallengeExpired  = errors.New("challenge expired")
	ErrChallengeUsed     = errors.New("challenge already used")
	ErrChallengeMismatch = errors.New("challenge context mismatch")
)

type Store interface {
	AgentStore
	ChallengeStore
	TradeStore
	MappingStore
	SyncStore
	Close() error
}

type AgentStore interface {
	CreateAgent(ctx context.Context, agent *model.Agent) (int64, error)
	GetAgentByName(ctx context.Context, agentName string) (model.Agent, error)
	GetAgentByChatGroup(ctx context.Context, chatGroupID string) (model.Agent, error)
	GetAgentBySubject(ctx context.Context, chainType, subjectAddress string) (model.Agent, error)
	// ListAgents returns one page ordered by created_at descending, plus
	// the total agent count.
	ListAgents(ctx context.Context, page, pageSize int) ([]model.Agent, int64, error)
}

type ChallengeStore interface {
	CreateChallenge(ctx context.Context, c model.Challenge) error
	// ConsumeChallenge atomically marks the challenge consumed. Exactly
	// one concurrent caller succeeds; later callers get ErrChallengeUsed.
	// A rejected attempt (wrong context, expired) leaves the row intact.
	ConsumeChallenge(ctx context.Context, value, chatID, userAddress string) error
	DeleteExpiredChallenges(ctx context.Context, before time.Time) (int64, error)
}

type TradeStore interface {
	// ApplyBuy adds amount to the trader's ledger balance for the subject.
	ApplyBuy(ctx context.Context, trader, subject, chainType string, amount *big.Int) error
	// ApplySell subtracts amount and returns the remaining balance.
	// Selling against a missing row returns ErrNotFound.
	ApplySell(ctx context.Context, trader, subject, chainType string, amount *big.Int) (*big.Int, error)
	GetUserShares(ctx context.Context, trader, chainType string) ([]model.Trade, error)
}

type MappingStore interface {
	UpsertUserMapping(ctx context.Context, m model.UserMapping) error
	GetUserMapping(ctx context.Context, address, chainType string) (model.UserMapping, error)
	SetUserBanned(ctx context.Context, address, chainType string, banned bool) error
}

type SyncStore interface {
	GetSyncStatus(ctx context.Context, chainType string) (model.SyncStatus, error)
	UpsertSyncStatus(ctx context.Context, s model.SyncStatus) error
}
