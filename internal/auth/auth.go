// Package auth implements the share-gated authorization flow: issue a
// signing challenge, then verify a signed challenge, check the signer's
// live share balance, and unmute them in the agent's chat on success.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/alice2025ai/alice-ai-server/internal/chain"
	"github.com/alice2025ai/alice-ai-server/internal/model"
	"github.com/alice2025ai/alice-ai-server/internal/store"
)

var (
	ErrUnknownChat = errors.New("unknown chat")
	// ErrInvalidChallenge covers every challenge rejection: missing,
	// expired, replayed, or bound to a different chat or address. The
	// split reasons are logged server-side only, so a caller probing
	// with stolen challenges learns nothing from the response.
	ErrInvalidChallenge   = errors.New("invalid challenge")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrStaleChainData     = errors.New("chain data stale")
)

// Notifier delivers the chat-side effect of an authorization decision.
type Notifier interface {
	Unmute(ctx context.Context, botToken, chatGroupID, chatUserID string) error
	Mute(ctx context.Context, botToken, chatGroupID, chatUserID string) error
}

// SharePolicy decides whether a balance is enough to grant access.
type SharePolicy struct {
	MinShares *big.Int
}

func (p SharePolicy) Allows(balance *big.Int) bool {
	min := p.MinShares
	if min == nil || min.Sign() <= 0 {
		min = big.NewInt(1)
	}
	return balance.Cmp(min) >= 0
}

type Service struct {
	store        store.Store
	chains       *chain.Registry
	notifier     Notifier
	policy       SharePolicy
	challengeTTL time.Duration
	maxSyncLag   time.Duration
	logger       *slog.Logger
}

func NewService(st store.Store, chains *chain.Registry, notifier Notifier, policy SharePolicy, challengeTTL, maxSyncLag time.Duration, logger *slog.Logger) *Service {
	if challengeTTL <= 0 {
		challengeTTL = 5 * time.Minute
	}
	return &Service{
		store:        st,
		chains:       chains,
		notifier:     notifier,
		policy:       policy,
		challengeTTL: challengeTTL,
		maxSyncLag:   maxSyncLag,
		logger:       logger,
	}
}

// IssueChallenge creates a single-use random challenge bound to the
// given chat and address. The chat must belong to a registered agent.
func (s *Service) IssueChallenge(ctx context.Context, chatID, userAddress string) (model.Challenge, error) {
	if _, err := s.store.GetAgentByChatGroup(ctx, chatID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Challenge{}, ErrUnknownChat
		}
		return model.Challenge{}, err
	}
	value, err := randomToken(32)
	if err != nil {
		return model.Challenge{}, err
	}
	c := model.Challenge{
		Value:       value,
		ChatID:      chatID,
		UserAddress: normalizeAddress(userAddress),
		ExpiresAt:   time.Now().Add(s.challengeTTL),
	}
	if err := s.store.CreateChallenge(ctx, c); err != nil {
		return model.Challenge{}, err
	}
	return c, nil
}

// VerifyRequest is one authorization attempt. ChainType is optional;
// when set it must match the chain the chat's agent is registered on.
type VerifyRequest struct {
	ChatID      string
	ChatUserID  string
	UserAddress string
	Challenge   string
	Signature   string
	ChainType   string
}

// VerifyResult reports a granted authorization.
type VerifyResult struct {
	Agent  model.Agent
	Shares *big.Int
}

// Verify runs the full authorization pipeline. The challenge is
// consumed before the signature is checked, so a failed attempt burns
// it; clients request a fresh one per attempt.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (VerifyResult, error) {
	agent, err := s.store.GetAgentByChatGroup(ctx, req.ChatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return VerifyResult{}, ErrUnknownChat
		}
		return VerifyResult{}, err
	}
	if req.ChainType != "" && req.ChainType != agent.ChainType {
		return VerifyResult{}, fmt.Errorf("%w: %s", chain.ErrUnsupportedChain, req.ChainType)
	}

	userAddr := normalizeAddress(req.UserAddress)
	if err := s.store.ConsumeChallenge(ctx, req.Challenge, req.ChatID, userAddr); err != nil {
		switch {
		case errors.Is(err, store.ErrChallengeNotFound),
			errors.Is(err, store.ErrChallengeExpired),
			errors.Is(err, store.ErrChallengeUsed),
			errors.Is(err, store.ErrChallengeMismatch):
			s.logger.Warn("challenge rejected",
				"chat_id", req.ChatID, "user_address", userAddr, "reason", err)
			return VerifyResult{}, ErrInvalidChallenge
		}
		return VerifyResult{}, err
	}

	adapter, err := s.chains.Lookup(agent.ChainType)
	if err != nil {
		return VerifyResult{}, err
	}
	if !adapter.VerifySignature(req.Challenge, req.Signature, req.UserAddress) {
		return VerifyResult{}, ErrInvalidSignature
	}

	if err := s.checkFreshness(ctx, agent.ChainType); err != nil {
		return VerifyResult{}, err
	}

	balance, err := s.shareBalance(ctx, adapter, userAddr, agent.SubjectAddress)
	if err != nil {
		return VerifyResult{}, err
	}
	if !s.policy.Allows(balance) {
		return VerifyResult{}, fmt.Errorf("%w: have %s", ErrInsufficientShares, balance)
	}

	if err := s.store.UpsertUserMapping(ctx, model.UserMapping{
		Address:    userAddr,
		ChainType:  agent.ChainType,
		ChatUserID: req.ChatUserID,
	}); err != nil {
		return VerifyResult{}, err
	}

	// A granted decision stands even if delivery to the chat fails; the
	// ingestion loop or a retried verify will unmute later.
	if err := s.notifier.Unmute(ctx, agent.BotToken, agent.ChatGroupID, req.ChatUserID); err != nil {
		s.logger.Error("unmute failed",
			"agent", agent.AgentName, "chat_user_id", req.ChatUserID, "error", err)
	}

	return VerifyResult{Agent: agent, Shares: balance}, nil
}

// checkFreshness rejects authorization when the chain's ingestion has
// stalled past the configured lag. No sync row means ingestion has not
// started for this chain, which is not treated as stale. Zero lag
// disables the gate.
func (s *Service) checkFreshness(ctx context.Context, chainType string) error {
	if s.maxSyncLag <= 0 {
		return nil
	}
	status, err := s.store.GetSyncStatus(ctx, chainType)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if time.Since(status.UpdatedAt) > s.maxSyncLag {
		return fmt.Errorf("%w: %s last synced %s ago", ErrStaleChainData, chainType,
			time.Since(status.UpdatedAt).Round(time.Second))
	}
	return nil
}

// shareBalance reads the live balance with one retry on transient chain
// failure.
func (s *Service) shareBalance(ctx context.Context, adapter chain.Adapter, userAddr, subjectAddr string) (*big.Int, error) {
	balance, err := adapter.ShareBalance(ctx, userAddr, subjectAddr)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, chain.ErrChainUnreachable) {
		return nil, err
	}
	s.logger.Warn("balance lookup failed, retrying", "chain", adapter.Name(), "error", err)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(500 * time.Millisecond):
	}
	return adapter.ShareBalance(ctx, userAddr, subjectAddr)
}

// CleanupExpiredChallenges removes challenges past their expiry. It is
// run periodically by the server.
func (s *Service) CleanupExpiredChallenges(ctx context.Context) error {
	n, err := s.store.DeleteExpiredChallenges(ctx, time.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Debug("expired challenges removed", "count", n)
	}
	return nil
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(addr), "0x"))
}
