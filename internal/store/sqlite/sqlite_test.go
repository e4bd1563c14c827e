package sqlite

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/alice2025ai/alice-ai-server/internal/model"
	"github.com/alice2025ai/alice-ai-server/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return st
}

func testAgent(name string) *model.Agent {
	return &model.Agent{
		AgentName:      name,
		ChainType:      "monad",
		SubjectAddress: "subject-" + name,
		BotToken:       "token-" + name,
		ChatGroupID:    "chat-" + name,
		InviteURL:      "https://t.me/" + name,
		Bio:            "bio for " + name,
		CreatedAt:      time.Now(),
	}
}

func TestAgentLifecycle(t *testing.T) {
	st := newTestStore(t)
	defer st.Close()
	ctx := context.Background()

	agent := testAgent("alice")
	id, err := st.CreateAgent(ctx, agent)
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected non-zero id")
	}

	byName, err := st.GetAgentByName(ctx, "alice")
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	if byName.SubjectAddress != agent.SubjectAddress {
		t.Fatalf("unexpected subject: %s", byName.SubjectAddress)
	}

	byChat, err := st.GetAgentByChatGroup(ctx, agent.ChatGroupID)
	if err != nil {
		t.Fatalf("get by chat group: %v", err)
	}
	if byChat.AgentName != "alice" {
		t.Fatalf("unexpected agent: %s", byChat.AgentName)
	}

	bySubject, err := st.GetAgentBySubject(ctx, "monad", agent.SubjectAddress)
	if err != nil {
		t.Fatalf("get by subject: %v", err)
	}
	if bySubject.ID != id {
		t.Fatalf("expected id %d, got %d", id, bySubject.ID)
	}

	if _, err := st.GetAgentByName(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDuplicateAgentName(t *testing.T) {
	st := newTestStore(t)
	defer st.Close()
	ctx := context.Background()

	if _, err := st.CreateAgent(ctx, testAgent("dup")); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	again := testAgent("dup")
	again.SubjectAddress = "another-subject"
	if _, err := st.CreateAgent(ctx, again); !errors.Is(err, store.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestDuplicateSubjectPerChain(t *testing.T) {
	st := newTestStore(t)
	defer st.Close()
	ctx := context.Background()

	first := testAgent("one")
	first.SubjectAddress = "shared-subject"
	if _, err := st.CreateAgent(ctx, first); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	second := testAgent("two")
	second.SubjectAddress = "shared-subject"
	if _, err := st.CreateAgent(ctx, second); !errors.Is(err, store.ErrDuplicateSubject) {
		t.Fatalf("expected ErrDuplicateSubject, got %v", err)
	}

	// The same subject on a different chain is a different market.
	third := testAgent("three")
	third.SubjectAddress = "shared-subject"
	third.ChainType = "sui"
	if _, err := st.CreateAgent(ctx, third); err != nil {
		t.Fatalf("create agent on second chain: %v", err)
	}
}

func TestListAgentsPagination(t *testing.T) {
	st := newTestStore(t)
	defer st.Close()
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 15; i++ {
		a := testAgent(fmt.Sprintf("agent-%02d", i))
		a.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if _, err := st.CreateAgent(ctx, a); err != nil {
			t.Fatalf("create agent %d: %v", i, err)
		}
	}

	page1, total, err := st.ListAgents(ctx, 1, 10)
	if err != nil {
		t.Fatalf("list page 1: %v", err)
	}
	if total != 15 {
		t.Fatalf("expected total 15, got %d", total)
	}
	if len(page1) != 10 {
		t.Fatalf("expected 10 agents, got %d", len(page1))
	}
	if page1[0].AgentName != "agent-14" {
		t.Fatalf("expected newest first, got %s", page1[0].AgentName)
	}

	page2, _, err := st.ListAgents(ctx, 2, 10)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page2) != 5 {
		t.Fatalf("expected 5 agents on page 2, got %d", len(page2))
	}
	if page2[len(page2)-1].AgentName != "agent-00" {
		t.Fatalf("expected oldest last, got %s", page2[len(page2)-1].AgentName)
	}
}

func TestChallengeConsumeOnce(t *testing.T) {
	st := newTestStore(t)
	defer st.Close()
	ctx := context.Background()

	c := model.Challenge{
		Value:       "challenge-1",
		ChatID:      "chat-1",
		UserAddress: "addr-1",
		ExpiresAt:   time.Now().Add(time.Minute),
	}
	if err := st.CreateChallenge(ctx, c); err != nil {
		t.Fatalf("create challenge: %v", err)
	}

	if err := st.ConsumeChallenge(ctx, c.Value, c.ChatID, c.UserAddress); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := st.ConsumeChallenge(ctx, c.Value, c.ChatID, c.UserAddress); !errors.Is(err, store.ErrChallengeUsed) {
		t.Fatalf("expected ErrChallengeUsed, got %v", err)
	}
}

func TestChallengeRejections(t *testing.T) {
	st := newTestStore(t)
	defer st.Close()
	ctx := context.Background()

	if err := st.ConsumeChallenge(ctx, "missing", "chat", "addr"); !errors.Is(err, store.ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}

	expired := model.Challenge{
		Value:       "expired",
		ChatID:      "chat",
		UserAddress: "addr",
		ExpiresAt:   time.Now().Add(-time.Minute),
	}
	if err := st.CreateChallenge(ctx, expired); err != nil {
		t.Fatalf("create challenge: %v", err)
	}
	if err := st.ConsumeChallenge(ctx, "expired", "chat", "addr"); !errors.Is(err, store.ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}

	fresh := model.Challenge{
		Value:       "fresh",
		ChatID:      "chat",
		UserAddress: "addr",
		ExpiresAt:   time.Now().Add(time.Minute),
	}
	if err := st.CreateChallenge(ctx, fresh); err != nil {
		t.Fatalf("create challenge: %v", err)
	}
	if err := st.ConsumeChallenge(ctx, "fresh", "other-chat", "addr"); !errors.Is(err, store.ErrChallengeMismatch) {
		t.Fatalf("expected mismatch on chat, got %v", err)
	}
	if err := st.ConsumeChallenge(ctx, "fresh", "chat", "other-addr"); !errors.Is(err, store.ErrChallengeMismatch) {
		t.Fatalf("expected mismatch on address, got %v", err)
	}

	// A rejected attempt leaves the challenge consumable.
	if err := st.ConsumeChallenge(ctx, "fresh", "chat", "ADDR"); err != nil {
		t.Fatalf("expected case-insensitive address match, got %v", err)
	}
}

func TestChallengeConsumeRace(t *testing.T) {
	st := newTestStore(t)
	defer st.Close()
	ctx := context.Background()

	c := model.Challenge{
		Value:       "raced",
		ChatID:      "chat",
		UserAddress: "addr",
		ExpiresAt:   time.Now().Add(time.Minute),
	}
	if err := st.CreateChallenge(ctx, c); err != nil {
		t.Fatalf("create challenge: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- st.ConsumeChallenge(ctx, "raced", "chat", "addr")
		}()
	}
	wg.Wait()
	close(results)

	var wins int
	for err := range results {
		if err == nil {
			wins++
		} else if !errors.Is(err, store.ErrChallengeUsed) {
			t.Fatalf("unexpected race error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestDeleteExpiredChallenges(t *testing.T) {
	st := newTestStore(t)
	defer st.Close()
	ctx := context.Background()

	old := model.Challenge{Value: "old", ChatID: "c", UserAddress: "a", ExpiresAt: time.Now().Add(-time.Hour)}
	live := model.Challenge{Value: "live", ChatID: "c", UserAddress: "a", ExpiresAt: time.Now().Add(time.Hour)}
	for _, c := range []model.Challenge{old, live} {
		if err := st.CreateChallenge(ctx, c); err != nil {
			t.Fatalf("create challenge: %v", err)
		}
	}

	n, err := st.DeleteExpiredChallenges(ctx, time.Now())
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}
	if err := st.ConsumeChallenge(ctx, "live", "c", "a"); err != nil {
		t.Fatalf("live challenge should survive: %v", err)
	}
}

func TestTradeLedger(t *testing.T) {
	st := newTestStore(t)
	defer st.Close()
	ctx := context.Background()

	if err := st.ApplyBuy(ctx, "trader", "subject", "monad", big.NewInt(3)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if err := st.ApplyBuy(ctx, "trader", "subject", "monad", big.NewInt(2)); err != nil {
		t.Fatalf("second buy: %v", err)
	}

	remaining, err := st.ApplySell(ctx, "trader", "subject", "monad", big.NewInt(4))
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if remaining.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("expected 1 remaining, got %s", remaining)
	}

	// Overselling clamps at zero rather than going negative.
	remaining, err = st.ApplySell(ctx, "trader", "subject", "monad", big.NewInt(100))
	if err != nil {
		t.Fatalf("oversell: %v", err)
	}
	if remaining.Sign() != 0 {
		t.Fatalf("expected 0 remaining, got %s", remaining)
	}

	if _, err := st.ApplySell(ctx, "stranger", "subject", "monad", big.NewInt(1)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown seller, got %v", err)
	}

	holdings, err := st.GetUserShares(ctx, "trader", "monad")
	if err != nil {
		t.Fatalf("get shares: %v", err)
	}
	if len(holdings) != 1 || holdings[0].ShareAmount.Sign() != 0 {
		t.Fatalf("unexpected holdings: %+v", holdings)
	}
}

func TestTradeLedgerBigAmounts(t *testing.T) {
	st := newTestStore(t)
	defer st.Close()
	ctx := context.Background()

	huge, _ := new(big.Int).SetString("340282366920938463463374607431768211456", 10)
	if err := st.ApplyBuy(ctx, "whale", "subject", "monad", huge); err != nil {
		t.Fatalf("buy: %v", err)
	}
	holdings, err := st.GetUserShares(ctx, "whale", "monad")
	if err != nil {
		t.Fatalf("get shares: %v", err)
	}
	if holdings[0].ShareAmount.Cmp(huge) != 0 {
		t.Fatalf("big amount mangled: %s", holdings[0].ShareAmount)
	}
}

func TestUserMappings(t *testing.T) {
	st := newTestStore(t)
	defer st.Close()
	ctx := context.Background()

	m := model.UserMapping{Address: "addr", ChainType: "monad", ChatUserID: "42"}
	if err := st.UpsertUserMapping(ctx, m); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := st.GetUserMapping(ctx, "addr", "monad")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ChatUserID != "42" || got.IsBanned {
		t.Fatalf("unexpected mapping: %+v", got)
	}

	if err := st.SetUserBanned(ctx, "addr", "monad", true); err != nil {
		t.Fatalf("ban: %v", err)
	}
	got, _ = st.GetUserMapping(ctx, "addr", "monad")
	if !got.IsBanned {
		t.Fatalf("expected banned")
	}

	// Re-verifying updates the chat identity and clears the ban flag.
	m.ChatUserID = "43"
	if err := st.UpsertUserMapping(ctx, m); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	got, _ = st.GetUserMapping(ctx, "addr", "monad")
	if got.ChatUserID != "43" || got.IsBanned {
		t.Fatalf("unexpected mapping after re-upsert: %+v", got)
	}

	if err := st.SetUserBanned(ctx, "nobody", "monad", true); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSyncStatusRoundTrip(t *testing.T) {
	st := newTestStore(t)
	defer st.Close()
	ctx := context.Background()

	if _, err := st.GetSyncStatus(ctx, "sui"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	status := model.SyncStatus{
		ChainType:       "sui",
		LastSyncedBlock: 1234,
		Metadata:        `{"txDigest":"abc","eventSeq":"7"}`,
	}
	if err := st.UpsertSyncStatus(ctx, status); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := st.GetSyncStatus(ctx, "sui")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastSyncedBlock != 1234 || got.Metadata != status.Metadata {
		t.Fatalf("unexpected status: %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatalf("expected updated_at set")
	}

	status.LastSyncedBlock = 2000
	status.Metadata = ""
	if err := st.UpsertSyncStatus(ctx, status); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, _ = st.GetSyncStatus(ctx, "sui")
	if got.LastSyncedBlock != 2000 || got.Metadata != "" {
		t.Fatalf("unexpected status after update: %+v", got)
	}
}
