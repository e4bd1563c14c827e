// Package ingest tails share trade events from each configured chain
// into the local trades ledger and enforces the sell-to-zero rule:
// a holder who sells their last share of a subject is muted in that
// subject's chat, and a banned holder who buys back in is unmuted.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alice2025ai/alice-ai-server/internal/auth"
	"github.com/alice2025ai/alice-ai-server/internal/chain"
	"github.com/alice2025ai/alice-ai-server/internal/model"
	"github.com/alice2025ai/alice-ai-server/internal/store"
)

type Worker struct {
	store    store.Store
	adapter  chain.Adapter
	notifier auth.Notifier
	interval time.Duration
	logger   *slog.Logger
}

func NewWorker(st store.Store, adapter chain.Adapter, notifier auth.Notifier, interval time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Worker{
		store:    st,
		adapter:  adapter,
		notifier: notifier,
		interval: interval,
		logger:   logger.With("chain", adapter.Name()),
	}
}

// Run polls until ctx is cancelled. Each tick failure is logged and the
// loop keeps going; the cursor only advances after trades are applied.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("sync tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick performs one sync round: load cursor, fetch trades, apply them,
// persist the advanced cursor.
func (w *Worker) Tick(ctx context.Context) error {
	cur, err := w.loadCursor(ctx)
	if err != nil {
		return err
	}

	trades, next, err := w.adapter.TradeEvents(ctx, cur)
	if err != nil {
		return err
	}

	for _, t := range trades {
		if err := w.applyTrade(ctx, t); err != nil {
			return err
		}
	}

	// Touch the sync row even on empty rounds so freshness checks see
	// that ingestion is alive.
	return w.store.UpsertSyncStatus(ctx, model.SyncStatus{
		ChainType:       w.adapter.Name(),
		LastSyncedBlock: next.Block,
		Metadata:        next.Metadata,
		UpdatedAt:       time.Now(),
	})
}

func (w *Worker) loadCursor(ctx context.Context) (chain.Cursor, error) {
	status, err := w.store.GetSyncStatus(ctx, w.adapter.Name())
	if errors.Is(err, store.ErrNotFound) {
		return chain.Cursor{}, nil
	}
	if err != nil {
		return chain.Cursor{}, err
	}
	return chain.Cursor{Block: status.LastSyncedBlock, Metadata: status.Metadata}, nil
}

func (w *Worker) applyTrade(ctx context.Context, t chain.Trade) error {
	chainType := w.adapter.Name()
	if t.IsBuy {
		if err := w.store.ApplyBuy(ctx, t.Trader, t.Subject, chainType, t.Amount); err != nil {
			return err
		}
		return w.maybeUnban(ctx, t.Trader, t.Subject, chainType)
	}

	remaining, err := w.store.ApplySell(ctx, t.Trader, t.Subject, chainType, t.Amount)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Sell by a trader we never saw buy; the ledger starts at the
			// configured start block, so this is expected after a redeploy.
			w.logger.Debug("sell without prior buy", "trader", t.Trader, "subject", t.Subject)
			return nil
		}
		return err
	}
	if remaining.Sign() > 0 {
		return nil
	}
	return w.banSoldOut(ctx, t.Trader, t.Subject, chainType)
}

// banSoldOut mutes a trader who no longer holds any shares of the
// subject, if the subject has a registered agent and the trader has a
// known chat identity.
func (w *Worker) banSoldOut(ctx context.Context, trader, subject, chainType string) error {
	agent, err := w.store.GetAgentBySubject(ctx, chainType, subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	mapping, err := w.store.GetUserMapping(ctx, trader, chainType)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if mapping.IsBanned {
		return nil
	}

	if err := w.notifier.Mute(ctx, agent.BotToken, agent.ChatGroupID, mapping.ChatUserID); err != nil {
		w.logger.Error("mute failed", "agent", agent.AgentName, "trader", trader, "error", err)
		return nil
	}
	w.logger.Info("trader muted after selling out", "agent", agent.AgentName, "trader", trader)
	return w.store.SetUserBanned(ctx, trader, chainType, true)
}

// maybeUnban lifts a previous sell-out mute once the trader holds
// shares again.
func (w *Worker) maybeUnban(ctx context.Context, trader, subject, chainType string) error {
	mapping, err := w.store.GetUserMapping(ctx, trader, chainType)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !mapping.IsBanned {
		return nil
	}
	agent, err := w.store.GetAgentBySubject(ctx, chainType, subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := w.notifier.Unmute(ctx, agent.BotToken, agent.ChatGroupID, mapping.ChatUserID); err != nil {
		w.logger.Error("unmute failed", "agent", agent.AgentName, "trader", trader, "error", err)
		return nil
	}
	w.logger.Info("trader unmuted after buying back", "agent", agent.AgentName, "trader", trader)
	return w.store.SetUserBanned(ctx, trader, chainType, false)
}
