package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/brian14708/awg-warden/awg"
	"github.com/brian14708/awg-warden/registry"
)

// Run executes the reconcile loop until ctx is cancelled. A failed
// tick is logged and the loop keeps going; transient awg or database
// errors must not kill accounting for good.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.Info("traffic collector started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("traffic collector stopped")
			return
		case <-ticker.C:
			if err := s.collect(ctx); err != nil {
				s.log.Error("collect tick failed", "error", err)
			}
		}
	}
}

// collect runs one reconcile tick: read the dump, fold counters into
// the history, and open or close sessions. Per-peer failures are
// logged and skipped so one bad row cannot starve the others.
func (s *Syncer) collect(ctx context.Context) error {
	if !s.iface.IsUp(ctx) {
		s.log.Debug("interface down, skipping tick")
		return nil
	}
	stats, err := s.iface.DumpPeers(ctx)
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		s.log.Debug("no peers in dump, skipping tick")
		return nil
	}

	now := time.Now()
	for _, stat := range stats {
		if err := s.reconcilePeer(ctx, stat, now); err != nil {
			s.log.Error("peer reconcile failed", "public_key", stat.PublicKey, "error", err)
		}
	}
	return nil
}

func (s *Syncer) reconcilePeer(ctx context.Context, stat awg.PeerStat, now time.Time) error {
	client, err := s.reg.ClientByPublicKey(ctx, stat.PublicKey)
	if errors.Is(err, registry.ErrNotFound) {
		// a peer on the interface but not in the registry is stale
		// interface state; the next FullSync removes it
		s.log.Debug("unknown peer in dump", "public_key", stat.PublicKey)
		return nil
	}
	if err != nil {
		return err
	}

	deltaRx, deltaTx, err := s.reg.RecordCounterSample(ctx, client.ID, stat.BytesReceived, stat.BytesSent)
	if err != nil {
		return err
	}
	if deltaRx > 0 || deltaTx > 0 {
		if err := s.hist.Insert(ctx, client.ID, deltaRx, deltaTx, now); err != nil {
			return err
		}
		s.log.Debug("traffic recorded",
			"client", client.Name, "rx_delta", deltaRx, "tx_delta", deltaTx)
	}

	return s.reconcileSession(ctx, client, stat, now)
}

// reconcileSession infers connectivity from handshake freshness: a
// handshake younger than the online window means connected. Session
// boundaries take the handshake time when one exists, else the tick
// time.
func (s *Syncer) reconcileSession(ctx context.Context, client *registry.Client, stat awg.PeerStat, now time.Time) error {
	online := !stat.LatestHandshake.IsZero() && now.Sub(stat.LatestHandshake) < s.window

	active, err := s.reg.ActiveSession(ctx, client.ID)
	if err != nil {
		return err
	}

	switch {
	case online && active == nil:
		at := stat.LatestHandshake
		if at.IsZero() {
			at = now
		}
		if _, err := s.reg.StartSession(ctx, client.ID, at); err != nil {
			return err
		}
		s.log.Info("session started", "client", client.Name, "start_at", at)
	case !online && active != nil:
		at := stat.LatestHandshake
		if at.IsZero() {
			at = now
		}
		if err := s.reg.EndSession(ctx, client.ID, at); err != nil {
			return err
		}
		s.log.Info("session ended", "client", client.Name, "end_at", at)
	}
	return nil
}
