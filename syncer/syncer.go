// Package syncer keeps the three copies of peer state converged: the
// registry (source of truth), the rendered config file, and the live
// interface. Every change is a full regeneration; partial edits of the
// config file are how the three surfaces drift apart.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/brian14708/awg-warden/awg"
	"github.com/brian14708/awg-warden/confgen"
	"github.com/brian14708/awg-warden/registry"
	"github.com/brian14708/awg-warden/traffic"
)

// Stage names the phase of a sync that failed.
type Stage string

const (
	StageRender Stage = "render"
	StageApply  Stage = "apply"
)

// SyncError reports a failed FullSync. After a render failure the old
// config file is intact; after an apply failure the file already holds
// the new state and the next successful apply converges the interface.
// There is no rollback in either case.
type SyncError struct {
	Stage Stage
	Err   error
}

func (e *SyncError) Error() string { return fmt.Sprintf("sync %s: %v", e.Stage, e.Err) }
func (e *SyncError) Unwrap() error { return e.Err }

// InterfaceController is the slice of the awg adapter the syncer
// needs.
type InterfaceController interface {
	IsUp(ctx context.Context) bool
	DumpPeers(ctx context.Context) ([]awg.PeerStat, error)
	SyncConfig(ctx context.Context, path string) error
}

// Options configures a Syncer. Registry, History, Interface and
// ConfigPath are required.
type Options struct {
	Registry   *registry.Registry
	History    *traffic.DB
	Interface  InterfaceController
	Server     confgen.ServerParams
	ConfigPath string

	// Interval between reconcile ticks. Defaults to a minute.
	Interval time.Duration
	// OnlineWindow is the maximum handshake age that still counts as
	// online. Defaults to five minutes.
	OnlineWindow time.Duration

	Log *slog.Logger
}

// Syncer owns config regeneration and the periodic traffic/session
// reconcile loop.
type Syncer struct {
	reg      *registry.Registry
	hist     *traffic.DB
	iface    InterfaceController
	server   confgen.ServerParams
	confPath string
	interval time.Duration
	window   time.Duration
	log      *slog.Logger

	mu sync.Mutex // serializes FullSync; a render must never see a half-applied write
}

// New builds a Syncer from o.
func New(o Options) *Syncer {
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.OnlineWindow <= 0 {
		o.OnlineWindow = 5 * time.Minute
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
	return &Syncer{
		reg:      o.Registry,
		hist:     o.History,
		iface:    o.Interface,
		server:   o.Server,
		confPath: o.ConfigPath,
		interval: o.Interval,
		window:   o.OnlineWindow,
		log:      o.Log,
	}
}

// FullSync renders the config file from the current registry state and
// converges the live interface to it. The whole operation runs under
// one lock so concurrent callers cannot interleave render and apply.
func (s *Syncer) FullSync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients, err := s.reg.AllClients(ctx, true)
	if err != nil {
		return &SyncError{Stage: StageRender, Err: err}
	}
	peers := make([]confgen.Peer, 0, len(clients))
	for _, c := range clients {
		peers = append(peers, confgen.Peer{PublicKey: c.PublicKey, Address: c.Address})
	}
	text := confgen.RenderServer(s.server, peers)

	if err := os.MkdirAll(filepath.Dir(s.confPath), 0o755); err != nil {
		return &SyncError{Stage: StageRender, Err: err}
	}
	if err := os.WriteFile(s.confPath, []byte(text), 0o600); err != nil {
		return &SyncError{Stage: StageRender, Err: err}
	}
	s.log.Debug("config rendered", "path", s.confPath, "peers", len(peers))

	if err := s.iface.SyncConfig(ctx, s.confPath); err != nil {
		return &SyncError{Stage: StageApply, Err: err}
	}
	s.log.Info("interface synced", "peers", len(peers))
	return nil
}
