// Package awg drives the AmneziaWG userspace tools (awg, awg-quick)
// for one interface. All state-changing operations shell out; the
// kernel module speaks the amnezia variant of the protocol and the
// stock wgctrl netlink path cannot set its junk parameters.
package awg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// ErrKeyGeneration marks failures while producing or deriving keys.
var ErrKeyGeneration = errors.New("key generation failed")

// KeyPair is a freshly generated client identity.
type KeyPair struct {
	PrivateKey string
	PublicKey  string
}

// Interface exposes lifecycle and telemetry operations for a single
// AmneziaWG interface.
type Interface struct {
	name   string
	runner Runner
	log    *slog.Logger
}

// New returns an adapter for the named interface.
func New(name string, runner Runner, log *slog.Logger) *Interface {
	return &Interface{name: name, runner: runner, log: log}
}

// Name returns the interface name.
func (i *Interface) Name() string { return i.name }

// GenerateKeypair creates a private key and derives its public key.
func (i *Interface) GenerateKeypair(ctx context.Context) (KeyPair, error) {
	priv, err := i.runner.Output(ctx, "awg", "genkey")
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: genkey: %w", ErrKeyGeneration, err)
	}
	pub, err := i.PublicKey(ctx, priv)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{PrivateKey: priv, PublicKey: pub}, nil
}

// PublicKey derives the public key for a private key. The private key
// travels over stdin, never argv.
func (i *Interface) PublicKey(ctx context.Context, privateKey string) (string, error) {
	pub, err := i.runner.OutputStdin(ctx, privateKey+"\n", "awg", "pubkey")
	if err != nil {
		return "", fmt.Errorf("%w: pubkey: %w", ErrKeyGeneration, err)
	}
	return pub, nil
}

// PeerAdd attaches a peer directly to the running interface. This is
// the escape hatch for unsynchronized edits; the regular path is a
// registry change followed by SyncConfig.
func (i *Interface) PeerAdd(ctx context.Context, publicKey, allowedIPs string) error {
	_, err := i.runner.Output(ctx, "awg", "set", i.name, "peer", publicKey, "allowed-ips", allowedIPs)
	if err != nil {
		return fmt.Errorf("add peer: %w", err)
	}
	i.log.Debug("peer added", "public_key", publicKey, "allowed_ips", allowedIPs)
	return nil
}

// PeerRemove detaches a peer from the running interface.
func (i *Interface) PeerRemove(ctx context.Context, publicKey string) error {
	_, err := i.runner.Output(ctx, "awg", "set", i.name, "peer", publicKey, "remove")
	if err != nil {
		return fmt.Errorf("remove peer: %w", err)
	}
	i.log.Debug("peer removed", "public_key", publicKey)
	return nil
}

// DumpPeers returns the current peer statistics. Malformed dump lines
// are skipped, not fatal.
func (i *Interface) DumpPeers(ctx context.Context) ([]PeerStat, error) {
	out, err := i.runner.Output(ctx, "awg", "show", i.name, "dump")
	if err != nil {
		return nil, fmt.Errorf("dump peers: %w", err)
	}
	return parseDump(out), nil
}

// IsUp reports whether the interface exists and answers status
// queries.
func (i *Interface) IsUp(ctx context.Context) bool {
	_, err := i.runner.Output(ctx, "awg", "show", i.name)
	return err == nil
}

// SyncConfig converges the running interface to the config file at
// path without tearing the interface down. The file is stripped of
// awg-quick directives first, exactly as `awg-quick strip` would on
// restart.
func (i *Interface) SyncConfig(ctx context.Context, path string) error {
	stripped, err := i.runner.Output(ctx, "awg-quick", "strip", path)
	if err != nil {
		return fmt.Errorf("strip config: %w", err)
	}

	tmp, err := os.CreateTemp("", "awg-sync-*.conf")
	if err != nil {
		return fmt.Errorf("stage stripped config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(stripped + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("stage stripped config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("stage stripped config: %w", err)
	}

	if _, err := i.runner.Output(ctx, "awg", "syncconf", i.name, tmp.Name()); err != nil {
		return fmt.Errorf("sync config: %w", err)
	}
	i.log.Debug("interface config synced", "path", path)
	return nil
}
