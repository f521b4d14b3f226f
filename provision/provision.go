// Package provision is the operator-facing surface for the client
// lifecycle: create, delete and inspect clients, and produce the
// config file, vpn:// link and QR code handed to users.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/brian14708/awg-warden/awg"
	"github.com/brian14708/awg-warden/confgen"
	"github.com/brian14708/awg-warden/registry"
	"github.com/brian14708/awg-warden/traffic"
	"github.com/brian14708/awg-warden/vpnlink"
)

// ErrInvalidName rejects client names outside the allowed alphabet.
var ErrInvalidName = errors.New("provision: name must be 1-32 letters, digits, underscores or hyphens")

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

// KeyGenerator produces client identities. Satisfied by *awg.Interface.
type KeyGenerator interface {
	GenerateKeypair(ctx context.Context) (awg.KeyPair, error)
}

// Synchronizer converges config file and interface to the registry.
// Satisfied by *syncer.Syncer.
type Synchronizer interface {
	FullSync(ctx context.Context) error
}

// Options configures a Manager. All reference fields are required.
type Options struct {
	Registry *registry.Registry
	History  *traffic.DB
	Keys     KeyGenerator
	Syncer   Synchronizer

	ServerPublicKey string
	Host            string
	Port            int
	DNS             string
	Description     string
	Obfuscation     confgen.Obfuscation

	Log *slog.Logger
}

// Manager implements the client lifecycle operations.
type Manager struct {
	reg  *registry.Registry
	hist *traffic.DB
	keys KeyGenerator
	sync Synchronizer
	opts Options
	log  *slog.Logger
}

// New builds a Manager from o.
func New(o Options) *Manager {
	if o.Log == nil {
		o.Log = slog.Default()
	}
	return &Manager{
		reg:  o.Registry,
		hist: o.History,
		keys: o.Keys,
		sync: o.Syncer,
		opts: o,
		log:  o.Log,
	}
}

// Artifacts bundles everything a freshly created client needs.
type Artifacts struct {
	Client    registry.Client `json:"client"`
	Config    string          `json:"config"`     // tunnel config file text
	Link      string          `json:"link"`       // vpn:// URI
	QRPayload string          `json:"qr_payload"` // bare base64 payload inside the QR
	QRPNG     []byte          `json:"qr_png"`
}

// Create provisions a new client end to end: key generation, address
// allocation, registry insert, full sync, artifact generation.
//
// When the sync step fails the client is still created and the
// returned artifacts are valid; the error reports the failed sync and
// the interface converges on the next successful one. Any earlier
// failure aborts with no state left behind.
func (m *Manager) Create(ctx context.Context, name string) (*Artifacts, error) {
	if !namePattern.MatchString(name) {
		return nil, ErrInvalidName
	}
	if exists, err := m.reg.ClientExists(ctx, name); err != nil {
		return nil, err
	} else if exists {
		return nil, registry.ErrAlreadyExists
	}

	keypair, err := m.keys.GenerateKeypair(ctx)
	if err != nil {
		return nil, err
	}
	address, err := m.reg.NextAvailableIP(ctx)
	if err != nil {
		return nil, err
	}
	client, err := m.reg.AddClient(ctx, name, keypair.PublicKey, keypair.PrivateKey, address)
	if err != nil {
		return nil, err
	}
	m.log.Info("client created", "name", name, "address", address)

	artifacts, err := m.artifacts(client)
	if err != nil {
		return nil, err
	}

	if syncErr := m.sync.FullSync(ctx); syncErr != nil {
		m.log.Error("sync after create failed, interface converges on next sync",
			"client", name, "error", syncErr)
		return artifacts, syncErr
	}
	return artifacts, nil
}

// Delete removes a client from the registry, purges its history and
// syncs the peer off the interface. The registry delete is what
// revokes access; a failed history purge or sync is reported but does
// not resurrect the client.
func (m *Manager) Delete(ctx context.Context, name string) error {
	client, err := m.reg.DeleteClient(ctx, name)
	if err != nil {
		return err
	}
	m.log.Info("client deleted", "name", name, "address", client.Address)

	if err := m.hist.PurgeClient(ctx, client.ID); err != nil {
		m.log.Warn("purging traffic history failed", "client", name, "error", err)
	}
	return m.sync.FullSync(ctx)
}

// List returns all clients, including deactivated ones.
func (m *Manager) List(ctx context.Context) ([]registry.Client, error) {
	return m.reg.AllClients(ctx, false)
}

// SetActive toggles a client's membership in rendered configs and
// syncs the change.
func (m *Manager) SetActive(ctx context.Context, name string, active bool) error {
	if _, err := m.reg.SetClientActive(ctx, name, active); err != nil {
		return err
	}
	m.log.Info("client active flag changed", "name", name, "active", active)
	return m.sync.FullSync(ctx)
}

// Artifacts regenerates the hand-out bundle for an existing client.
func (m *Manager) Artifacts(ctx context.Context, name string) (*Artifacts, error) {
	client, err := m.reg.ClientByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return m.artifacts(client)
}

func (m *Manager) artifacts(client *registry.Client) (*Artifacts, error) {
	conf := confgen.RenderClient(confgen.ClientParams{
		PrivateKey:      client.PrivateKey,
		Address:         client.Address,
		DNS:             m.opts.DNS,
		ServerPublicKey: m.opts.ServerPublicKey,
		Endpoint:        fmt.Sprintf("%s:%d", m.opts.Host, m.opts.Port),
		Obfuscation:     m.opts.Obfuscation,
	})

	tunnel := vpnlink.TunnelConfig{
		ClientPrivateKey: client.PrivateKey,
		ClientAddress:    client.Address,
		ServerPublicKey:  m.opts.ServerPublicKey,
		Host:             m.opts.Host,
		Port:             m.opts.Port,
		DNS:              m.opts.DNS,
		Description:      m.opts.Description,
		Obfuscation:      m.opts.Obfuscation,
	}
	payload, err := vpnlink.Encode(tunnel)
	if err != nil {
		return nil, err
	}

	png, err := renderQR(payload)
	if err != nil {
		return nil, fmt.Errorf("provision: render qr: %w", err)
	}

	return &Artifacts{
		Client:    *client,
		Config:    conf,
		Link:      vpnlink.Prefix + payload,
		QRPayload: payload,
		QRPNG:     png,
	}, nil
}

// ClientTraffic is one row of the lifetime usage report.
type ClientTraffic struct {
	Name          string `json:"name"`
	Address       string `json:"address"`
	Active        bool   `json:"active"`
	BytesReceived int64  `json:"bytes_received"`
	BytesSent     int64  `json:"bytes_sent"`
}

// Totals returns lifetime usage per client, heaviest first. Clients
// without recorded traffic appear with zeros at the end.
func (m *Manager) Totals(ctx context.Context) ([]ClientTraffic, error) {
	clients, err := m.reg.AllClients(ctx, false)
	if err != nil {
		return nil, err
	}
	totals, err := m.hist.TotalsByClient(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[uint]traffic.ClientTotal, len(totals))
	for _, t := range totals {
		byID[t.ClientID] = t
	}

	report := make([]ClientTraffic, 0, len(clients))
	for _, c := range clients {
		t := byID[c.ID]
		report = append(report, ClientTraffic{
			Name:          c.Name,
			Address:       c.Address,
			Active:        c.Active,
			BytesReceived: t.BytesReceived,
			BytesSent:     t.BytesSent,
		})
	}
	sort.SliceStable(report, func(i, j int) bool {
		return report[i].BytesReceived+report[i].BytesSent >
			report[j].BytesReceived+report[j].BytesSent
	})
	return report, nil
}

// Series returns bucketed usage since the given time. An empty name
// aggregates over all clients.
func (m *Manager) Series(ctx context.Context, name string, since time.Time, bucket traffic.Bucket) ([]traffic.SeriesPoint, error) {
	id, err := m.resolveClientID(ctx, name)
	if err != nil {
		return nil, err
	}
	return m.hist.Series(ctx, id, since, bucket)
}

// HourlyProfile returns usage per hour of day. An empty name
// aggregates over all clients.
func (m *Manager) HourlyProfile(ctx context.Context, name string) ([]traffic.HourTotal, error) {
	id, err := m.resolveClientID(ctx, name)
	if err != nil {
		return nil, err
	}
	return m.hist.HourlyProfile(ctx, id)
}

// WeekdayProfile returns usage per day of week. An empty name
// aggregates over all clients.
func (m *Manager) WeekdayProfile(ctx context.Context, name string) ([]traffic.WeekdayTotal, error) {
	id, err := m.resolveClientID(ctx, name)
	if err != nil {
		return nil, err
	}
	return m.hist.WeekdayProfile(ctx, id)
}

// Sessions returns a client's connection history, most recent first.
func (m *Manager) Sessions(ctx context.Context, name string, limit int) ([]registry.Session, error) {
	client, err := m.reg.ClientByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return m.reg.Sessions(ctx, client.ID, limit)
}

func (m *Manager) resolveClientID(ctx context.Context, name string) (uint, error) {
	if name == "" {
		return 0, nil
	}
	client, err := m.reg.ClientByName(ctx, name)
	if err != nil {
		return 0, err
	}
	return client.ID, nil
}
