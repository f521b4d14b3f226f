package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brian14708/awg-warden/awg"
)

func TestCollectRecordsTrafficAndSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	client, err := env.reg.AddClient(ctx, "alice", "PUB_A", "PRIV_A", "10.8.0.2/32")
	require.NoError(t, err)

	handshake := time.Now().Add(-10 * time.Second)
	env.iface.stats = []awg.PeerStat{{
		PublicKey:       "PUB_A",
		LatestHandshake: handshake,
		BytesReceived:   5000,
		BytesSent:       3000,
	}}

	// first tick: baseline seeded, no history yet, session opens
	require.NoError(t, env.syncer.collect(ctx))

	totals, err := env.hist.TotalsByClient(ctx)
	require.NoError(t, err)
	assert.Empty(t, totals, "first sample must not be attributed")

	active, err := env.reg.ActiveSession(ctx, client.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.WithinDuration(t, handshake, active.StartAt, time.Second)

	// second tick: counters grew, delta lands in history, session stays open
	env.iface.stats[0].BytesReceived = 6000
	env.iface.stats[0].BytesSent = 3500
	env.iface.stats[0].LatestHandshake = time.Now().Add(-5 * time.Second)
	require.NoError(t, env.syncer.collect(ctx))

	totals, err = env.hist.TotalsByClient(ctx)
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, int64(1000), totals[0].BytesReceived)
	assert.Equal(t, int64(500), totals[0].BytesSent)

	sessions, err := env.reg.Sessions(ctx, client.ID, 0)
	require.NoError(t, err)
	assert.Len(t, sessions, 1, "no duplicate session while online")
}

func TestCollectClosesStaleSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	client, err := env.reg.AddClient(ctx, "alice", "PUB_A", "PRIV_A", "10.8.0.2/32")
	require.NoError(t, err)

	env.iface.stats = []awg.PeerStat{{
		PublicKey:       "PUB_A",
		LatestHandshake: time.Now().Add(-time.Second),
		BytesReceived:   100,
		BytesSent:       100,
	}}
	require.NoError(t, env.syncer.collect(ctx))

	// handshake ages past the online window
	lastSeen := time.Now().Add(-400 * time.Second)
	env.iface.stats[0].LatestHandshake = lastSeen
	require.NoError(t, env.syncer.collect(ctx))

	active, err := env.reg.ActiveSession(ctx, client.ID)
	require.NoError(t, err)
	assert.Nil(t, active)

	sessions, err := env.reg.Sessions(ctx, client.ID, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].EndAt)
	// the session ends at the last handshake, not the tick time
	assert.WithinDuration(t, lastSeen, *sessions[0].EndAt, time.Second)
}

func TestCollectPeerNeverConnected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	client, err := env.reg.AddClient(ctx, "alice", "PUB_A", "PRIV_A", "10.8.0.2/32")
	require.NoError(t, err)

	env.iface.stats = []awg.PeerStat{{PublicKey: "PUB_A"}} // zero handshake, zero counters
	require.NoError(t, env.syncer.collect(ctx))

	active, err := env.reg.ActiveSession(ctx, client.ID)
	require.NoError(t, err)
	assert.Nil(t, active)

	sessions, err := env.reg.Sessions(ctx, client.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestCollectIgnoresUnknownPeer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.iface.stats = []awg.PeerStat{{
		PublicKey:       "NOT_OURS",
		LatestHandshake: time.Now(),
		BytesReceived:   1 << 20,
		BytesSent:       1 << 20,
	}}
	require.NoError(t, env.syncer.collect(ctx))

	totals, err := env.hist.TotalsByClient(ctx)
	require.NoError(t, err)
	assert.Empty(t, totals)
}

func TestCollectSkipsWhenInterfaceDown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	client, err := env.reg.AddClient(ctx, "alice", "PUB_A", "PRIV_A", "10.8.0.2/32")
	require.NoError(t, err)

	env.iface.up = false
	env.iface.stats = []awg.PeerStat{{
		PublicKey:       "PUB_A",
		LatestHandshake: time.Now(),
		BytesReceived:   9999,
		BytesSent:       9999,
	}}
	require.NoError(t, env.syncer.collect(ctx))

	active, err := env.reg.ActiveSession(ctx, client.ID)
	require.NoError(t, err)
	assert.Nil(t, active, "down interface must not produce samples")
}

func TestCollectDumpError(t *testing.T) {
	env := newTestEnv(t)
	env.iface.dumpErr = &awg.CommandError{Name: "awg", ExitCode: 1, Stderr: "boom"}

	err := env.syncer.collect(context.Background())
	assert.Error(t, err)
}

func TestCollectOnePeerFailureDoesNotStarveOthers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.reg.AddClient(ctx, "alice", "PUB_A", "PRIV_A", "10.8.0.2/32")
	require.NoError(t, err)

	// seed alice's baseline so her second sample produces history
	env.iface.stats = []awg.PeerStat{
		{PublicKey: "NOT_OURS", BytesReceived: 1, BytesSent: 1},
		{PublicKey: "PUB_A", BytesReceived: 100, BytesSent: 100},
	}
	require.NoError(t, env.syncer.collect(ctx))

	env.iface.stats[1].BytesReceived = 200
	env.iface.stats[1].BytesSent = 300
	require.NoError(t, env.syncer.collect(ctx))

	totals, err := env.hist.TotalsByClient(ctx)
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, int64(100), totals[0].BytesReceived)
	assert.Equal(t, int64(200), totals[0].BytesSent)
}

func TestRunStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	env.syncer.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		env.syncer.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
