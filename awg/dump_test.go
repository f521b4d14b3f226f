package awg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDump = "SRV_PRIV\tSRV_PUB\t51820\toff\n" +
	"PEER_A\t(none)\t203.0.113.9:31337\t10.8.0.2/32\t1724600000\t1048576\t2097152\t25\n" +
	"PEER_B\t(none)\t(none)\t10.8.0.3/32\t0\t0\t0\toff\n"

func TestDumpPeers(t *testing.T) {
	runner := &fakeRunner{out: map[string]string{"awg show awg0 dump": sampleDump}}
	iface := New("awg0", runner, testLog())

	stats, err := iface.DumpPeers(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 2)

	a := stats[0]
	assert.Equal(t, "PEER_A", a.PublicKey)
	assert.Equal(t, "203.0.113.9:31337", a.Endpoint)
	assert.Equal(t, "10.8.0.2/32", a.AllowedIPs)
	assert.Equal(t, time.Unix(1724600000, 0), a.LatestHandshake)
	assert.Equal(t, int64(1048576), a.BytesReceived)
	assert.Equal(t, int64(2097152), a.BytesSent)

	b := stats[1]
	assert.Equal(t, "PEER_B", b.PublicKey)
	assert.Empty(t, b.Endpoint)
	assert.True(t, b.LatestHandshake.IsZero())
	assert.Zero(t, b.BytesReceived)
	assert.Zero(t, b.BytesSent)
}

func TestDumpPeersFails(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{
		"awg show awg0 dump": &CommandError{Name: "awg", ExitCode: 1, Stderr: "Unable to access interface"},
	}}
	iface := New("awg0", runner, testLog())

	_, err := iface.DumpPeers(context.Background())
	assert.Error(t, err)
}

func TestParseDumpEmpty(t *testing.T) {
	assert.Nil(t, parseDump(""))
	// interface line only, no peers
	assert.Empty(t, parseDump("SRV_PRIV\tSRV_PUB\t51820\toff\n"))
}

func TestParseDumpSkipsMalformedLines(t *testing.T) {
	dump := "SRV_PRIV\tSRV_PUB\t51820\toff\n" +
		"short\tline\n" +
		"PEER_X\t(none)\t(none)\t10.8.0.9/32\tnot-a-number\t1\t2\toff\n" +
		"PEER_Y\t(none)\t(none)\t10.8.0.10/32\t0\t7\t8\toff\n"

	stats := parseDump(dump)
	require.Len(t, stats, 1)
	assert.Equal(t, "PEER_Y", stats[0].PublicKey)
	assert.Equal(t, int64(7), stats[0].BytesReceived)
	assert.Equal(t, int64(8), stats[0].BytesSent)
}
