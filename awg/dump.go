package awg

import (
	"strconv"
	"strings"
	"time"
)

// PeerStat is one peer row from `awg show <interface> dump`.
type PeerStat struct {
	PublicKey       string
	Endpoint        string    // empty when the peer never connected
	AllowedIPs      string
	LatestHandshake time.Time // zero when no handshake has happened
	BytesReceived   int64
	BytesSent       int64
}

// parseDump reads the tab-separated dump format. The first line
// describes the interface itself and is skipped; peer lines carry
// public key, preshared key, endpoint, allowed IPs, latest handshake,
// rx, tx and keepalive.
func parseDump(out string) []PeerStat {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) <= 1 {
		return nil
	}

	stats := make([]PeerStat, 0, len(lines)-1)
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			continue
		}

		handshake, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			continue
		}
		rx, err := strconv.ParseInt(fields[5], 10, 64)
		if err != nil {
			continue
		}
		tx, err := strconv.ParseInt(fields[6], 10, 64)
		if err != nil {
			continue
		}

		stat := PeerStat{
			PublicKey:     fields[0],
			AllowedIPs:    fields[3],
			BytesReceived: rx,
			BytesSent:     tx,
		}
		if fields[2] != "(none)" {
			stat.Endpoint = fields[2]
		}
		if handshake > 0 {
			stat.LatestHandshake = time.Unix(handshake, 0)
		}
		stats = append(stats, stat)
	}
	return stats
}
