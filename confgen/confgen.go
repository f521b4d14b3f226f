// Package confgen renders AmneziaWG configuration files. The server
// render is the single source of truth for the on-disk interface
// config; peer sections always reflect the full registry, never a
// partial edit.
package confgen

import (
	"fmt"
	"strings"
)

// Obfuscation holds the AmneziaWG junk-packet and header parameters.
// Server and client configs must carry identical values or the
// handshake never completes.
type Obfuscation struct {
	Jc   int `yaml:"jc"`
	Jmin int `yaml:"jmin"`
	Jmax int `yaml:"jmax"`
	S1   int `yaml:"s1"`
	S2   int `yaml:"s2"`
	H1   int `yaml:"h1"`
	H2   int `yaml:"h2"`
	H3   int `yaml:"h3"`
	H4   int `yaml:"h4"`
}

// DefaultObfuscation returns the parameter set used when no override
// is configured.
func DefaultObfuscation() Obfuscation {
	return Obfuscation{
		Jc:   2,
		Jmin: 10,
		Jmax: 50,
		S1:   107,
		S2:   28,
		H1:   1359490391,
		H2:   1285506284,
		H3:   1393261750,
		H4:   432419882,
	}
}

// Peer is one [Peer] section of the server config.
type Peer struct {
	PublicKey string
	Address   string // allowed IPs, e.g. "10.8.0.2/32"
}

// ServerParams describes the [Interface] section of the server config.
type ServerParams struct {
	PrivateKey   string
	Address      string // e.g. "10.8.0.1/24"
	ListenPort   int
	NATInterface string // egress device for the masquerade rules
	Obfuscation  Obfuscation
}

// ClientParams describes a client tunnel config.
type ClientParams struct {
	PrivateKey      string
	Address         string // client address, e.g. "10.8.0.2/32"
	DNS             string
	ServerPublicKey string
	Endpoint        string // "host:port"
	Obfuscation     Obfuscation
}

// RenderServer renders the complete server config for the given peer
// set. Peers are emitted in the order given so the output is
// deterministic for a fixed registry snapshot.
func RenderServer(p ServerParams, peers []Peer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", p.PrivateKey)
	fmt.Fprintf(&b, "Address = %s\n", p.Address)
	fmt.Fprintf(&b, "ListenPort = %d\n", p.ListenPort)
	fmt.Fprintf(&b, "PostUp = iptables -A FORWARD -i %%i -j ACCEPT; iptables -t nat -A POSTROUTING -o %s -j MASQUERADE\n", p.NATInterface)
	fmt.Fprintf(&b, "PostDown = iptables -D FORWARD -i %%i -j ACCEPT; iptables -t nat -D POSTROUTING -o %s -j MASQUERADE\n", p.NATInterface)
	writeObfuscation(&b, p.Obfuscation)
	for _, peer := range peers {
		fmt.Fprintf(&b, "\n[Peer]\n")
		fmt.Fprintf(&b, "PublicKey = %s\n", peer.PublicKey)
		fmt.Fprintf(&b, "AllowedIPs = %s\n", peer.Address)
	}
	return b.String()
}

// RenderClient renders the tunnel config handed to a client. The
// obfuscation block is emitted through the same writer as the server
// side so the two can never drift.
func RenderClient(p ClientParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", p.PrivateKey)
	fmt.Fprintf(&b, "Address = %s\n", p.Address)
	fmt.Fprintf(&b, "DNS = %s\n", p.DNS)
	writeObfuscation(&b, p.Obfuscation)
	fmt.Fprintf(&b, "\n[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", p.ServerPublicKey)
	fmt.Fprintf(&b, "Endpoint = %s\n", p.Endpoint)
	fmt.Fprintf(&b, "AllowedIPs = 0.0.0.0/0, ::/0\n")
	fmt.Fprintf(&b, "PersistentKeepalive = 25\n")
	return b.String()
}

func writeObfuscation(b *strings.Builder, o Obfuscation) {
	fmt.Fprintf(b, "Jc = %d\n", o.Jc)
	fmt.Fprintf(b, "Jmin = %d\n", o.Jmin)
	fmt.Fprintf(b, "Jmax = %d\n", o.Jmax)
	fmt.Fprintf(b, "S1 = %d\n", o.S1)
	fmt.Fprintf(b, "S2 = %d\n", o.S2)
	fmt.Fprintf(b, "H1 = %d\n", o.H1)
	fmt.Fprintf(b, "H2 = %d\n", o.H2)
	fmt.Fprintf(b, "H3 = %d\n", o.H3)
	fmt.Fprintf(b, "H4 = %d\n", o.H4)
}
