package confgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderServer(t *testing.T) {
	cfg := RenderServer(ServerParams{
		PrivateKey:   "SERVER_PRIV",
		Address:      "10.8.0.1/24",
		ListenPort:   51820,
		NATInterface: "eth0",
		Obfuscation:  DefaultObfuscation(),
	}, []Peer{
		{PublicKey: "PEER_A", Address: "10.8.0.2/32"},
		{PublicKey: "PEER_B", Address: "10.8.0.3/32"},
	})

	want := `[Interface]
PrivateKey = SERVER_PRIV
Address = 10.8.0.1/24
ListenPort = 51820
PostUp = iptables -A FORWARD -i %i -j ACCEPT; iptables -t nat -A POSTROUTING -o eth0 -j MASQUERADE
PostDown = iptables -D FORWARD -i %i -j ACCEPT; iptables -t nat -D POSTROUTING -o eth0 -j MASQUERADE
Jc = 2
Jmin = 10
Jmax = 50
S1 = 107
S2 = 28
H1 = 1359490391
H2 = 1285506284
H3 = 1393261750
H4 = 432419882

[Peer]
PublicKey = PEER_A
AllowedIPs = 10.8.0.2/32

[Peer]
PublicKey = PEER_B
AllowedIPs = 10.8.0.3/32
`
	assert.Equal(t, want, cfg)
}

func TestRenderServerNoPeers(t *testing.T) {
	cfg := RenderServer(ServerParams{
		PrivateKey:   "SERVER_PRIV",
		Address:      "10.8.0.1/24",
		ListenPort:   51820,
		NATInterface: "eth0",
		Obfuscation:  DefaultObfuscation(),
	}, nil)

	assert.NotContains(t, cfg, "[Peer]")
	assert.True(t, strings.HasPrefix(cfg, "[Interface]\n"))
}

func TestRenderClient(t *testing.T) {
	cfg := RenderClient(ClientParams{
		PrivateKey:      "CLIENT_PRIV",
		Address:         "10.8.0.2/32",
		DNS:             "1.1.1.1",
		ServerPublicKey: "SERVER_PUB",
		Endpoint:        "vpn.example.org:51820",
		Obfuscation:     DefaultObfuscation(),
	})

	want := `[Interface]
PrivateKey = CLIENT_PRIV
Address = 10.8.0.2/32
DNS = 1.1.1.1
Jc = 2
Jmin = 10
Jmax = 50
S1 = 107
S2 = 28
H1 = 1359490391
H2 = 1285506284
H3 = 1393261750
H4 = 432419882

[Peer]
PublicKey = SERVER_PUB
Endpoint = vpn.example.org:51820
AllowedIPs = 0.0.0.0/0, ::/0
PersistentKeepalive = 25
`
	assert.Equal(t, want, cfg)
}

// Obfuscation parameters must render identically on both sides;
// a handshake with mismatched values silently fails.
func TestObfuscationMatchesAcrossRenders(t *testing.T) {
	o := Obfuscation{Jc: 7, Jmin: 1, Jmax: 9, S1: 11, S2: 13, H1: 101, H2: 102, H3: 103, H4: 104}
	server := RenderServer(ServerParams{Obfuscation: o}, nil)
	client := RenderClient(ClientParams{Obfuscation: o})

	for _, line := range []string{
		"Jc = 7", "Jmin = 1", "Jmax = 9", "S1 = 11", "S2 = 13",
		"H1 = 101", "H2 = 102", "H3 = 103", "H4 = 104",
	} {
		assert.Contains(t, server, line+"\n")
		assert.Contains(t, client, line+"\n")
	}
}
