package vpnlink

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brian14708/awg-warden/confgen"
)

func sampleConfig() TunnelConfig {
	return TunnelConfig{
		ClientPrivateKey: "CLIENT_PRIV",
		ClientAddress:    "10.8.0.2/32",
		ServerPublicKey:  "SERVER_PUB",
		Host:             "vpn.example.org",
		Port:             51820,
		DNS:              "1.1.1.1",
		Description:      "Amne Server",
		Obfuscation:      confgen.DefaultObfuscation(),
	}
}

func TestRoundTrip(t *testing.T) {
	payload, err := Encode(sampleConfig())
	require.NoError(t, err)
	assert.NotContains(t, payload, "=", "payload must be unpadded")

	env, raw, err := Decode(payload)
	require.NoError(t, err)

	assert.Equal(t, "amnezia-awg", env.DefaultContainer)
	assert.Equal(t, "Amne Server", env.Description)
	assert.Equal(t, "vpn.example.org", env.HostName)
	assert.Equal(t, "1.1.1.1", env.DNS1)
	assert.Empty(t, env.DNS2)

	require.Len(t, env.Containers, 1)
	awg := env.Containers[0].AWG
	assert.Equal(t, "amnezia-awg", env.Containers[0].Container)
	assert.Equal(t, "2", awg.Jc)
	assert.Equal(t, "1359490391", awg.H1)
	assert.Equal(t, "51820", awg.Port)
	assert.Equal(t, "udp", awg.TransportProto)

	// the envelope must survive a marshal round trip untouched
	again, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(again))
}

func TestNestedLastConfig(t *testing.T) {
	payload, err := Encode(sampleConfig())
	require.NoError(t, err)

	env, _, err := Decode(payload)
	require.NoError(t, err)

	var last LastConfig
	require.NoError(t, json.Unmarshal([]byte(env.Containers[0].AWG.LastConfig), &last))

	assert.Equal(t, "10.8.0.2", last.ClientIP)
	assert.Equal(t, "CLIENT_PRIV", last.ClientPrivKey)
	assert.Equal(t, "SERVER_PUB", last.ServerPubKey)
	assert.Equal(t, 51820, last.Port)
	assert.Equal(t, "1280", last.MTU)
	assert.Equal(t, "25", last.PersistentKeepAlive)
	assert.Equal(t, []string{"0.0.0.0/0", "::/0"}, last.AllowedIPs)

	// junk parameters must match the outer block exactly
	assert.Equal(t, env.Containers[0].AWG.Jc, last.Jc)
	assert.Equal(t, env.Containers[0].AWG.H4, last.H4)

	assert.True(t, strings.HasPrefix(last.Config, "[Interface]\nAddress = 10.8.0.2/32\n"))
	assert.Contains(t, last.Config, "Endpoint = vpn.example.org:51820\n")
	assert.Contains(t, last.Config, "Jc = 2\n")
	assert.True(t, strings.HasSuffix(last.Config, "PersistentKeepalive = 25"))
}

func TestLink(t *testing.T) {
	cfg := sampleConfig()
	link, err := Link(cfg)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(link, "vpn://"))

	payload, err := Encode(cfg)
	require.NoError(t, err)
	assert.Equal(t, "vpn://"+payload, link)

	// Decode takes either form
	_, _, err = Decode(link)
	assert.NoError(t, err)
}

func TestDecodeBadMagic(t *testing.T) {
	frame := append([]byte{0xde, 0xad, 0xbe, 0xef}, make([]byte, 16)...)
	_, _, err := Decode(base64.RawURLEncoding.EncodeToString(frame))
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestDecodeTruncated(t *testing.T) {
	_, _, err := Decode(base64.RawURLEncoding.EncodeToString([]byte{0x07, 0xc0}))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDecodeNotBase64(t *testing.T) {
	_, _, err := Decode("!!! definitely not base64 !!!")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDecodeLengthMismatch(t *testing.T) {
	payload, err := Encode(sampleConfig())
	require.NoError(t, err)
	frame, err := base64.RawURLEncoding.DecodeString(payload)
	require.NoError(t, err)

	// chop compressed bytes off the tail; header length no longer matches
	_, _, err = Decode(base64.RawURLEncoding.EncodeToString(frame[:len(frame)-4]))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestEncodeRequiresEndpoint(t *testing.T) {
	cfg := sampleConfig()
	cfg.Host = ""
	_, err := Encode(cfg)
	assert.Error(t, err)
}
