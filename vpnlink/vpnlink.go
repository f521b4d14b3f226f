// Package vpnlink encodes client tunnel configs into the vpn:// links
// understood by the AmneziaVPN apps.
//
// Wire format: a 12-byte header (4 magic bytes, big-endian length of
// the rest, big-endian uncompressed length) followed by zlib-compressed
// JSON, the whole frame base64url-encoded without padding.
package vpnlink

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"

	"github.com/brian14708/awg-warden/confgen"
)

// Prefix is the URI scheme clients recognize. QR codes carry the bare
// payload without it.
const Prefix = "vpn://"

var (
	// ErrBadMagic means the payload does not start with the Amnezia
	// frame marker.
	ErrBadMagic = errors.New("vpnlink: bad magic")
	// ErrCorrupt covers truncated frames, length mismatches and
	// undecodable payload bytes.
	ErrCorrupt = errors.New("vpnlink: corrupt payload")
)

var magic = [4]byte{0x07, 0xc0, 0x01, 0x00}

const (
	containerName = "amnezia-awg"
	linkMTU       = "1280"
	keepalive     = "25"
	transportUDP  = "udp"
)

// TunnelConfig carries everything embedded in a provisioning link.
type TunnelConfig struct {
	ClientPrivateKey string
	ClientAddress    string // client CIDR, e.g. "10.8.0.2/32"
	ServerPublicKey  string
	Host             string
	Port             int
	DNS              string
	Description      string
	Obfuscation      confgen.Obfuscation
}

// Envelope is the top-level JSON document inside a link.
type Envelope struct {
	Containers       []Container `json:"containers"`
	DefaultContainer string      `json:"defaultContainer"`
	Description      string      `json:"description"`
	DNS1             string      `json:"dns1"`
	DNS2             string      `json:"dns2"`
	HostName         string      `json:"hostName"`
}

// Container selects one protocol stack inside the envelope.
type Container struct {
	AWG       AWGSettings `json:"awg"`
	Container string      `json:"container"`
}

// AWGSettings holds the AmneziaWG parameters. The client app expects
// every numeric field as a string here.
type AWGSettings struct {
	H1             string `json:"H1"`
	H2             string `json:"H2"`
	H3             string `json:"H3"`
	H4             string `json:"H4"`
	Jc             string `json:"Jc"`
	Jmax           string `json:"Jmax"`
	Jmin           string `json:"Jmin"`
	S1             string `json:"S1"`
	S2             string `json:"S2"`
	LastConfig     string `json:"last_config"`
	Port           string `json:"port"`
	TransportProto string `json:"transport_proto"`
}

// LastConfig is the nested document stringified into
// AWGSettings.LastConfig. Port is an integer here, unlike the outer
// block; the client app parses both variants and gets both.
type LastConfig struct {
	H1                  string   `json:"H1"`
	H2                  string   `json:"H2"`
	H3                  string   `json:"H3"`
	H4                  string   `json:"H4"`
	Jc                  string   `json:"Jc"`
	Jmax                string   `json:"Jmax"`
	Jmin                string   `json:"Jmin"`
	S1                  string   `json:"S1"`
	S2                  string   `json:"S2"`
	AllowedIPs          []string `json:"allowed_ips"`
	ClientIP            string   `json:"client_ip"`
	ClientPrivKey       string   `json:"client_priv_key"`
	Config              string   `json:"config"`
	HostName            string   `json:"hostName"`
	MTU                 string   `json:"mtu"`
	PersistentKeepAlive string   `json:"persistent_keep_alive"`
	Port                int      `json:"port"`
	ServerPubKey        string   `json:"server_pub_key"`
	TransportProto      string   `json:"transport_proto"`
}

// Encode returns the base64url payload for cfg, without the vpn://
// prefix. QR codes embed exactly this string.
func Encode(cfg TunnelConfig) (string, error) {
	env, err := buildEnvelope(cfg)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("vpnlink: marshal envelope: %w", err)
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("vpnlink: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("vpnlink: compress: %w", err)
	}

	frame := make([]byte, 0, 12+compressed.Len())
	frame = append(frame, magic[:]...)
	frame = binary.BigEndian.AppendUint32(frame, uint32(4+compressed.Len()))
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(raw)))
	frame = append(frame, compressed.Bytes()...)

	return base64.RawURLEncoding.EncodeToString(frame), nil
}

// Link returns the full vpn:// URI for cfg.
func Link(cfg TunnelConfig) (string, error) {
	payload, err := Encode(cfg)
	if err != nil {
		return "", err
	}
	return Prefix + payload, nil
}

// Decode parses a payload produced by Encode. It accepts the payload
// with or without the vpn:// prefix and returns the envelope along
// with the raw JSON document.
func Decode(payload string) (*Envelope, []byte, error) {
	payload = strings.TrimPrefix(payload, Prefix)
	frame, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: base64: %v", ErrCorrupt, err)
	}
	if len(frame) < 12 {
		return nil, nil, fmt.Errorf("%w: frame too short", ErrCorrupt)
	}
	if !bytes.Equal(frame[:4], magic[:]) {
		return nil, nil, ErrBadMagic
	}
	if got, want := binary.BigEndian.Uint32(frame[4:8]), uint32(len(frame)-8); got != want {
		return nil, nil, fmt.Errorf("%w: frame length %d, header says %d", ErrCorrupt, want, got)
	}

	zr, err := zlib.NewReader(bytes.NewReader(frame[12:]))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: zlib: %v", ErrCorrupt, err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: zlib: %v", ErrCorrupt, err)
	}
	if got := binary.BigEndian.Uint32(frame[8:12]); int(got) != len(raw) {
		return nil, nil, fmt.Errorf("%w: uncompressed length %d, header says %d", ErrCorrupt, len(raw), got)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: json: %v", ErrCorrupt, err)
	}
	return &env, raw, nil
}

func buildEnvelope(cfg TunnelConfig) (*Envelope, error) {
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, fmt.Errorf("vpnlink: endpoint host and port are required")
	}
	o := cfg.Obfuscation
	endpoint := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	clientIP, _, _ := strings.Cut(cfg.ClientAddress, "/")

	last := LastConfig{
		H1:                  strconv.Itoa(o.H1),
		H2:                  strconv.Itoa(o.H2),
		H3:                  strconv.Itoa(o.H3),
		H4:                  strconv.Itoa(o.H4),
		Jc:                  strconv.Itoa(o.Jc),
		Jmax:                strconv.Itoa(o.Jmax),
		Jmin:                strconv.Itoa(o.Jmin),
		S1:                  strconv.Itoa(o.S1),
		S2:                  strconv.Itoa(o.S2),
		AllowedIPs:          []string{"0.0.0.0/0", "::/0"},
		ClientIP:            clientIP,
		ClientPrivKey:       cfg.ClientPrivateKey,
		Config:              tunnelText(cfg, endpoint),
		HostName:            cfg.Host,
		MTU:                 linkMTU,
		PersistentKeepAlive: keepalive,
		Port:                cfg.Port,
		ServerPubKey:        cfg.ServerPublicKey,
		TransportProto:      transportUDP,
	}
	lastJSON, err := json.Marshal(last)
	if err != nil {
		return nil, fmt.Errorf("vpnlink: marshal last_config: %w", err)
	}

	return &Envelope{
		Containers: []Container{{
			AWG: AWGSettings{
				H1:             last.H1,
				H2:             last.H2,
				H3:             last.H3,
				H4:             last.H4,
				Jc:             last.Jc,
				Jmax:           last.Jmax,
				Jmin:           last.Jmin,
				S1:             last.S1,
				S2:             last.S2,
				LastConfig:     string(lastJSON),
				Port:           strconv.Itoa(cfg.Port),
				TransportProto: transportUDP,
			},
			Container: containerName,
		}},
		DefaultContainer: containerName,
		Description:      cfg.Description,
		DNS1:             cfg.DNS,
		DNS2:             "",
		HostName:         cfg.Host,
	}, nil
}

// tunnelText renders the INI document embedded in last_config. The
// section layout differs from confgen.RenderClient: the client app
// wants Address first and Endpoint before AllowedIPs, and no trailing
// newline.
func tunnelText(cfg TunnelConfig, endpoint string) string {
	o := cfg.Obfuscation
	var b strings.Builder
	fmt.Fprintf(&b, "[Interface]\n")
	fmt.Fprintf(&b, "Address = %s\n", cfg.ClientAddress)
	fmt.Fprintf(&b, "DNS = %s\n", cfg.DNS)
	fmt.Fprintf(&b, "PrivateKey = %s\n", cfg.ClientPrivateKey)
	fmt.Fprintf(&b, "Jc = %d\n", o.Jc)
	fmt.Fprintf(&b, "Jmin = %d\n", o.Jmin)
	fmt.Fprintf(&b, "Jmax = %d\n", o.Jmax)
	fmt.Fprintf(&b, "S1 = %d\n", o.S1)
	fmt.Fprintf(&b, "S2 = %d\n", o.S2)
	fmt.Fprintf(&b, "H1 = %d\n", o.H1)
	fmt.Fprintf(&b, "H2 = %d\n", o.H2)
	fmt.Fprintf(&b, "H3 = %d\n", o.H3)
	fmt.Fprintf(&b, "H4 = %d\n", o.H4)
	fmt.Fprintf(&b, "\n[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", cfg.ServerPublicKey)
	fmt.Fprintf(&b, "AllowedIPs = 0.0.0.0/0, ::/0\n")
	fmt.Fprintf(&b, "Endpoint = %s\n", endpoint)
	fmt.Fprintf(&b, "PersistentKeepalive = 25")
	return b.String()
}
