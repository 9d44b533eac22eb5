// SPDX-License-Identifier: GPL-3.0-or-later

package packet_test

import (
	"net/netip"
	"testing"

	"github.com/rbmk-project/netlab/netsim/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMACAddr(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    packet.MACAddr
		wantErr bool
	}{
		{
			name:  "valid address",
			input: "aa:bb:cc:00:11:22",
			want:  packet.MACAddr{0xaa, 0xbb, 0xcc, 0x00, 0x11, 0x22},
		},

		{
			name:    "too few groups",
			input:   "aa:bb:cc",
			wantErr: true,
		},

		{
			name:    "not hex",
			input:   "zz:bb:cc:00:11:22",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := packet.ParseMACAddr(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.input, got.String())
		})
	}
}

func TestMACAddrKind(t *testing.T) {
	assert.True(t, packet.BroadcastMAC.IsBroadcast())
	assert.True(t, packet.BroadcastMAC.IsMulticast())
	unicast := packet.MustParseMACAddr("02:00:00:00:00:01")
	assert.True(t, unicast.IsUnicast())
	assert.False(t, unicast.IsBroadcast())
}

func TestMaskWildcard(t *testing.T) {
	tests := []struct {
		name         string
		mask         string
		wantWildcard string
		wantBits     int
	}{
		{
			name:         "slash 24",
			mask:         "255.255.255.0",
			wantWildcard: "0.0.0.255",
			wantBits:     24,
		},

		{
			name:         "slash 30",
			mask:         "255.255.255.252",
			wantWildcard: "0.0.0.3",
			wantBits:     30,
		},

		{
			name:         "host mask",
			mask:         "255.255.255.255",
			wantWildcard: "0.0.0.0",
			wantBits:     32,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mask := packet.MustParseMask(tt.mask)
			assert.Equal(t, tt.wantWildcard, mask.Wildcard().String())
			assert.Equal(t, tt.wantBits, mask.Bits())
			assert.Equal(t, mask, packet.MaskFromBits(tt.wantBits))
		})
	}
}

func TestMaskContains(t *testing.T) {
	mask := packet.MustParseMask("255.255.255.0")
	network := netip.MustParseAddr("10.0.1.0")
	assert.True(t, mask.Contains(network, netip.MustParseAddr("10.0.1.42")))
	assert.False(t, mask.Contains(network, netip.MustParseAddr("10.0.2.42")))
}

func TestChecksumValidAfterBuild(t *testing.T) {
	pkt := packet.NewIPv4Packet(
		netip.MustParseAddr("10.0.0.1"),
		netip.MustParseAddr("10.0.0.2"),
		packet.IPProtocolUDP,
		64,
		&packet.UDPDatagram{SrcPort: 1234, DstPort: 53, Data: []byte("query")},
	)
	assert.True(t, pkt.VerifyChecksum())
}

func TestChecksumDetectsMutation(t *testing.T) {
	base := packet.NewIPv4Packet(
		netip.MustParseAddr("10.0.0.1"),
		netip.MustParseAddr("10.0.0.2"),
		packet.IPProtocolICMP,
		64,
		packet.NewEchoRequest(7, 1, []byte("ping")),
	)

	tests := []struct {
		name   string
		mutate func(pkt packet.IPv4) packet.IPv4
	}{
		{
			name: "TTL rewrite",
			mutate: func(pkt packet.IPv4) packet.IPv4 {
				pkt.TTL--
				return pkt
			},
		},

		{
			name: "source rewrite",
			mutate: func(pkt packet.IPv4) packet.IPv4 {
				pkt.SrcAddr = netip.MustParseAddr("192.0.2.1")
				return pkt
			},
		},

		{
			name: "protocol rewrite",
			mutate: func(pkt packet.IPv4) packet.IPv4 {
				pkt.Protocol = packet.IPProtocolTCP
				return pkt
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mutated := tt.mutate(*base)
			assert.False(t, mutated.VerifyChecksum())
		})
	}
}

func TestTransformsRecomputeChecksum(t *testing.T) {
	base := packet.NewIPv4Packet(
		netip.MustParseAddr("10.0.0.1"),
		netip.MustParseAddr("10.0.0.2"),
		packet.IPProtocolTCP,
		64,
		&packet.TCPSegment{SrcPort: 40000, DstPort: 80, Flags: packet.TCPFlagSYN},
	)

	next := base.WithTTL(63)
	assert.True(t, next.VerifyChecksum())
	assert.Equal(t, uint8(63), next.TTL)
	// the original value is untouched
	assert.Equal(t, uint8(64), base.TTL)
	assert.True(t, base.VerifyChecksum())

	translated := base.WithSrcAddr(netip.MustParseAddr("203.0.113.5")).WithSrcPort(1024)
	assert.True(t, translated.VerifyChecksum())
	port, ok := translated.SrcPort()
	require.True(t, ok)
	assert.Equal(t, uint16(1024), port)
	origPort, _ := base.SrcPort()
	assert.Equal(t, uint16(40000), origPort)
}

func TestICMPChecksum(t *testing.T) {
	req := packet.NewEchoRequest(99, 3, []byte("abcd"))
	assert.True(t, req.VerifyChecksum())
	req.Seq = 4
	assert.False(t, req.VerifyChecksum())

	reply := packet.NewEchoReply(packet.NewEchoRequest(99, 3, []byte("abcd")))
	assert.True(t, reply.VerifyChecksum())
	assert.Equal(t, packet.ICMPTypeEchoReply, reply.Type)
	assert.Equal(t, uint16(99), reply.ID)
}

func TestEstablished(t *testing.T) {
	syn := &packet.TCPSegment{Flags: packet.TCPFlagSYN}
	assert.False(t, syn.Established())
	ack := &packet.TCPSegment{Flags: packet.TCPFlagACK}
	assert.True(t, ack.Established())
	rst := &packet.TCPSegment{Flags: packet.TCPFlagRST}
	assert.True(t, rst.Established())
}
