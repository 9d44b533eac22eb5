// SPDX-License-Identifier: GPL-3.0-or-later

//
// Wire codec: frames to real Ethernet bytes and back.
//

package packet

import (
	"errors"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// errNotIPv4 is returned when unmarshaling a non-IPv4 frame.
var errNotIPv4 = errors.New("packet: frame does not carry IPv4")

// MarshalFrame serializes a frame carrying an [*IPv4] packet to
// Ethernet wire bytes. The stored header checksum is carried
// bit-exact: the codec never recomputes it, so a stale checksum
// survives the round trip and remains detectable.
func MarshalFrame(frm *Frame) ([]byte, error) {
	pkt, ok := frm.IPv4Payload()
	if !ok {
		return nil, errNotIPv4
	}

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr(frm.SrcMAC[:]),
		DstMAC:       net.HardwareAddr(frm.DstMAC[:]),
		EthernetType: layers.EthernetTypeIPv4,
	}
	stack := []gopacket.SerializableLayer{eth}

	if frm.VLAN != 0 {
		eth.EthernetType = layers.EthernetTypeDot1Q
		stack = append(stack, &layers.Dot1Q{
			VLANIdentifier: frm.VLAN,
			Type:           layers.EthernetTypeIPv4,
		})
	}

	src, dst := pkt.SrcAddr.As4(), pkt.DstAddr.As4()
	ip := &layers.IPv4{
		Version:  IPv4Version,
		IHL:      IPv4HeaderWords,
		Length:   uint16(pkt.TotalLength()),
		Id:       pkt.Identification,
		TTL:      pkt.TTL,
		Protocol: layers.IPProtocol(pkt.Protocol),
		Checksum: pkt.Checksum,
		SrcIP:    net.IP(src[:]),
		DstIP:    net.IP(dst[:]),
	}
	stack = append(stack, ip)

	switch payload := pkt.Payload.(type) {
	case *ICMP:
		stack = append(stack, &layers.ICMPv4{
			TypeCode: layers.CreateICMPv4TypeCode(uint8(payload.Type), payload.Code),
			Checksum: payload.Checksum,
			Id:       payload.ID,
			Seq:      payload.Seq,
		}, gopacket.Payload(payload.Data))
	case *TCPSegment:
		seg := &layers.TCP{
			SrcPort: layers.TCPPort(payload.SrcPort),
			DstPort: layers.TCPPort(payload.DstPort),
			FIN:     payload.Flags&TCPFlagFIN != 0,
			SYN:     payload.Flags&TCPFlagSYN != 0,
			RST:     payload.Flags&TCPFlagRST != 0,
			PSH:     payload.Flags&TCPFlagPSH != 0,
			ACK:     payload.Flags&TCPFlagACK != 0,
		}
		stack = append(stack, seg, gopacket.Payload(payload.Data))
	case *UDPDatagram:
		stack = append(stack, &layers.UDP{
			SrcPort: layers.UDPPort(payload.SrcPort),
			DstPort: layers.UDPPort(payload.DstPort),
		}, gopacket.Payload(payload.Data))
	case Raw:
		stack = append(stack, gopacket.Payload(payload))
	case nil:
		// header-only packet
	default:
		// in-memory protocol payloads (e.g. OSPF) have no
		// wire rendering and marshal as an empty payload
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: false}
	if err := gopacket.SerializeLayers(buf, opts, stack...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalFrame parses Ethernet wire bytes produced by
// [MarshalFrame] back into a frame.
func UnmarshalFrame(data []byte) (*Frame, error) {
	parsed := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)

	ethLayer := parsed.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return nil, errors.New("packet: missing Ethernet layer")
	}
	eth := ethLayer.(*layers.Ethernet)

	frm := &Frame{EtherType: EtherTypeIPv4}
	copy(frm.SrcMAC[:], eth.SrcMAC)
	copy(frm.DstMAC[:], eth.DstMAC)

	if dot1qLayer := parsed.Layer(layers.LayerTypeDot1Q); dot1qLayer != nil {
		frm.VLAN = dot1qLayer.(*layers.Dot1Q).VLANIdentifier
	}

	ipLayer := parsed.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return nil, errNotIPv4
	}
	ip := ipLayer.(*layers.IPv4)

	srcAddr, _ := netip.AddrFromSlice(ip.SrcIP.To4())
	dstAddr, _ := netip.AddrFromSlice(ip.DstIP.To4())
	pkt := &IPv4{
		Identification: ip.Id,
		TTL:            ip.TTL,
		Protocol:       IPProtocol(ip.Protocol),
		Checksum:       ip.Checksum,
		SrcAddr:        srcAddr,
		DstAddr:        dstAddr,
	}

	switch {
	case parsed.Layer(layers.LayerTypeICMPv4) != nil:
		icmp := parsed.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
		pkt.Payload = &ICMP{
			Type:     ICMPType(icmp.TypeCode.Type()),
			Code:     icmp.TypeCode.Code(),
			Checksum: icmp.Checksum,
			ID:       icmp.Id,
			Seq:      icmp.Seq,
			Data:     append([]byte{}, icmp.Payload...),
		}
	case parsed.Layer(layers.LayerTypeTCP) != nil:
		seg := parsed.Layer(layers.LayerTypeTCP).(*layers.TCP)
		var flags TCPFlags
		for _, entry := range []struct {
			set  bool
			flag TCPFlags
		}{
			{seg.FIN, TCPFlagFIN},
			{seg.SYN, TCPFlagSYN},
			{seg.RST, TCPFlagRST},
			{seg.PSH, TCPFlagPSH},
			{seg.ACK, TCPFlagACK},
		} {
			if entry.set {
				flags |= entry.flag
			}
		}
		pkt.Payload = &TCPSegment{
			SrcPort: uint16(seg.SrcPort),
			DstPort: uint16(seg.DstPort),
			Flags:   flags,
			Data:    append([]byte{}, seg.Payload...),
		}
	case parsed.Layer(layers.LayerTypeUDP) != nil:
		dgram := parsed.Layer(layers.LayerTypeUDP).(*layers.UDP)
		pkt.Payload = &UDPDatagram{
			SrcPort: uint16(dgram.SrcPort),
			DstPort: uint16(dgram.DstPort),
			Data:    append([]byte{}, dgram.Payload...),
		}
	default:
		if raw := ip.Payload; len(raw) > 0 {
			pkt.Payload = Raw(append([]byte{}, raw...))
		}
	}

	frm.Payload = pkt
	return frm, nil
}
