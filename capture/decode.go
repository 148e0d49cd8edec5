package capture

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	pnet "github.com/jinmuyano/procnet"
)

// decoder turns raw link-layer bytes into frames. Not safe for concurrent
// use, every capture goroutine owns one.
type decoder struct {
	ethLayer  layers.Ethernet
	sllLayer  layers.LinuxSLL
	ip4Layer  layers.IPv4
	ip6Layer  layers.IPv6
	tcpLayer  layers.TCP
	udpLayer  layers.UDP
	linkLayer gopacket.LayerType

	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

func newDecoder(link layers.LinkType) *decoder {
	d := &decoder{
		decoded: make([]gopacket.LayerType, 0, 4),
	}

	d.linkLayer = layers.LayerTypeEthernet
	if link == layers.LinkTypeLinuxSLL {
		d.linkLayer = layers.LayerTypeLinuxSLL
	}

	d.parser = gopacket.NewDecodingLayerParser(
		d.linkLayer,
		&d.ethLayer,
		&d.sllLayer,
		&d.ip4Layer,
		&d.ip6Layer,
		&d.tcpLayer,
		&d.udpLayer,
	)
	d.parser.IgnoreUnsupported = true
	return d
}

// decode never fails, a frame it cannot read ports from comes back without
// HasPorts and is ignored downstream.
func (d *decoder) decode(data []byte, ci gopacket.CaptureInfo) pnet.Frame {
	frame := pnet.Frame{
		Timestamp: ci.Timestamp,
		Length:    ci.Length,
	}
	if frame.Length <= 0 {
		frame.Length = len(data)
	}

	// truncated packets still carry the layers decoded before the error
	_ = d.parser.DecodeLayers(data, &d.decoded)

	for _, typ := range d.decoded {
		switch typ {
		case layers.LayerTypeEthernet:
			frame.SrcMAC = cloneMAC(d.ethLayer.SrcMAC)
		case layers.LayerTypeLinuxSLL:
			frame.SrcMAC = cloneMAC(d.sllLayer.Addr)
		case layers.LayerTypeTCP:
			frame.HasPorts = true
			frame.SrcPort = uint16(d.tcpLayer.SrcPort)
			frame.DstPort = uint16(d.tcpLayer.DstPort)
		case layers.LayerTypeUDP:
			frame.HasPorts = true
			frame.SrcPort = uint16(d.udpLayer.SrcPort)
			frame.DstPort = uint16(d.udpLayer.DstPort)
		}
	}
	return frame
}

// the parser reuses its layer structs, frames must not alias them
func cloneMAC(mac net.HardwareAddr) net.HardwareAddr {
	if len(mac) == 0 {
		return nil
	}
	out := make(net.HardwareAddr, len(mac))
	copy(out, mac)
	return out
}
