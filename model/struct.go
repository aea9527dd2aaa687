package model

import (
	"net"

	"github.com/treemana/godns/packet"
)

type DT struct {
	// SN serial number, the order the datagram was read from the udp connection
	SN uint64

	// RemoteAddr the sender udp address, a client or the upstream
	RemoteAddr *net.UDPAddr

	// LocalIP the destination address of the datagram, only known when control
	// messages are enabled; replies are sent from it
	LocalIP net.IP

	// Raw the datagram as received, forwarded upstream untouched on a miss
	Raw []byte

	Packet *packet.Packet

	Cached bool // when the reply came from the cache without waiting, true will be set
}
