package util

import (
	"net"

	"golang.org/x/net/ipv4"
)

const (
	// ipv4Flags is the set of socket option flags for configuring an IPv4 UDP
	// connection to receive the destination address and the interface index
	ipv4Flags = ipv4.FlagDst | ipv4.FlagInterface
)

var oobSize = len(ipv4.NewControlMessage(ipv4Flags))

func Read(c *net.UDPConn, buf []byte) (n int, remoteAddr *net.UDPAddr, err error) {
	n, remoteAddr, err = c.ReadFromUDP(buf)
	if err != nil {
		return -1, nil, err
	}

	return n, remoteAddr, nil
}

// ReadWithDst reads like Read and also returns the destination address of the
// datagram. The connection must have control messages enabled, otherwise dst
// is nil.
func ReadWithDst(c *net.UDPConn, buf []byte) (n int, remoteAddr *net.UDPAddr, dst net.IP, err error) {
	oob := make([]byte, oobSize)

	var oobn int
	n, oobn, _, remoteAddr, err = c.ReadMsgUDP(buf, oob)
	if err != nil {
		return -1, nil, nil, err
	}

	return n, remoteAddr, GetDstFromOOB(oob[:oobn]), nil
}

// SetControlMessage asks the kernel to attach the destination address to every
// datagram read from conn.
func SetControlMessage(conn *net.UDPConn) error {
	return ipv4.NewPacketConn(conn).SetControlMessage(ipv4Flags, true)
}

func GetDstFromOOB(oob []byte) net.IP {
	if len(oob) == 0 {
		return nil
	}

	var cm ipv4.ControlMessage
	if err := cm.Parse(oob); err != nil {
		return nil
	}

	return cm.Dst
}

// GetOOBWithSrc makes the OOB data with a specified source IP.
func GetOOBWithSrc(ip net.IP) []byte {
	if ip4 := ip.To4(); ip4 != nil {
		return (&ipv4.ControlMessage{Src: ip4}).Marshal()
	}

	return nil
}
