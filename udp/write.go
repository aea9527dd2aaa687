package udp

import (
	"net"
	"time"

	"github.com/treemana/godns/util"
)

// write sends bytes to addr on the shared socket. A non nil src is used as the
// source address when control messages are enabled.
func (s *Server) write(bytes []byte, addr *net.UDPAddr, src net.IP) error {

	if err := s.conn.SetWriteDeadline(time.Now().Add(defaultTimeout)); err != nil {
		return err
	}

	if s.controlMessage && src != nil {
		_, _, err := s.conn.WriteMsgUDP(bytes, util.GetOOBWithSrc(src), addr)
		return err
	}

	_, err := s.conn.WriteToUDP(bytes, addr)
	return err
}
