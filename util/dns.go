package util

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"

	"github.com/treemana/godns/packet"
)

// DNSQuestionString formats q the way dns.Question does, e.g.
// ";www.example.com.	IN	 A".
func DNSQuestionString(q packet.Question) string {
	return (&dns.Question{Name: dns.Fqdn(q.Name), Qtype: q.Type, Qclass: q.Class}).String()
}

// DNSPacketQuestion returns the first question of p formatted for logs.
func DNSPacketQuestion(p *packet.Packet) string {
	if p == nil || len(p.Questions) == 0 {
		return "<no question>"
	}
	return DNSQuestionString(p.Questions[0])
}

func DNSRcodeString(rcode uint8) string {
	if s, ok := dns.RcodeToString[int(rcode)]; ok {
		return s
	}
	return fmt.Sprintf("RCODE%d", rcode)
}

func DNSOpcodeString(opcode uint8) string {
	if s, ok := dns.OpcodeToString[int(opcode)]; ok {
		return s
	}
	return fmt.Sprintf("OPCODE%d", opcode)
}

// DNSDump renders a raw message with miekg/dns for debug logs. Records the
// codec leaves opaque (authority, additional, rdata) are printed in full.
// It falls back to the codec's own dump when miekg/dns rejects the message.
func DNSDump(raw []byte, p *packet.Packet) string {
	var m dns.Msg
	if err := m.Unpack(raw); err != nil {
		return strings.TrimSpace(p.String())
	}
	return strings.TrimSpace(m.String())
}
