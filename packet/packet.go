// Package packet decodes and encodes DNS messages in wire format.
//
// Decode keeps the exact bytes of the question and answer sections next to the
// parsed records so a reply can be rebuilt from them without re-encoding names.
package packet

import (
	"fmt"
	"strings"
)

const (
	headerLen = 12

	// StandardQuery is a query with recursion desired.
	StandardQuery uint16 = 0x0100
	// StandardResponse is a successful recursive response.
	StandardResponse uint16 = 0x8180
)

// Flag is the second 16-bit word of the header.
type Flag struct {
	QR     bool  // response(1) or query(0)
	Opcode uint8 // 4 bits
	AA     bool  // authoritative answer
	TC     bool  // truncation
	RD     bool  // recursion desired
	RA     bool  // recursion available
	Z      uint8 // 3 bits, reserved
	Rcode  uint8 // 4 bits
}

func FlagFromUint16(v uint16) Flag {
	return Flag{
		QR:     v&0x8000 != 0,
		Opcode: uint8(v>>11) & 0x0f,
		AA:     v&0x0400 != 0,
		TC:     v&0x0200 != 0,
		RD:     v&0x0100 != 0,
		RA:     v&0x0080 != 0,
		Z:      uint8(v>>4) & 0x07,
		Rcode:  uint8(v) & 0x0f,
	}
}

func (f Flag) Uint16() uint16 {
	var v uint16
	if f.QR {
		v |= 0x8000
	}
	v |= uint16(f.Opcode&0x0f) << 11
	if f.AA {
		v |= 0x0400
	}
	if f.TC {
		v |= 0x0200
	}
	if f.RD {
		v |= 0x0100
	}
	if f.RA {
		v |= 0x0080
	}
	v |= uint16(f.Z&0x07) << 4
	v |= uint16(f.Rcode & 0x0f)
	return v
}

// Header carries no section counts, they always come from the packet's slices.
type Header struct {
	ID   uint16
	Flag Flag
}

type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

type Answer struct {
	Name  string
	Type  uint16
	Class uint16
	TTL   uint32
	Data  []byte
}

// RDLength saturates at 65535, Encode rejects anything longer.
func (a Answer) RDLength() uint16 {
	if len(a.Data) > 0xffff {
		return 0xffff
	}
	return uint16(len(a.Data))
}

// Placeholder stands for an authority or additional record that was counted
// but not parsed.
type Placeholder struct{}

type Packet struct {
	Header      Header
	Questions   []Question
	Answers     []Answer
	Authorities []Placeholder
	Additionals []Placeholder

	// RawQuestions and RawAnswers are the section bytes exactly as they were
	// read by Decode. Empty for packets built in memory.
	RawQuestions []byte
	RawAnswers   []byte
}

func (p *Packet) QDCount() int { return len(p.Questions) }
func (p *Packet) ANCount() int { return len(p.Answers) }

func (p *Packet) IsQuery() bool { return !p.Header.Flag.QR }

// String dumps the packet for debug logging.
func (p *Packet) String() string {
	if p == nil {
		return "<nil>"
	}

	var b strings.Builder
	f := p.Header.Flag
	fmt.Fprintf(&b, "id=%d flag=0x%04x qr=%t opcode=%d aa=%t tc=%t rd=%t ra=%t z=%d rcode=%d\n",
		p.Header.ID, f.Uint16(), f.QR, f.Opcode, f.AA, f.TC, f.RD, f.RA, f.Z, f.Rcode)
	fmt.Fprintf(&b, "qd=%d an=%d ns=%d ar=%d\n", len(p.Questions), len(p.Answers), len(p.Authorities), len(p.Additionals))
	for _, q := range p.Questions {
		fmt.Fprintf(&b, "question name=%s type=%d class=%d\n", q.Name, q.Type, q.Class)
	}
	for _, a := range p.Answers {
		fmt.Fprintf(&b, "answer name=%s type=%d class=%d ttl=%d rdata=% x\n", a.Name, a.Type, a.Class, a.TTL, a.Data)
	}
	return b.String()
}
