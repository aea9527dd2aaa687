package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const maxLabelLength = 63

var (
	ErrLabelTooLong = errors.New("label too long")
	ErrDataTooLong  = errors.New("rdata too long")
)

func appendHeader(b []byte, h Header, qdcount, ancount int) []byte {
	b = binary.BigEndian.AppendUint16(b, h.ID)
	b = binary.BigEndian.AppendUint16(b, h.Flag.Uint16())
	b = binary.BigEndian.AppendUint16(b, uint16(qdcount))
	b = binary.BigEndian.AppendUint16(b, uint16(ancount))
	b = binary.BigEndian.AppendUint16(b, 0) // nscount
	b = binary.BigEndian.AppendUint16(b, 0) // arcount
	return b
}

// appendName writes name as plain labels, compression is never used.
func appendName(b []byte, name string) ([]byte, error) {
	name = strings.TrimSuffix(name, ".")
	if len(name) == 0 {
		return append(b, 0), nil
	}

	if len(name)+2 > MaxNameLength {
		return nil, fmt.Errorf("name=[%s] error=[%w]", name, ErrNameTooLong)
	}

	for _, label := range strings.Split(name, ".") {
		switch {
		case len(label) == 0:
			return nil, fmt.Errorf("empty label in name=[%s] error=[%w]", name, ErrBadLabel)
		case len(label) > maxLabelLength:
			return nil, fmt.Errorf("name=[%s] error=[%w]", name, ErrLabelTooLong)
		}
		b = append(b, byte(len(label)))
		b = append(b, label...)
	}

	return append(b, 0), nil
}

// Encode serializes the header, questions and answers of p. Section counts
// come from the slices; authority and additional placeholders are not written.
func Encode(p *Packet) ([]byte, error) {
	b := make([]byte, 0, 512)
	b = appendHeader(b, p.Header, len(p.Questions), len(p.Answers))

	var err error
	for _, q := range p.Questions {
		if b, err = appendName(b, q.Name); err != nil {
			return nil, err
		}
		b = binary.BigEndian.AppendUint16(b, q.Type)
		b = binary.BigEndian.AppendUint16(b, q.Class)
	}

	for _, a := range p.Answers {
		if len(a.Data) > 0xffff {
			return nil, fmt.Errorf("name=[%s] rdlength=%d error=[%w]", a.Name, len(a.Data), ErrDataTooLong)
		}
		if b, err = appendName(b, a.Name); err != nil {
			return nil, err
		}
		b = binary.BigEndian.AppendUint16(b, a.Type)
		b = binary.BigEndian.AppendUint16(b, a.Class)
		b = binary.BigEndian.AppendUint32(b, a.TTL)
		b = binary.BigEndian.AppendUint16(b, a.RDLength())
		b = append(b, a.Data...)
	}

	return b, nil
}

// EncodeReply builds a message from a header and section bytes captured by
// Decode. The names inside the raw sections are copied untouched, so
// compression pointers stay valid as long as the question section is the one
// the answers were received with.
func EncodeReply(h Header, rawQuestions []byte, qdcount int, rawAnswers []byte, ancount int) []byte {
	b := make([]byte, 0, headerLen+len(rawQuestions)+len(rawAnswers))
	b = appendHeader(b, h, qdcount, ancount)
	b = append(b, rawQuestions...)
	return append(b, rawAnswers...)
}
