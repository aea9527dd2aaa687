package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// MaxNameLength caps the decoded length of one name, dots included. Every
// pointer jump is charged 2 more, so pointer loops always terminate.
const MaxNameLength = 75

// smallest question is the root name plus type and class, smallest answer
// adds ttl and rdlength
const (
	minQuestionLen = 5
	minAnswerLen   = 11
)

var (
	ErrShortRead         = errors.New("short read")
	ErrNameTooLong       = errors.New("name too long")
	ErrPointerOutOfRange = errors.New("compression pointer out of range")
	ErrBadLabel          = errors.New("bad label")
)

type reader struct {
	msg []byte
	off int
}

func (r *reader) u16() (uint16, error) {
	if len(r.msg)-r.off < 2 {
		return 0, ErrShortRead
	}
	v := binary.BigEndian.Uint16(r.msg[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if len(r.msg)-r.off < 4 {
		return 0, ErrShortRead
	}
	v := binary.BigEndian.Uint32(r.msg[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if len(r.msg)-r.off < n {
		return nil, ErrShortRead
	}
	b := bytes.Clone(r.msg[r.off : r.off+n])
	r.off += n
	return b, nil
}

func (r *reader) name() (string, error) {
	name, next, err := readName(r.msg, r.off)
	if err != nil {
		return "", err
	}
	r.off = next
	return name, nil
}

// readName decodes the name starting at off and returns it together with the
// offset right after the name at its original position.
func readName(msg []byte, off int) (string, int, error) {
	var (
		labels []string
		walked int // decoded length plus the pointer charge
		next   = -1
	)

	for {
		if off >= len(msg) {
			return "", 0, ErrShortRead
		}

		l := int(msg[off])
		switch l & 0xc0 {
		case 0x00:
			if l == 0 {
				if next < 0 {
					next = off + 1
				}
				return strings.Join(labels, "."), next, nil
			}
			if len(labels) > 0 {
				walked++
			}
			if walked += l; walked > MaxNameLength {
				return "", 0, ErrNameTooLong
			}
			if off+1+l > len(msg) {
				return "", 0, ErrShortRead
			}
			labels = append(labels, string(msg[off+1:off+1+l]))
			off += 1 + l
		case 0xc0:
			if off+2 > len(msg) {
				return "", 0, ErrShortRead
			}
			if walked += 2; walked > MaxNameLength {
				return "", 0, ErrNameTooLong
			}
			ptr := int(binary.BigEndian.Uint16(msg[off:]) & 0x3fff)
			if ptr >= len(msg) {
				return "", 0, ErrPointerOutOfRange
			}
			if next < 0 {
				next = off + 2
			}
			off = ptr
		default:
			// 0x40 and 0x80 label types are not defined for names
			return "", 0, fmt.Errorf("label type 0x%02x error=[%w]", l&0xc0, ErrBadLabel)
		}
	}
}

func readQuestion(r *reader) (Question, error) {
	var (
		q   Question
		err error
	)
	if q.Name, err = r.name(); err != nil {
		return q, err
	}
	if q.Type, err = r.u16(); err != nil {
		return q, err
	}
	if q.Class, err = r.u16(); err != nil {
		return q, err
	}
	return q, nil
}

func readAnswer(r *reader) (Answer, error) {
	var (
		a   Answer
		err error
	)
	if a.Name, err = r.name(); err != nil {
		return a, err
	}
	if a.Type, err = r.u16(); err != nil {
		return a, err
	}
	if a.Class, err = r.u16(); err != nil {
		return a, err
	}
	if a.TTL, err = r.u32(); err != nil {
		return a, err
	}

	var rdlength uint16
	if rdlength, err = r.u16(); err != nil {
		return a, err
	}
	if a.Data, err = r.bytes(int(rdlength)); err != nil {
		return a, err
	}
	return a, nil
}

// Decode parses the header, the question section and the answer section of
// msg. Authority and additional records are only counted. The returned packet
// does not alias msg.
func Decode(msg []byte) (*Packet, error) {
	if len(msg) < headerLen {
		return nil, fmt.Errorf("header length=%d error=[%w]", len(msg), ErrShortRead)
	}

	r := &reader{msg: msg}
	var p Packet

	p.Header.ID, _ = r.u16()
	flag, _ := r.u16()
	p.Header.Flag = FlagFromUint16(flag)
	qdcount, _ := r.u16()
	ancount, _ := r.u16()
	nscount, _ := r.u16()
	arcount, _ := r.u16()

	start := r.off
	// the header counts are untrusted, reserve no more than the bytes can hold
	if n := min(int(qdcount), (len(msg)-r.off)/minQuestionLen); n > 0 {
		p.Questions = make([]Question, 0, n)
	}
	for i := 0; i < int(qdcount); i++ {
		q, err := readQuestion(r)
		if err != nil {
			return nil, fmt.Errorf("question %d error=[%w]", i, err)
		}
		p.Questions = append(p.Questions, q)
	}
	p.RawQuestions = bytes.Clone(msg[start:r.off])

	start = r.off
	if n := min(int(ancount), (len(msg)-r.off)/minAnswerLen); n > 0 {
		p.Answers = make([]Answer, 0, n)
	}
	for i := 0; i < int(ancount); i++ {
		a, err := readAnswer(r)
		if err != nil {
			return nil, fmt.Errorf("answer %d error=[%w]", i, err)
		}
		p.Answers = append(p.Answers, a)
	}
	p.RawAnswers = bytes.Clone(msg[start:r.off])

	if nscount > 0 {
		p.Authorities = make([]Placeholder, nscount)
	}
	if arcount > 0 {
		p.Additionals = make([]Placeholder, arcount)
	}

	return &p, nil
}
