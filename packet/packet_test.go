package packet

import (
	"encoding/binary"
	"net"
	"strings"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

var (
	// www.northeastern.edu IN A
	northeasternQuestion = []byte{
		0x03, 0x77, 0x77, 0x77, 0x0c, 0x6e, 0x6f, 0x72, 0x74, 0x68, 0x65, 0x61, 0x73,
		0x74, 0x65, 0x72, 0x6e, 0x03, 0x65, 0x64, 0x75, 0x00, 0x00, 0x01, 0x00, 0x01,
	}

	// one answer, name is a pointer to the question name, ttl 600, 155.33.17.68
	northeasternAnswer = []byte{
		0xc0, 0x0c, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x58, 0x00, 0x04, 0x9b, 0x21, 0x11, 0x44,
	}
)

func header(id, flag, qd, an, ns, ar uint16) []byte {
	b := make([]byte, 0, headerLen)
	for _, v := range []uint16{id, flag, qd, an, ns, ar} {
		b = binary.BigEndian.AppendUint16(b, v)
	}
	return b
}

func record(name []byte, typ uint16, ttl uint32, rdata []byte) []byte {
	b := append([]byte{}, name...)
	b = binary.BigEndian.AppendUint16(b, typ)
	b = binary.BigEndian.AppendUint16(b, 1)
	b = binary.BigEndian.AppendUint32(b, ttl)
	b = binary.BigEndian.AppendUint16(b, uint16(len(rdata)))
	return append(b, rdata...)
}

func concat(parts ...[]byte) []byte {
	var b []byte
	for _, p := range parts {
		b = append(b, p...)
	}
	return b
}

func northeasternResponse() []byte {
	return concat(header(0xdb42, 0x8180, 1, 1, 0, 0), northeasternQuestion, northeasternAnswer)
}

func TestReadQuestion(t *testing.T) {
	r := &reader{msg: northeasternQuestion}
	q, err := readQuestion(r)
	require.NoError(t, err)
	require.Equal(t, "www.northeastern.edu", q.Name)
	require.Equal(t, uint16(1), q.Type)
	require.Equal(t, uint16(1), q.Class)
	require.Equal(t, len(northeasternQuestion), r.off)
}

func TestDecode(t *testing.T) {
	msg := northeasternResponse()

	p, err := Decode(msg)
	require.NoError(t, err)

	require.Equal(t, uint16(0xdb42), p.Header.ID)
	require.Equal(t, StandardResponse, p.Header.Flag.Uint16())
	require.False(t, p.IsQuery())
	require.Equal(t, 1, p.QDCount())
	require.Equal(t, 1, p.ANCount())

	require.Equal(t, Question{Name: "www.northeastern.edu", Type: 1, Class: 1}, p.Questions[0])

	a := p.Answers[0]
	require.Equal(t, "www.northeastern.edu", a.Name)
	require.Equal(t, uint16(1), a.Type)
	require.Equal(t, uint16(1), a.Class)
	require.Equal(t, uint32(600), a.TTL)
	require.Equal(t, []byte{0x9b, 0x21, 0x11, 0x44}, a.Data)
	require.Equal(t, uint16(4), a.RDLength())

	require.Equal(t, northeasternQuestion, p.RawQuestions)
	require.Equal(t, northeasternAnswer, p.RawAnswers)

	// the packet must not alias the input buffer
	msg[12] = 0x7f
	require.Equal(t, byte(0x03), p.RawQuestions[0])
}

func TestDecodeCountsPlaceholders(t *testing.T) {
	msg := concat(header(1, StandardQuery, 1, 0, 2, 1), northeasternQuestion)

	p, err := Decode(msg)
	require.NoError(t, err)
	require.Len(t, p.Authorities, 2)
	require.Len(t, p.Additionals, 1)
	require.Empty(t, p.RawAnswers)
}

func TestDecodePointerEqualsSpelledOut(t *testing.T) {
	spelled := concat(
		header(1, StandardResponse, 1, 1, 0, 0),
		northeasternQuestion,
		record(northeasternQuestion[:22], 1, 600, []byte{1, 2, 3, 4}),
	)
	pointed := concat(
		header(1, StandardResponse, 1, 1, 0, 0),
		northeasternQuestion,
		record([]byte{0xc0, 0x0c}, 1, 600, []byte{1, 2, 3, 4}),
	)

	ps, err := Decode(spelled)
	require.NoError(t, err)
	pp, err := Decode(pointed)
	require.NoError(t, err)

	require.Equal(t, ps.Answers, pp.Answers)
	require.Equal(t, ps.Questions, pp.Questions)
}

func TestDecodeChainedPointers(t *testing.T) {
	// answer 1 at offset 38: mail + pointer to "northeastern.edu" at 16
	// answer 2 at offset 59: smtp + pointer to answer 1's name at 38
	msg := concat(
		header(2, StandardResponse, 1, 2, 0, 0),
		northeasternQuestion,
		record([]byte{0x04, 'm', 'a', 'i', 'l', 0xc0, 0x10}, 1, 300, []byte{10, 0, 0, 1}),
		record([]byte{0x04, 's', 'm', 't', 'p', 0xc0, 0x26}, 1, 60, []byte{10, 0, 0, 2}),
	)

	p, err := Decode(msg)
	require.NoError(t, err)
	require.Len(t, p.Answers, 2)
	require.Equal(t, "mail.northeastern.edu", p.Answers[0].Name)
	require.Equal(t, "smtp.mail.northeastern.edu", p.Answers[1].Name)
	require.Equal(t, []byte{10, 0, 0, 2}, p.Answers[1].Data)
	require.Equal(t, msg[38:], p.RawAnswers)
}

func TestDecodeFailure(t *testing.T) {
	full := northeasternResponse()

	tests := []struct {
		name string
		msg  []byte
		want error
	}{
		{
			name: "empty",
			msg:  nil,
			want: ErrShortRead,
		},
		{
			name: "truncated header",
			msg:  full[:11],
			want: ErrShortRead,
		},
		{
			name: "truncated question",
			msg:  full[:30],
			want: ErrShortRead,
		},
		{
			name: "question count exceeds bytes",
			msg:  concat(header(1, StandardQuery, 2, 0, 0, 0), northeasternQuestion),
			want: ErrShortRead,
		},
		{
			name: "answer count exceeds bytes",
			msg:  concat(header(1, StandardResponse, 1, 2, 0, 0), northeasternQuestion, northeasternAnswer),
			want: ErrShortRead,
		},
		{
			name: "rdata truncated",
			msg:  full[:len(full)-1],
			want: ErrShortRead,
		},
		{
			name: "pointer beyond packet",
			msg:  concat(header(1, StandardQuery, 1, 0, 0, 0), []byte{0xc0, 0xff, 0x00, 0x01, 0x00, 0x01}),
			want: ErrPointerOutOfRange,
		},
		{
			name: "half pointer",
			msg:  concat(header(1, StandardQuery, 1, 0, 0, 0), []byte{0xc0}),
			want: ErrShortRead,
		},
		{
			name: "pointer to itself",
			msg:  concat(header(1, StandardQuery, 1, 0, 0, 0), []byte{0xc0, 0x0c, 0x00, 0x01, 0x00, 0x01}),
			want: ErrNameTooLong,
		},
		{
			name: "two pointers to each other",
			msg:  concat(header(1, StandardQuery, 1, 0, 0, 0), []byte{0x01, 'a', 0xc0, 0x10, 0x01, 'b', 0xc0, 0x0c}),
			want: ErrNameTooLong,
		},
		{
			name: "reserved label type",
			msg:  concat(header(1, StandardQuery, 1, 0, 0, 0), []byte{0x41, 0x00, 0x00, 0x01, 0x00, 0x01}),
			want: ErrBadLabel,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Decode(tt.msg)
			require.ErrorIs(t, err, tt.want)
			require.Nil(t, p)
		})
	}
}

func TestDecodeLongName(t *testing.T) {
	labels := func(n, size int) string {
		l := make([]string, n)
		for i := range l {
			l[i] = strings.Repeat("a", size)
		}
		return strings.Join(l, ".")
	}

	tests := []struct {
		name    string
		qname   string
		wantErr error
	}{
		{
			name:  "at the cap",
			qname: labels(7, 9) + ".bbbbb",
		},
		{
			name:    "80 characters",
			qname:   labels(9, 8),
			wantErr: ErrNameTooLong,
		},
		{
			name:    "99 characters",
			qname:   labels(10, 9),
			wantErr: ErrNameTooLong,
		},
		{
			name:    "five full labels",
			qname:   labels(5, 63),
			wantErr: ErrNameTooLong,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, err := appendName(nil, tt.qname)
			require.NoError(t, err)

			p, err := Decode(concat(header(1, StandardQuery, 1, 0, 0, 0), name, []byte{0, 1, 0, 1}))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, tt.qname, MaxNameLength)
			require.Equal(t, tt.qname, p.Questions[0].Name)
		})
	}
}

func TestDecodeUntrustedCounts(t *testing.T) {
	tests := []struct {
		name string
		msg  []byte
	}{
		{
			name: "question count",
			msg:  header(1, StandardQuery, 0xffff, 0, 0, 0),
		},
		{
			name: "answer count",
			msg:  concat(header(1, StandardResponse, 1, 0xffff, 0, 0), northeasternQuestion),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.msg)
			require.ErrorIs(t, err, ErrShortRead)

			res := testing.Benchmark(func(b *testing.B) {
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					_, _ = Decode(tt.msg)
				}
			})
			require.Less(t, res.AllocedBytesPerOp(), int64(1024))
		})
	}
}

func TestDecodeKeepsCase(t *testing.T) {
	q := []byte{0x03, 'W', 'w', 'W', 0x00, 0x00, 0x01, 0x00, 0x01}
	p, err := Decode(concat(header(1, StandardQuery, 1, 0, 0, 0), q))
	require.NoError(t, err)
	require.Equal(t, "WwW", p.Questions[0].Name)
	require.Equal(t, q, p.RawQuestions)
}

func TestEncodeRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		packet *Packet
	}{
		{
			name: "query",
			packet: &Packet{
				Header:    Header{ID: 0x1234, Flag: FlagFromUint16(StandardQuery)},
				Questions: []Question{{Name: "www.northeastern.edu", Type: 1, Class: 1}},
			},
		},
		{
			name: "response",
			packet: &Packet{
				Header:    Header{ID: 7, Flag: FlagFromUint16(StandardResponse)},
				Questions: []Question{{Name: "example.com", Type: 28, Class: 1}},
				Answers: []Answer{
					{Name: "example.com", Type: 28, Class: 1, TTL: 30, Data: net.ParseIP("2001:db8::1").To16()},
					{Name: "example.com", Type: 28, Class: 1, TTL: 3600, Data: net.ParseIP("2001:db8::2").To16()},
				},
			},
		},
		{
			name: "root name and empty rdata",
			packet: &Packet{
				Header:    Header{ID: 9, Flag: Flag{QR: true, Opcode: 2, AA: true, TC: true, Z: 5, Rcode: 3}},
				Questions: []Question{{Name: "", Type: 2, Class: 1}},
				Answers:   []Answer{{Name: "", Type: 10, Class: 255, TTL: 0, Data: []byte{}}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Encode(tt.packet)
			require.NoError(t, err)

			got, err := Decode(raw)
			require.NoError(t, err)
			require.Equal(t, tt.packet.Header, got.Header)
			require.Equal(t, tt.packet.Questions, got.Questions)
			require.Equal(t, tt.packet.Answers, got.Answers)
		})
	}
}

func TestEncodeFailure(t *testing.T) {
	long := make([]byte, 64)
	for i := range long {
		long[i] = 'x'
	}

	tests := []struct {
		name   string
		packet *Packet
		want   error
	}{
		{
			name:   "label too long",
			packet: &Packet{Questions: []Question{{Name: string(long) + ".com"}}},
			want:   ErrLabelTooLong,
		},
		{
			name:   "empty label",
			packet: &Packet{Questions: []Question{{Name: "a..com"}}},
			want:   ErrBadLabel,
		},
		{
			name:   "rdata too long",
			packet: &Packet{Answers: []Answer{{Name: "a.com", Data: make([]byte, 0x10000)}}},
			want:   ErrDataTooLong,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.packet)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEncodeReply(t *testing.T) {
	h := Header{ID: 0xdb42, Flag: FlagFromUint16(StandardResponse)}
	got := EncodeReply(h, northeasternQuestion, 1, northeasternAnswer, 1)
	require.Equal(t, northeasternResponse(), got)
}

func TestFlag(t *testing.T) {
	tests := []struct {
		name string
		raw  uint16
		want Flag
	}{
		{
			name: "standard query",
			raw:  StandardQuery,
			want: Flag{RD: true},
		},
		{
			name: "standard response",
			raw:  StandardResponse,
			want: Flag{QR: true, RD: true, RA: true},
		},
		{
			name: "nxdomain",
			raw:  0x8183,
			want: Flag{QR: true, RD: true, RA: true, Rcode: 3},
		},
		{
			name: "every bit",
			raw:  0xffff,
			want: Flag{QR: true, Opcode: 15, AA: true, TC: true, RD: true, RA: true, Z: 7, Rcode: 15},
		},
		{
			name: "status opcode",
			raw:  0x1000,
			want: Flag{Opcode: 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FlagFromUint16(tt.raw)
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.raw, got.Uint16())
		})
	}
}

func TestDecodeMiekgMessage(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("www.example.com.", dns.TypeA)

	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.RecursionAvailable = true
	resp.Compress = true
	for _, ip := range []string{"192.0.2.1", "192.0.2.2"} {
		resp.Answer = append(resp.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: "www.example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 120},
			A:   net.ParseIP(ip).To4(),
		})
	}
	resp.Ns = append(resp.Ns, &dns.NS{
		Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeNS, Class: dns.ClassINET, Ttl: 120},
		Ns:  "ns.example.com.",
	})

	raw, err := resp.Pack()
	require.NoError(t, err)

	p, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, resp.Id, p.Header.ID)
	require.True(t, p.Header.Flag.QR)
	require.True(t, p.Header.Flag.RD)
	require.True(t, p.Header.Flag.RA)
	require.Equal(t, "www.example.com", p.Questions[0].Name)
	require.Len(t, p.Answers, 2)
	require.Len(t, p.Authorities, 1)
	for i, a := range p.Answers {
		require.Equal(t, "www.example.com", a.Name)
		require.Equal(t, []byte(resp.Answer[i].(*dns.A).A.To4()), a.Data)
	}

	// re-encoded without compression, miekg must still read the same records
	out, err := Encode(p)
	require.NoError(t, err)

	back := new(dns.Msg)
	require.NoError(t, back.Unpack(out))
	require.Equal(t, resp.Id, back.Id)
	require.Equal(t, resp.Question, back.Question)
	require.Len(t, back.Answer, 2)
	require.Equal(t, "192.0.2.2", back.Answer[1].(*dns.A).A.String())
	require.Empty(t, back.Ns)
}

func TestString(t *testing.T) {
	p, err := Decode(northeasternResponse())
	require.NoError(t, err)
	require.Contains(t, p.String(), "www.northeastern.edu")

	var nilPacket *Packet
	require.Equal(t, "<nil>", nilPacket.String())
}
