package udp

import (
	"errors"
	"net"
	"weak"

	"go.uber.org/zap"

	"github.com/treemana/godns/cache"
	"github.com/treemana/godns/log"
	"github.com/treemana/godns/model"
	"github.com/treemana/godns/packet"
	"github.com/treemana/godns/util"
)

// produce runs on a pool worker, one call per datagram.
func (s *Server) produce(dt *model.DT) {

	p, err := packet.Decode(dt.Raw)
	if err != nil {
		log.Sugar.Errorf("sn=%d server decode error=[%+v], from=%s, len=%d", dt.SN, err, dt.RemoteAddr, len(dt.Raw))
		return
	}
	dt.Packet = p

	if p.IsQuery() {
		s.query(dt)
		return
	}

	s.response(dt)
}

func (s *Server) query(dt *model.DT) {
	p := dt.Packet

	if len(p.Questions) == 0 {
		log.Sugar.Warnf("sn=%d, id=%d empty question", dt.SN, p.Header.ID)
		return
	}

	if p.Header.Flag.Uint16() != packet.StandardQuery {
		log.Sugar.Warnf("sn=%d, id=%d not a standard query, opcode=%s flag=0x%04x",
			dt.SN, p.Header.ID, util.DNSOpcodeString(p.Header.Flag.Opcode), p.Header.Flag.Uint16())
		log.Sugar.Debugf("sn=%d\n%s", dt.SN, util.DNSDump(dt.Raw, p))
	}

	log.Sugar.Infof("sn=%d, id=%d, query=[%s]", dt.SN, p.Header.ID, util.DNSPacketQuestion(p))

	// local cache hit
	if answer, ok := s.cache.QueryOrRegister(p.RawQuestions, s.callback(dt)); ok {
		dt.Cached = true
		s.reply(dt, answer)
		return
	}

	log.Sugar.Debugf("sn=%d, id=%d cache missed", dt.SN, p.Header.ID)
	s.forward(dt)
}

// callback answers dt once the cache has been updated for its question. It
// only keeps a weak reference to the server, so a pending callback never keeps
// a stopped gateway alive.
func (s *Server) callback(dt *model.DT) func() {
	ref := weak.Make(s)

	return func() {
		gw := ref.Value()
		if gw == nil {
			log.Sugar.Warnf("sn=%d gateway released", dt.SN)
			return
		}

		if !gw.status.Load() {
			log.Sugar.Warnf("sn=%d gateway stopped", dt.SN)
			return
		}

		answer, ok := gw.cache.Query(dt.Packet.RawQuestions)
		if !ok {
			log.Sugar.Warnf("sn=%d, id=%d cache missed in callback", dt.SN, dt.Packet.Header.ID)
			return
		}

		gw.reply(dt, answer)
	}
}

func (s *Server) response(dt *model.DT) {
	p := dt.Packet

	if p.Header.Flag.Uint16() != packet.StandardResponse {
		log.Sugar.Warnf("sn=%d, id=%d not a standard response, rcode=%s flag=0x%04x",
			dt.SN, p.Header.ID, util.DNSRcodeString(p.Header.Flag.Rcode), p.Header.Flag.Uint16())
		log.Sugar.Debugf("sn=%d\n%s", dt.SN, util.DNSDump(dt.Raw, p))
	}

	log.Sugar.Infof("sn=%d, id=%d, response=[%s] from %s answer %d",
		dt.SN, p.Header.ID, util.DNSPacketQuestion(p), dt.RemoteAddr, p.ANCount())

	s.cache.Update(p)
}

func (s *Server) reply(dt *model.DT, answer cache.Answer) {
	header := dt.Packet.Header
	header.Flag = packet.FlagFromUint16(packet.StandardResponse)

	raw := packet.EncodeReply(header, dt.Packet.RawQuestions, dt.Packet.QDCount(), answer.Raw, answer.Count)
	if err := s.write(raw, dt.RemoteAddr, dt.LocalIP); err != nil {
		log.Sugar.Errorf("sn=%d, udp connection write error=[%+v]", dt.SN, err)
		return
	}

	log.Sugar.Infof("sn=%d, id=%d, cache=%t, answer %d to %s", dt.SN, header.ID, dt.Cached, answer.Count, dt.RemoteAddr)
}

// forward sends the datagram to upstream exactly as it was received.
func (s *Server) forward(dt *model.DT) {
	if !s.limiter.Allow() {
		log.Sugar.Warnf("sn=%d, id=%d upstream rate limited, forward dropped", dt.SN, dt.Packet.Header.ID)
		return
	}

	if err := s.write(dt.Raw, s.upstream.Addr(), nil); err != nil {
		log.Sugar.Errorf("sn=%d, upstream %s write error=[%+v]", dt.SN, s.upstream, err)
		return
	}

	log.Sugar.Debugf("sn=%d, id=%d forwarded to %s", dt.SN, dt.Packet.Header.ID, s.upstream)
}

func (s *Server) readFrom(buf []byte) (int, *net.UDPAddr, net.IP, error) {
	if s.controlMessage {
		return util.ReadWithDst(s.conn, buf)
	}

	n, remoteAddr, err := util.Read(s.conn, buf)
	return n, remoteAddr, nil, err
}

func (s *Server) read() {
	bytes := make([]byte, s.bufferSize)
	for {
		n, remoteAddr, dst, err := s.readFrom(bytes)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				log.Sugar.Warn("server read connection closed")
				break
			}
			log.Sugar.Error("server read error : ", err)
			continue
		}

		if n <= 0 {
			log.Sugar.Warn("server read 0 byte")
			continue
		}

		if !s.status.Load() {
			log.Sugar.Info("server read after stopped")
			break
		}

		// make a copy of all bytes because the next read will overwrite the
		// buffer while a worker is still handling this one
		raw := make([]byte, n)
		copy(raw, bytes)

		dt := &model.DT{
			SN:         s.serial.Add(1),
			RemoteAddr: remoteAddr,
			LocalIP:    dst,
			Raw:        raw,
		}

		log.Logger.Debug("recv", log.GetSN(dt.SN), zap.Int("len", n), zap.Stringer("from", remoteAddr))

		if err = s.pool.PostTask(func() { s.produce(dt) }); err != nil {
			log.Sugar.Errorf("sn=%d post task error=[%+v]", dt.SN, err)
		}
	}
}
