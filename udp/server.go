package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/miekg/dns"

	"github.com/treemana/godns/cache"
	"github.com/treemana/godns/log"
	"github.com/treemana/godns/ratelimit"
	"github.com/treemana/godns/upstream"
	"github.com/treemana/godns/util"
	"github.com/treemana/godns/worker"
)

const (
	DefaultAddress = "0.0.0.0"
	DefaultPort    = 53

	defaultTimeout = 10 * time.Second
)

type Config struct {
	Address string // listen ip
	Port    int    // 0 picks a free port

	Upstream *upstream.UpStream

	// BufferSize receive buffer in bytes, dns.DefaultMsgSize when zero
	BufferSize int

	// CleanInterval how often expired cache entries are dropped, never when zero
	CleanInterval time.Duration

	// Limiter bounds the forwards to upstream, nil means unlimited
	Limiter *ratelimit.Limiter

	// ControlMessage replies from the address each query was sent to, for
	// hosts with several ipv4 addresses behind 0.0.0.0
	ControlMessage bool

	Clock clockwork.Clock
}

// Server is the gateway: it owns the socket and the cache, reads datagrams on
// one goroutine and processes them on the pool.
type Server struct {
	address *net.UDPAddr
	conn    *net.UDPConn
	status  atomic.Bool // running status

	upstream       *upstream.UpStream
	limiter        *ratelimit.Limiter
	cache          *cache.Cache
	pool           *worker.Pool
	clock          clockwork.Clock
	bufferSize     int
	cleanInterval  time.Duration
	controlMessage bool

	wg       sync.WaitGroup // read loop and cache cleaner
	serial   atomic.Uint64
	cancelFn context.CancelFunc
}

func New(config Config, pool *worker.Pool) (*Server, error) {

	if len(config.Address) == 0 {
		config.Address = DefaultAddress
	}

	ip := net.ParseIP(config.Address)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("invalid ipv4 address=[%s]", config.Address)
	}

	if config.Port < 0 || config.Port > 0xffff {
		return nil, fmt.Errorf("invalid port=%d", config.Port)
	}

	if config.Upstream == nil {
		return nil, errors.New("upstream needed")
	}

	if pool == nil {
		return nil, errors.New("worker pool needed")
	}

	if config.BufferSize <= 0 {
		config.BufferSize = dns.DefaultMsgSize
	}

	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	s := Server{
		address:        &net.UDPAddr{Port: config.Port, IP: ip},
		upstream:       config.Upstream,
		limiter:        config.Limiter,
		pool:           pool,
		clock:          config.Clock,
		bufferSize:     config.BufferSize,
		cleanInterval:  config.CleanInterval,
		controlMessage: config.ControlMessage,
	}
	s.cache = cache.New(pool, cache.WithClock(config.Clock))

	if err := s.setConn(); err != nil {
		return nil, fmt.Errorf("set conn error=[%+v]", err)
	}

	return &s, nil
}

// Addr is the bound address, useful when Port was 0.
func (s *Server) Addr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

func (s *Server) Start() {

	s.status.Store(true)

	var ctx context.Context
	ctx, s.cancelFn = context.WithCancel(context.Background())

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.read()
	}()
	go func() {
		defer s.wg.Done()
		s.cacheCleaner(ctx, s.cleanInterval)
	}()

	log.Sugar.Infof("server running on %s, upstream %s ...", s.Addr(), s.upstream)
}

// Stop closes the socket and waits for the read loop. Tasks already on the
// pool may still run; their sends fail and are logged.
func (s *Server) Stop() {
	log.Sugar.Info("server stopping")
	s.status.Store(false)

	if s.cancelFn != nil {
		s.cancelFn()
	}

	if err := s.conn.Close(); err != nil {
		log.Sugar.Errorf("server udp connection close error=[%+v]", err)
	}

	s.wg.Wait()
	log.Sugar.Infof("server stopped, serial=%d", s.serial.Load())
}

func (s *Server) setConn() error {
	var err error
	if s.conn, err = net.ListenUDP("udp4", s.address); err != nil {
		log.Sugar.Errorf("server udp [%s] listen error=[%+v]", s.address, err)
		return err
	}

	if !s.controlMessage {
		return nil
	}

	if err = util.SetControlMessage(s.conn); err != nil {
		defer func() { _ = s.conn.Close() }()
		log.Sugar.Errorf("server udp [%s] connection set control error=[%+v]", s.address, err)
		return err
	}

	return nil
}
