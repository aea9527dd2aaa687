package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/treemana/godns/log"
)

const (
	DefaultAddress = "114.114.114.114:53"

	probeTimeout = 2 * time.Second
)

var ErrIPv6 = errors.New("ipv6 upstream not supported")

// UpStream is the single resolver every cache miss is forwarded to.
type UpStream struct {
	address *net.UDPAddr
}

func New(raw string) (*UpStream, error) {
	if len(raw) == 0 {
		raw = DefaultAddress
	}

	address, err := net.ResolveUDPAddr("udp", raw)
	if err != nil {
		return nil, fmt.Errorf("upstream [%s] resolve error=[%w]", raw, err)
	}

	if address.IP.To4() == nil {
		return nil, fmt.Errorf("upstream [%s] error=[%w]", raw, ErrIPv6)
	}

	if address.Port <= 0 {
		return nil, fmt.Errorf("upstream [%s] invalid port=%d", raw, address.Port)
	}

	log.Sugar.Infof("upstream resolver %s", address)

	return &UpStream{address: address}, nil
}

func (s *UpStream) Addr() *net.UDPAddr {
	return s.address
}

func (s *UpStream) String() string {
	return s.address.String()
}

// Probe asks the upstream for the root NS set from a separate socket and
// returns the round trip time. Only reachability is checked, the rcode is not.
func (s *UpStream) Probe(ctx context.Context) (time.Duration, error) {
	req := new(dns.Msg)
	req.SetQuestion(".", dns.TypeNS)

	client := &dns.Client{Net: "udp", Timeout: probeTimeout}
	resp, rtt, err := client.ExchangeContext(ctx, req, s.address.String())
	if err != nil {
		return 0, fmt.Errorf("probe %s error=[%w]", s.address, err)
	}

	if req.Id != resp.Id {
		return 0, fmt.Errorf("probe %s unmatched request and response", s.address)
	}

	log.Sugar.Debugf("%s probe %s, cost %s", s.address, dns.RcodeToString[resp.Rcode], rtt)

	return rtt, nil
}
