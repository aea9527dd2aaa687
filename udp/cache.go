package udp

import (
	"context"
	"time"

	"github.com/treemana/godns/log"
)

// cacheCleaner posts a cache clean to the pool every interval until ctx is done.
func (s *Server) cacheCleaner(ctx context.Context, interval time.Duration) {

	if interval <= 0 {
		return
	}

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	var i uint32

	for {
		select {
		case <-ticker.Chan():
			i++
			round := i
			err := s.pool.PostTask(func() {
				n := s.cache.Clean()
				log.Sugar.Infof("server cache clean %d, removed %d, left %d", round, n, s.cache.Len())
			})
			if err != nil {
				log.Sugar.Errorf("server cache clean %d post error=[%+v]", round, err)
			}
		case <-ctx.Done():
			log.Sugar.Info("server cache clean stop")
			return
		}
	}
}
