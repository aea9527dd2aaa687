package cache

/*

Entries are keyed by the raw bytes of the question section, so two questions
only share an entry when they are byte-identical on the wire. Name case and
compression both matter.

An entry is created either by the first miss that registers a callback (no
payload yet) or by an Update. Every Update replaces the entry as a whole and
hands the callbacks registered on the old one to the poster. Expired entries
are treated as misses but stay in the map until Clean removes them.

*/

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/treemana/godns/log"
	"github.com/treemana/godns/packet"
)

// Poster runs callbacks somewhere other than the caller's goroutine.
type Poster interface {
	PostTask(fn func()) error
}

// Answer is the cached payload: the number of answer records and the answer
// section bytes as received from upstream.
type Answer struct {
	Count int
	Raw   []byte
}

type entry struct {
	count     int
	raw       []byte
	expire    time.Time
	callbacks []func()
}

func (e *entry) fresh(now time.Time) bool {
	return e.count > 0 && now.Before(e.expire)
}

type Cache struct {
	mu    sync.Mutex
	m     map[string]*entry
	clock clockwork.Clock
	post  Poster
}

type Option func(*Cache)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

func New(post Poster, opts ...Option) *Cache {
	c := &Cache{
		m:     make(map[string]*entry),
		clock: clockwork.NewRealClock(),
		post:  post,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query returns the cached answer for key when it has not expired yet.
func (c *Cache) Query(key []byte) (Answer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.m[string(key)]
	if !ok || !e.fresh(c.clock.Now()) {
		return Answer{}, false
	}
	return Answer{Count: e.count, Raw: e.raw}, true
}

// QueryOrRegister returns the cached answer when there is a fresh one, and
// does not keep fn in that case. Otherwise fn is queued on the entry for key
// and will be posted once, by the next Update for key; the caller is expected
// to forward the question upstream.
func (c *Cache) QueryOrRegister(key []byte, fn func()) (Answer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.m[string(key)]
	if ok && e.fresh(c.clock.Now()) {
		return Answer{Count: e.count, Raw: e.raw}, true
	}

	if !ok {
		e = &entry{}
		c.m[string(key)] = e
	}
	e.callbacks = append(e.callbacks, fn)
	return Answer{}, false
}

// Update stores the answers of response under its question bytes and posts
// the callbacks waiting on that key. Responses without answers are ignored.
func (c *Cache) Update(response *packet.Packet) {
	if response == nil || len(response.Answers) == 0 {
		return
	}

	var minTTL uint32 = math.MaxUint32
	for _, a := range response.Answers {
		if a.TTL < minTTL {
			minTTL = a.TTL
		}
	}

	e := &entry{
		count:  len(response.Answers),
		raw:    response.RawAnswers,
		expire: c.clock.Now().Add(time.Duration(minTTL) * time.Second),
	}

	c.mu.Lock()
	var callbacks []func()
	if old, ok := c.m[string(response.RawQuestions)]; ok {
		callbacks = old.callbacks
	}
	c.m[string(response.RawQuestions)] = e
	c.mu.Unlock()

	if len(callbacks) > 0 {
		log.Sugar.Debugf("cache update wakes %d callbacks, ttl=%d", len(callbacks), minTTL)
	}

	for _, fn := range callbacks {
		if err := c.post.PostTask(fn); err != nil {
			log.Sugar.Errorf("cache post callback error=[%+v]", err)
		}
	}
}

// Clean drops entries that have expired and have nobody waiting on them. It
// returns how many entries were removed.
func (c *Cache) Clean() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	var n int
	for k, e := range c.m {
		if len(e.callbacks) > 0 || now.Before(e.expire) {
			continue
		}
		delete(c.m, k)
		n++
	}
	return n
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
