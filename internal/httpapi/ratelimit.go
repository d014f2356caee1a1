package httpapi

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/kieranveyl/knowledgevault/internal/config"
	"github.com/kieranveyl/knowledgevault/internal/vault"
)

// opClass identifies which of §5's three token buckets an operation
// draws from.
type opClass int

const (
	classQuery opClass = iota
	classMutation
	classDraft
)

// limiterSet holds one rate.Limiter per (session, opClass), lazily
// created on first use. Sessions are identified by an opaque client
// header; callers without one share a single anonymous bucket.
type limiterSet struct {
	cfg config.RateLimitConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLimiterSet(cfg config.RateLimitConfig) *limiterSet {
	return &limiterSet{cfg: cfg, limiters: make(map[string]*rate.Limiter)}
}

func (l *limiterSet) limiterFor(session string, class opClass) *rate.Limiter {
	key := session + "|" + string(rune('a'+int(class)))

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[key]; ok {
		return lim
	}

	var burst, perMin int
	switch class {
	case classQuery:
		burst, perMin = l.cfg.QueryBurst, l.cfg.QuerySustained
	case classMutation:
		burst, perMin = l.cfg.MutationBurst, l.cfg.MutationSustain
	case classDraft:
		burst, perMin = l.cfg.DraftBurst, l.cfg.DraftSustained
	}
	lim := rate.NewLimiter(rate.Limit(float64(perMin)/60.0), burst)
	l.limiters[key] = lim
	return lim
}

// rateLimited wraps h, rejecting with RateLimitExceeded when the
// caller's session has exhausted its bucket for class.
func (s *Server) rateLimited(class opClass, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := r.Header.Get("X-Session-ID")
		lim := s.limiters.limiterFor(session, class)
		res := lim.Reserve()
		if !res.OK() {
			respondError(w, &vault.RateLimitExceeded{RetryAfterMS: 0})
			return
		}
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			respondError(w, &vault.RateLimitExceeded{RetryAfterMS: delay.Milliseconds()})
			return
		}
		h(w, r)
	}
}
