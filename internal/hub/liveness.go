package hub

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultSweepInterval is how often the supervisor scans for
	// silent members.
	DefaultSweepInterval = 30 * time.Second
	// DefaultStaleAfter is the silence threshold past which a member
	// is judged dead: roughly two missed sweeps, comfortably above
	// the client hook's keepalive period.
	DefaultStaleAfter = 60 * time.Second
)

// Supervisor periodically evicts members that have gone silent past
// the stale threshold. It is the only proactive timeout in the relay;
// eviction is unilateral and peers just see an updated presence
// snapshot. Eviction shares the router's normal cleanup path, so a
// member disconnecting mid-sweep is removed exactly once.
type Supervisor struct {
	registry   *Registry
	router     *Router
	interval   time.Duration
	staleAfter time.Duration
	log        *logrus.Entry

	stopOnce sync.Once
	done     chan struct{}
}

func NewSupervisor(registry *Registry, router *Router, interval, staleAfter time.Duration) *Supervisor {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Supervisor{
		registry:   registry,
		router:     router,
		interval:   interval,
		staleAfter: staleAfter,
		log:        logrus.WithField("component", "liveness"),
		done:       make(chan struct{}),
	}
}

// Run blocks sweeping until Stop is called. Start it on its own
// goroutine from bootstrap.
func (s *Supervisor) Run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.WithFields(logrus.Fields{
		"interval":    s.interval,
		"stale_after": s.staleAfter,
	}).Info("liveness supervisor running")

	for {
		select {
		case <-ticker.C:
			s.sweep(time.Now())
		case <-s.done:
			s.log.Info("liveness supervisor stopped")
			return
		}
	}
}

// Stop cancels the sweep ticker. Leaving it running would keep a timer
// handle alive past shutdown.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// sweep evicts every member silent since before now minus the stale
// threshold. Split out from Run so tests can drive it with a chosen
// clock instead of waiting out real intervals.
func (s *Supervisor) sweep(now time.Time) {
	evictions := s.registry.stale(now.Add(-s.staleAfter))
	if len(evictions) == 0 {
		return
	}
	s.log.WithField("count", len(evictions)).Info("sweep found stale collaborators")
	for _, ev := range evictions {
		s.router.Evict(ev.boardID, ev.id, ev.conn)
	}
}
