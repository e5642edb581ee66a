// Package health serves liveness and readiness probes.
//
// Checks are polled by Run on a fixed interval. A check flips to unhealthy
// only after FailureThreshold consecutive failures and back to healthy after
// one success, so a single slow ping does not take the instance out of
// rotation.
package health

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"go.uber.org/zap"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Kind selects the probe a check contributes to.
type Kind int

const (
	Liveness Kind = iota
	Readiness
)

func (k Kind) String() string {
	if k == Liveness {
		return "liveness"
	}
	return "readiness"
}

// Check describes one registered check.
type Check struct {
	Name    string
	Kind    Kind
	Timeout time.Duration
	Func    CheckFunc
	// FailureThreshold defaults to 3.
	FailureThreshold int
}

type probe struct {
	Check

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	// Only touched by the polling goroutine.
	fails int
}

// poll runs the check once and reports whether its health flipped.
func (p *probe) poll(ctx context.Context) (changed bool) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	err := p.Func(ctx)
	p.lastErr.Store(&err)

	was := p.healthy.Load()
	if err != nil {
		p.fails++
		if p.fails >= p.FailureThreshold {
			p.healthy.Store(false)
		}
	} else {
		p.fails = 0
		p.healthy.Store(true)
	}
	return was != p.healthy.Load()
}

func (p *probe) failure() string {
	if e := p.lastErr.Load(); e != nil && *e != nil {
		return (*e).Error()
	}
	return "check is unhealthy"
}

// Service tracks check state and the manual readiness flag.
type Service struct {
	lg     *zap.Logger
	ready  atomic.Bool
	probes []*probe
}

// New creates a Service. It starts not ready; call SetReady(true) once
// initialization completes. Checks are assumed healthy until polled.
func New(lg *zap.Logger, checks ...Check) *Service {
	s := &Service{lg: lg}
	for _, c := range checks {
		if c.FailureThreshold <= 0 {
			c.FailureThreshold = 3
		}
		if c.Timeout <= 0 {
			c.Timeout = time.Second
		}
		p := &probe{Check: c}
		p.healthy.Store(true)
		s.probes = append(s.probes, p)
	}
	return s
}

// Run polls every check each interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.pollAll(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Service) pollAll(ctx context.Context) {
	for _, p := range s.probes {
		if !p.poll(ctx) {
			continue
		}
		if p.healthy.Load() {
			s.lg.Info("Health check recovered",
				zap.String("check", p.Name),
				zap.Stringer("kind", p.Kind),
			)
		} else {
			s.lg.Warn("Health check failing",
				zap.String("check", p.Name),
				zap.Stringer("kind", p.Kind),
				zap.String("error", p.failure()),
			)
		}
	}
}

// SetReady sets the manual readiness flag. It is cleared on shutdown so the
// load balancer drains the instance before the server stops.
func (s *Service) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Ready reports whether the instance should receive traffic.
func (s *Service) Ready() bool {
	return s.ready.Load() && len(s.failures(Readiness)) == 0
}

// Mount registers /livez and /readyz on r.
func (s *Service) Mount(r chi.Router) {
	r.Get("/livez", s.Live)
	r.Get("/readyz", s.Readyz)
}

// Live serves the liveness probe.
func (s *Service) Live(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, s.failures(Liveness))
}

// Readyz serves the readiness probe.
func (s *Service) Readyz(w http.ResponseWriter, _ *http.Request) {
	failures := s.failures(Readiness)
	if !s.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeStatus(w, failures)
}

func (s *Service) failures(kind Kind) map[string]string {
	out := map[string]string{}
	for _, p := range s.probes {
		if p.Kind == kind && !p.healthy.Load() {
			out[p.Name] = p.failure()
		}
	}
	return out
}

func writeStatus(w http.ResponseWriter, failures map[string]string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	status := http.StatusOK
	e.ObjStart()
	e.FieldStart("status")
	if len(failures) == 0 {
		e.Str("ok")
	} else {
		status = http.StatusServiceUnavailable
		e.Str("unhealthy")
		e.FieldStart("checks")
		e.ObjStart()
		for _, name := range slices.Sorted(maps.Keys(failures)) {
			e.FieldStart(name)
			e.Str(failures[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
