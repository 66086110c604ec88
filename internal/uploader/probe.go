package uploader

import (
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// defaultProbeHost is the well-known external host used to infer
// whether the wider network is reachable (spec.md §4.4, §6
// "Reachability probe"). A TCP connect is cheaper than an HTTP round
// trip and is explicitly one of the two options spec.md allows.
const defaultProbeHost = "8.8.8.8:53"

// Prober caches a reachability boolean, refreshed at most once per
// interval (spec.md §4.4 "Reachability probe"). State transitions are
// logged once, not per check.
type Prober struct {
	host     string
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	lastOK   bool
	lastScan time.Time
	primed   bool
}

// NewProber builds a Prober against defaultProbeHost.
func NewProber(interval, timeout time.Duration, logger *zap.Logger) *Prober {
	return &Prober{host: defaultProbeHost, interval: interval, timeout: timeout, logger: logger}
}

// Reachable returns the cached reachability flag, refreshing it if the
// interval has elapsed.
func (p *Prober) Reachable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.primed && time.Since(p.lastScan) < p.interval {
		return p.lastOK
	}

	ok := p.check()
	if !p.primed || ok != p.lastOK {
		if ok {
			p.logger.Info("connectivity restored")
		} else {
			p.logger.Warn("connectivity lost")
		}
	}
	p.lastOK = ok
	p.lastScan = time.Now()
	p.primed = true
	return ok
}

func (p *Prober) check() bool {
	conn, err := net.DialTimeout("tcp", p.host, p.timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
