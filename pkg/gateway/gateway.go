package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Watson-Will/babel/internal/metrics"
	errs "github.com/Watson-Will/babel/pkg/errors"
)

// Gateway turns an asynchronous send/receive pair against the kernel into a
// call/return abstraction. A producer registers a pending completion under a
// correlation token, ships the request out-of-band, and awaits the matching
// reply. Each token resolves at most once; resolution removes the table entry
// atomically so a late or duplicate reply is a logged no-op.
type Gateway struct {
	log     *zap.Logger
	metrics *metrics.Metrics

	awaitTimeout  time.Duration
	pendingTTL    time.Duration
	sweepInterval time.Duration

	mut     sync.Mutex
	pending map[string]*pendingEntry
}

type pendingEntry struct {
	result       chan string
	registeredAt time.Time
}

// Pending is the producer's half of one registered completion.
type Pending struct {
	Token string

	g      *Gateway
	result <-chan string
}

type GatewayParams struct {
	AwaitTimeout  time.Duration
	PendingTTL    time.Duration
	SweepInterval time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func CreateGateway(params GatewayParams) *Gateway {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	m := params.Metrics
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}

	awaitTimeout := params.AwaitTimeout
	if awaitTimeout <= 0 {
		awaitTimeout = 10 * time.Second
	}
	pendingTTL := params.PendingTTL
	if pendingTTL < awaitTimeout {
		pendingTTL = 6 * awaitTimeout
	}
	sweepInterval := params.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}

	return &Gateway{
		log:           logger.With(zap.String("component", "CorrelationGateway")),
		metrics:       m,
		awaitTimeout:  awaitTimeout,
		pendingTTL:    pendingTTL,
		sweepInterval: sweepInterval,
		pending:       make(map[string]*pendingEntry),
	}
}

// RegisterPending creates a completion for token. Tokens must be
// collision-resistant; a token that is already live is refused.
func (g *Gateway) RegisterPending(token string) (*Pending, error) {
	g.mut.Lock()
	defer g.mut.Unlock()

	if _, has := g.pending[token]; has {
		return nil, &errs.DuplicateToken{Token: token}
	}

	entry := &pendingEntry{
		result:       make(chan string, 1),
		registeredAt: time.Now(),
	}
	g.pending[token] = entry
	g.metrics.PendingRegistered.Inc()

	return &Pending{
		Token:  token,
		g:      g,
		result: entry.result,
	}, nil
}

// Resolve removes the entry for token and delivers result to the waiting
// producer. An unknown token is logged and counted, never raised: the reply
// may be late, duplicate, or for an abandoned request.
func (g *Gateway) Resolve(token string, result string) {
	g.mut.Lock()
	entry, has := g.pending[token]
	if has {
		delete(g.pending, token)
	}
	g.mut.Unlock()

	if !has {
		g.log.Warn("Unknown correlation token", zap.String("token", token))
		g.metrics.UnknownTokens.Inc()
		return
	}

	entry.result <- result
	g.metrics.PendingResolved.Inc()
}

// Await suspends the producer until Resolve delivers a result or the
// configured timeout elapses. On timeout the entry is removed so it cannot
// leak; a resolution racing the timeout wins if it removed the entry first.
func (p *Pending) Await(ctx context.Context) (string, error) {
	timer := time.NewTimer(p.g.awaitTimeout)
	defer timer.Stop()

	select {
	case result := <-p.result:
		return result, nil
	case <-ctx.Done():
		p.g.remove(p.Token)
		return "", ctx.Err()
	case <-timer.C:
	}

	p.g.remove(p.Token)

	// Resolve may have delivered between the timeout firing and the removal.
	select {
	case result := <-p.result:
		return result, nil
	default:
	}

	p.g.metrics.AwaitTimeouts.Inc()
	return "", &errs.AwaitTimeout{Token: p.Token}
}

// Cancel abandons a registration that will never be awaited, removing its
// table entry immediately.
func (p *Pending) Cancel() {
	p.g.remove(p.Token)
}

func (g *Gateway) remove(token string) {
	g.mut.Lock()
	defer g.mut.Unlock()
	delete(g.pending, token)
}

// PendingCount reports the number of live tokens.
func (g *Gateway) PendingCount() int {
	g.mut.Lock()
	defer g.mut.Unlock()
	return len(g.pending)
}

// Start runs the janitor sweep that drops registrations older than the
// pending TTL. Abandoned entries (registered but never awaited or resolved)
// are bounded by this sweep.
func (g *Gateway) Start(ctx context.Context) {
	ticker := time.NewTicker(g.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweep(time.Now().Add(-g.pendingTTL))
		}
	}
}

func (g *Gateway) sweep(deadline time.Time) {
	g.mut.Lock()
	defer g.mut.Unlock()

	for token, entry := range g.pending {
		if entry.registeredAt.Before(deadline) {
			delete(g.pending, token)
			g.log.Warn("Swept abandoned correlation token", zap.String("token", token))
			g.metrics.AwaitTimeouts.Inc()
		}
	}
}
