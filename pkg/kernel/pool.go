package kernel

import (
	"sync"

	"go.uber.org/zap"

	errs "github.com/Watson-Will/babel/pkg/errors"
	"github.com/Watson-Will/babel/pkg/gateway"
	"github.com/Watson-Will/babel/pkg/protocol"
	utils "github.com/Watson-Will/babel/pkg/util"
)

// Pool tracks kernel-side WebSocket sessions, symmetric to the front-end
// session broker but without visitor bookkeeping: exactly one kernel is
// assumed, so Send fans an envelope out to every registered session
// best-effort.
type Pool struct {
	log     *zap.Logger
	gateway *gateway.Gateway

	mut      sync.RWMutex
	sessions map[uint64]chan<- string
}

func CreatePool(g *gateway.Gateway, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	return &Pool{
		log:      logger.With(zap.String("component", "KernelPool")),
		gateway:  g,
		sessions: make(map[uint64]chan<- string),
	}
}

// Register adds a kernel session's outbound queue and returns its identifier.
func (p *Pool) Register(outbound chan<- string) uint64 {
	p.mut.Lock()
	defer p.mut.Unlock()

	id := utils.NewSessionId()
	for {
		if _, has := p.sessions[id]; !has {
			break
		}
		id = utils.NewSessionId()
	}
	p.sessions[id] = outbound

	p.log.Info("Kernel session registered", zap.Uint64("kernelSessionId", id))
	return id
}

func (p *Pool) Unregister(id uint64) {
	p.mut.Lock()
	defer p.mut.Unlock()

	delete(p.sessions, id)
	p.log.Info("Kernel session unregistered", zap.Uint64("kernelSessionId", id))
}

// Send hands an envelope to the kernel's connection pool. Delivery is
// best-effort, at-most-once per session; a full queue drops the envelope for
// that session only.
func (p *Pool) Send(envelope *protocol.Envelope) error {
	raw, err := envelope.Encode()
	if err != nil {
		return err
	}

	p.mut.RLock()
	defer p.mut.RUnlock()

	if len(p.sessions) == 0 {
		return &errs.NoKernelSession{}
	}

	for id, outbound := range p.sessions {
		select {
		case outbound <- raw:
		default:
			p.log.Warn("Kernel session queue full, dropping envelope",
				zap.Uint64("kernelSessionId", id), zap.String("token", envelope.Uuid))
		}
	}

	return nil
}

// HandleReply is the OnKernelReply callback: it decodes a raw kernel message
// and resolves the pending completion registered under its correlation token.
// Undecodable replies are logged and dropped; they carry no token to resolve.
func (p *Pool) HandleReply(raw string) {
	envelope, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		p.log.Warn("Undecodable kernel reply", zap.Error(err))
		return
	}

	p.gateway.Resolve(envelope.Uuid, envelope.Content)
}
