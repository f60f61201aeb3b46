package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Watson-Will/babel/internal"
	"github.com/Watson-Will/babel/internal/metrics"
	"github.com/Watson-Will/babel/pkg/protocol"
	utils "github.com/Watson-Will/babel/pkg/util"
)

// KernelSender is the boundary to the kernel-side connection pool. Envelopes
// handed to it are delivered out-of-band; replies come back through the
// correlation gateway, not through this interface.
type KernelSender interface {
	Send(envelope *protocol.Envelope) error
}

// Broker owns the set of connected front-end sessions. All registry mutation
// happens on a single command loop goroutine; public methods post commands to
// it, so no caller ever touches the session table directly.
type Broker struct {
	log     *zap.Logger
	metrics *metrics.Metrics

	store  *internal.SessionStore
	kernel KernelSender

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	cmds chan command
}

type command interface{}

type connectCmd struct {
	outbound chan<- internal.Frame
	reply    chan<- uint64
}

type disconnectCmd struct {
	id uint64
}

type broadcastCmd struct {
	text string
}

type sendBinaryCmd struct {
	id      uint64
	payload []byte
}

type dispatchCmd struct {
	id  uint64
	raw string
}

type heartbeatCmd struct {
	id uint64
	ts int64
}

type BrokerParams struct {
	Kernel KernelSender

	HeartbeatInterval   time.Duration
	HeartbeatTimeout    time.Duration
	CommandBufferLength int

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func CreateBroker(params BrokerParams) *Broker {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	m := params.Metrics
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}

	heartbeatInterval := params.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = 5 * time.Second
	}
	heartbeatTimeout := params.HeartbeatTimeout
	if heartbeatTimeout <= heartbeatInterval {
		heartbeatTimeout = 2 * heartbeatInterval
	}
	commandBufferLength := params.CommandBufferLength
	if commandBufferLength <= 0 {
		commandBufferLength = 256
	}

	return &Broker{
		log:               logger.With(zap.String("component", "SessionBroker")),
		metrics:           m,
		store:             internal.NewSessionStore(),
		kernel:            params.Kernel,
		heartbeatInterval: heartbeatInterval,
		heartbeatTimeout:  heartbeatTimeout,
		cmds:              make(chan command, commandBufferLength),
	}
}

// Start runs the command loop until ctx is cancelled. Connect, Disconnect,
// Broadcast, SendBinary, Dispatch and Heartbeat all require the loop to be
// running.
func (b *Broker) Start(ctx context.Context) {
	ticker := time.NewTicker(b.heartbeatInterval)
	defer ticker.Stop()

	b.log.Info("Session broker command loop starting")

	for {
		select {
		case <-ctx.Done():
			b.log.Info("Session broker command loop stopping")
			return
		case <-ticker.C:
			b.kickStaleSessions()
		case cmd := <-b.cmds:
			b.handleCommand(cmd)
		}
	}
}

func (b *Broker) handleCommand(cmd command) {
	switch c := cmd.(type) {
	case connectCmd:
		c.reply <- b.doConnect(c.outbound)
	case disconnectCmd:
		b.doDisconnect(c.id)
	case broadcastCmd:
		b.doBroadcast(c.text)
	case sendBinaryCmd:
		b.doSendBinary(c.id, c.payload)
	case dispatchCmd:
		b.doDispatch(c.id, c.raw)
	case heartbeatCmd:
		b.store.Touch(c.id, c.ts)
	}
}

// Connect registers a new session under a fresh random identifier and
// broadcasts a join notice carrying the new visitor total.
func (b *Broker) Connect(ctx context.Context, outbound chan<- internal.Frame) (uint64, error) {
	reply := make(chan uint64, 1)

	select {
	case b.cmds <- connectCmd{outbound: outbound, reply: reply}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case id := <-reply:
		return id, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Disconnect removes a session if present; unknown identifiers are a no-op.
func (b *Broker) Disconnect(id uint64) {
	b.cmds <- disconnectCmd{id: id}
}

// Broadcast delivers a text frame to every registered session, fire-and-forget
// per session.
func (b *Broker) Broadcast(text string) {
	b.cmds <- broadcastCmd{text: text}
}

// SendBinary delivers a binary frame to exactly one session; silently dropped
// when the session is absent.
func (b *Broker) SendBinary(id uint64, payload []byte) {
	b.cmds <- sendBinaryCmd{id: id, payload: payload}
}

// Dispatch is the session-message entry point for raw text received from a
// front-end connection.
func (b *Broker) Dispatch(id uint64, raw string) {
	b.cmds <- dispatchCmd{id: id, raw: raw}
}

// Heartbeat records liveness for a session, typically from a transport pong.
func (b *Broker) Heartbeat(id uint64) {
	b.cmds <- heartbeatCmd{id: id, ts: time.Now().UnixNano()}
}

// VisitorCount reports the number of currently open sessions.
func (b *Broker) VisitorCount() int {
	return b.store.VisitorCount()
}

func (b *Broker) doConnect(outbound chan<- internal.Frame) uint64 {
	id, count := b.store.Add(outbound, time.Now().UnixNano())

	b.metrics.Connects.Inc()
	b.metrics.ActiveSessions.Set(float64(count))
	b.log.Info("Session joined", zap.Uint64("sessionId", id), zap.Int("visitorCount", count))

	b.doBroadcast(fmt.Sprintf("Someone joined, total visitors %d", count))

	return id
}

func (b *Broker) doDisconnect(id uint64) {
	count, removed := b.store.Remove(id)
	if !removed {
		return
	}

	b.metrics.Disconnects.Inc()
	b.metrics.ActiveSessions.Set(float64(count))
	b.log.Info("Session left", zap.Uint64("sessionId", id), zap.Int("visitorCount", count))

	b.doBroadcast(fmt.Sprintf("Session %d left, %d remaining", id, count))
}

func (b *Broker) doBroadcast(text string) {
	b.metrics.Broadcasts.Inc()

	for _, session := range b.store.Snapshot() {
		b.deliver(session, internal.Frame{Text: text})
	}
}

func (b *Broker) doSendBinary(id uint64, payload []byte) {
	session, err := b.store.Get(id)
	if err != nil {
		b.log.Warn("Dropping binary frame for missing session", zap.Uint64("sessionId", id))
		b.metrics.DroppedFrames.Inc()
		return
	}

	b.deliver(session, internal.Frame{Binary: payload})
}

// deliver pushes a frame onto a session's outbound queue without blocking the
// command loop. A full queue drops the frame for that session only.
func (b *Broker) deliver(session *internal.Session, frame internal.Frame) {
	select {
	case session.Outbound <- frame:
	default:
		b.log.Warn("Session outbound queue full, dropping frame", zap.Uint64("sessionId", session.Id))
		b.metrics.DroppedFrames.Inc()
	}
}

func (b *Broker) doDispatch(id uint64, raw string) {
	envelope, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		// Malformed input is relayed, not dropped, so a misbehaving client
		// stays visible to the rest of the session.
		b.log.Debug("Undecodable session message", zap.Uint64("sessionId", id), zap.Error(err))
		b.metrics.DispatchErrors.Inc()
		b.doBroadcast(raw + protocol.SuffixMalformed)
		return
	}

	switch envelope.Code {
	case protocol.GetBasePathListRequest, protocol.GetChildrenPathListRequest:
		if b.kernel == nil {
			b.log.Error("No kernel boundary configured, dropping path list request",
				zap.Uint64("sessionId", id))
			return
		}
		if err := b.kernel.Send(envelope); err != nil {
			b.log.Error("Failed to forward request to kernel",
				zap.Uint64("sessionId", id), zap.Error(err))
		}
	case protocol.TransferData:
		b.doBroadcast(raw)
	case protocol.RequestTransferFile:
		frame := &protocol.BinaryFrame{
			ContentId: utils.NewToken(),
			Seq:       0,
			Payload:   []byte(envelope.Content),
		}
		rawFrame, err := frame.Marshal()
		if err != nil {
			b.log.Error("Failed to encode transfer frame", zap.Uint64("sessionId", id), zap.Error(err))
			return
		}
		b.doSendBinary(id, rawFrame)
	default:
		b.doBroadcast(raw + protocol.SuffixUnhandled)
	}
}

func (b *Broker) kickStaleSessions() {
	deadline := time.Now().Add(-b.heartbeatTimeout).UnixNano()
	for _, id := range b.store.GetTimeoutSessionList(deadline) {
		b.log.Warn("Heartbeat timeout, disconnecting session", zap.Uint64("sessionId", id))
		b.doDisconnect(id)
	}
}
