package transport

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Watson-Will/babel/internal"
)

const writeWait = 10 * time.Second

var expectedCloseErrors = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

// handleFrontEnd upgrades a front-end request to a WebSocket session,
// registers it with the broker, and pumps frames both ways until the
// connection dies or ctx is cancelled.
func (s *Server) handleFrontEnd(ctx context.Context, c *gin.Context) {
	log := s.log
	log.Info("New front-end WebSocket request")

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("Failed to upgrade HTTP request to WebSocket connection", zap.Error(err))
		return
	}
	defer conn.Close()

	outbound := make(chan internal.Frame, s.params.OutboundQueueDepth)

	sessionId, err := s.broker.Connect(ctx, outbound)
	if err != nil {
		log.Error("Failed to register session with broker", zap.Error(err))
		return
	}
	defer s.broker.Disconnect(sessionId)

	log = log.With(zap.Uint64("sessionId", sessionId))
	log.Info("Front-end session open")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.frontEndWritePump(connCtx, conn, outbound, log)
	}()

	conn.SetReadDeadline(time.Now().Add(s.params.HeartbeatTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.params.HeartbeatTimeout))
		s.broker.Heartbeat(sessionId)
		return nil
	})

	s.frontEndReadLoop(conn, sessionId, log)

	cancel()
	conn.Close()
	wg.Wait()
	log.Info("Front-end session closed")
}

func (s *Server) frontEndWritePump(ctx context.Context, conn *websocket.Conn, outbound <-chan internal.Frame, log *zap.Logger) {
	ticker := time.NewTicker(s.params.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug("Ping failed, stopping write pump", zap.Error(err))
				return
			}
		case frame := <-outbound:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			var err error
			if frame.IsBinary() {
				err = conn.WriteMessage(websocket.BinaryMessage, frame.Binary)
			} else {
				err = conn.WriteMessage(websocket.TextMessage, []byte(frame.Text))
			}
			if err != nil {
				log.Debug("Write failed, stopping write pump", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) frontEndReadLoop(conn *websocket.Conn, sessionId uint64, log *zap.Logger) {
	for {
		msgType, payload, msgErr := conn.ReadMessage()
		if msgErr != nil {
			if websocket.IsCloseError(msgErr, expectedCloseErrors...) {
				log.Info("Received close request, disconnecting session")
				return
			}
			if websocket.IsUnexpectedCloseError(msgErr, expectedCloseErrors...) {
				log.Warn("Received unexpected close from front-end", zap.Error(msgErr))
				return
			}
			if strings.Contains(msgErr.Error(), "use of closed network connection") {
				log.Info("Closing connection, probably from server-initiated 'close' call")
				return
			}

			log.Warn("Unexpected WebSocket error on message read", zap.Error(msgErr))
			return
		}

		if msgType != websocket.TextMessage {
			log.Info("Received non-text message, ignoring", zap.Int("size", len(payload)))
			continue
		}

		s.broker.Dispatch(sessionId, string(payload))
	}
}
