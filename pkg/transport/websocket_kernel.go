package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// handleKernel upgrades the kernel's connection and registers it with the
// kernel pool. Inbound text frames are replies: each one goes straight to the
// pool's reply handler, which resolves the matching pending completion.
func (s *Server) handleKernel(ctx context.Context, c *gin.Context) {
	log := s.log
	log.Info("New kernel WebSocket request")

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("Failed to upgrade kernel HTTP request to WebSocket connection", zap.Error(err))
		return
	}
	defer conn.Close()

	outbound := make(chan string, s.params.OutboundQueueDepth)
	kernelSessionId := s.kernel.Register(outbound)
	defer s.kernel.Unregister(kernelSessionId)

	log = log.With(zap.Uint64("kernelSessionId", kernelSessionId))

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(s.params.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-connCtx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case text := <-outbound:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
					log.Debug("Kernel write failed, stopping write pump", zap.Error(err))
					return
				}
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(s.params.HeartbeatTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.params.HeartbeatTimeout))
		return nil
	})

	for {
		msgType, payload, msgErr := conn.ReadMessage()
		if msgErr != nil {
			if websocket.IsCloseError(msgErr, expectedCloseErrors...) {
				log.Info("Kernel session closed")
			} else {
				log.Warn("Kernel WebSocket read error", zap.Error(msgErr))
			}
			break
		}

		if msgType != websocket.TextMessage {
			log.Info("Received non-text kernel message, ignoring", zap.Int("size", len(payload)))
			continue
		}

		s.kernel.HandleReply(string(payload))
	}

	cancel()
	conn.Close()
	wg.Wait()
	log.Info("Kernel session handler finished")
}
