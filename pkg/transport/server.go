package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Watson-Will/babel/internal/metrics"
	"github.com/Watson-Will/babel/pkg/broker"
	errs "github.com/Watson-Will/babel/pkg/errors"
	"github.com/Watson-Will/babel/pkg/gateway"
	"github.com/Watson-Will/babel/pkg/kernel"
	"github.com/Watson-Will/babel/pkg/media"
	"github.com/Watson-Will/babel/pkg/protocol"
	utils "github.com/Watson-Will/babel/pkg/util"
)

// Server is the HTTP and WebSocket surface of the hub: the front-end and
// kernel WebSocket channels, the media streaming endpoint, the correlated
// path-list endpoint, and the discovery handshake.
type Server struct {
	params ServerParams

	upgrader *websocket.Upgrader

	broker  *broker.Broker
	gateway *gateway.Gateway
	kernel  *kernel.Pool

	log     *zap.Logger
	metrics *metrics.Metrics
}

type ServerParams struct {
	ListenAddress    string
	FrontEndEndpoint string
	KernelEndpoint   string
	StaticDir        string

	AllowAllOrigins  bool
	AllowlistedHosts []string

	HeartbeatInterval  time.Duration
	HeartbeatTimeout   time.Duration
	OutboundQueueDepth int

	ChunkSize int
	Handshake string

	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
}

func CreateServer(b *broker.Broker, g *gateway.Gateway, k *kernel.Pool, params ServerParams) (*Server, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	m := params.Metrics
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}

	if params.FrontEndEndpoint == "" {
		params.FrontEndEndpoint = "/ws"
	}
	if params.KernelEndpoint == "" {
		params.KernelEndpoint = "/connect"
	}
	if params.HeartbeatInterval <= 0 {
		params.HeartbeatInterval = 5 * time.Second
	}
	if params.HeartbeatTimeout <= params.HeartbeatInterval {
		params.HeartbeatTimeout = 2 * params.HeartbeatInterval
	}
	if params.OutboundQueueDepth <= 0 {
		params.OutboundQueueDepth = 16
	}
	if params.Handshake == "" {
		params.Handshake = "i am server"
	}

	return &Server{
		params: params,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if params.AllowAllOrigins {
					return true
				}
				return utils.Contains(r.Header.Get("Origin"), params.AllowlistedHosts)
			},
		},
		broker:  b,
		gateway: g,
		kernel:  k,
		log:     logger.With(zap.String("handler", "Transport")),
		metrics: m,
	}, nil
}

// Router builds the gin engine with every route attached. Split out from
// Start so tests can drive the surface through httptest.
func (s *Server) Router(ctx context.Context) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.log), requestMetrics(s.metrics))
	if s.params.AllowAllOrigins {
		router.Use(cors.Default())
	}

	router.GET(s.params.FrontEndEndpoint, func(c *gin.Context) {
		s.handleFrontEnd(ctx, c)
	})
	router.GET(s.params.KernelEndpoint, func(c *gin.Context) {
		s.handleKernel(ctx, c)
	})
	router.GET("/get-video", s.handleGetVideo)
	router.GET("/get_path_list", func(c *gin.Context) {
		s.handleGetPathList(ctx, c)
	})
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, s.params.Handshake)
	})
	if s.params.StaticDir != "" {
		router.GET("/", func(c *gin.Context) {
			c.File(filepath.Join(s.params.StaticDir, "index.html"))
		})
	}
	if s.params.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.params.Registry, promhttp.HandlerOpts{})))
	}

	return router
}

// Start serves the surface until ctx is cancelled, then shuts the listener
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.params.ListenAddress,
		Handler: s.Router(ctx),
	}

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()

		s.log.Sugar().Infof("Starting hub server at %s", s.params.ListenAddress)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Unexpected hub server close!", zap.Error(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		<-ctx.Done()

		shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownRelease()
		s.log.Info("Attempting to trigger shutdown of hub server")

		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Error("Failed to gracefully shut down hub server", zap.Error(err))
			return
		}
		s.log.Info("Successfully shutdown hub server")
	}()

	wg.Wait()
	return nil
}

func (s *Server) handleGetVideo(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.String(http.StatusBadRequest, "missing path")
		return
	}

	stream, err := media.StreamRange(path, c.GetHeader("Range"), s.params.ChunkSize)
	if err != nil {
		var rangeErr *errs.InvalidRange
		switch {
		case errors.As(err, &rangeErr):
			s.metrics.RangeErrors.Inc()
			c.String(http.StatusBadRequest, "Invalid range")
		default:
			s.log.Warn("Failed to open media file", zap.String("path", path), zap.Error(err))
			c.String(http.StatusNotFound, "not found")
		}
		return
	}
	defer stream.Close()

	s.metrics.MediaRequests.Inc()

	c.Header("Content-Type", stream.ContentType)
	c.Header("Content-Length", strconv.FormatInt(stream.ContentLength, 10))
	c.Header("Content-Range", stream.ContentRange)
	c.Status(stream.Status)

	if _, err := io.Copy(c.Writer, stream.Body()); err != nil {
		// The response is already in flight; all we can do is log.
		s.log.Warn("Media stream aborted", zap.String("path", path), zap.Error(err))
	}
}

func (s *Server) handleGetPathList(ctx context.Context, c *gin.Context) {
	pathParam, has := c.GetQuery("path")
	if !has {
		c.String(http.StatusOK, "err 1")
		return
	}

	token := utils.NewToken()
	pending, err := s.gateway.RegisterPending(token)
	if err != nil {
		s.log.Error("Failed to register pending completion", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}

	envelope := &protocol.Envelope{
		Uuid: token,
		Code: protocol.GetChildrenPathListRequest,
	}
	if pathParam == "base" {
		envelope.Code = protocol.GetBasePathListRequest
	} else {
		envelope.Content = pathParam
	}

	if err := s.kernel.Send(envelope); err != nil {
		pending.Cancel()
		s.log.Warn("Failed to deliver path list request to kernel", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}

	result, err := pending.Await(ctx)
	if err != nil {
		s.log.Warn("Path list request failed", zap.String("token", token), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}

	c.String(http.StatusOK, result)
}
