package server

import (
	"context"
	goerrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"trackcast/internal/config"
	"trackcast/internal/metadata"
	"trackcast/internal/stream"
	"trackcast/pkg/log"
)

// shutdownGrace is how long Shutdown waits for canceled sessions before closing their connections.
const shutdownGrace = 3 * time.Second

type Server struct {
	conf       *config.Config
	streamer   *stream.Streamer
	db         *metadata.MetadataDB
	registry   *registry
	httpServer *http.Server
	logger     *logrus.Entry

	// sessions run under ctx so that Shutdown can cancel them
	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(ctx context.Context, conf *config.Config, streamer *stream.Streamer, db *metadata.MetadataDB) (*Server, error) {
	if streamer == nil {
		return nil, goerrors.New("streamer is nil")
	}
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Server{
		conf:     conf,
		streamer: streamer,
		db:       db,
		registry: newRegistry(),
		logger:   log.GetLogger(ctx).WithField("component", "server"),
		ctx:      sessionCtx,
		cancel:   cancel,
	}

	return s, nil
}

func RequestId() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestId := c.GetHeader(log.HttpXRequestId)
		if requestId == "" {
			requestId = strings.ReplaceAll(uuid.New().String(), "-", "")
		}
		c.Set(log.CtxRequestId, requestId)
		c.Header(log.HttpXRequestId, requestId)
		c.Next()
	}
}

func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		t := time.Now()
		c.Next()
		latency := time.Since(t)
		status := c.Writer.Status()

		logrus.Info("ip: ", c.ClientIP(), " method: ", c.Request.Method, " path: ",
			c.Request.URL.Path, " status: ", status, " latency: ", latency)
	}
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	router := s.SetUpRouter()
	pprof.Register(router)
	s.httpServer = &http.Server{
		Addr:    s.conf.Addr,
		Handler: router,
	}

	var err error
	if s.conf.SSLCert != "" && s.conf.SSLKey != "" {
		logrus.Infof("start https server on %s", s.conf.Addr)
		err = s.httpServer.ListenAndServeTLS(s.conf.SSLCert, s.conf.SSLKey)
	} else {
		logrus.Infof("start http server on %s", s.conf.Addr)
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && !goerrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting sessions, cancels the live ones and waits until each has released its
// source and connection, then stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.registry.close()
	s.cancel()

	graceCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
	err := s.registry.wait(graceCtx)
	cancel()
	if err != nil {
		s.logger.Warnf("closing connections of %d sessions", len(s.registry.list()))
		s.registry.closeConns()
		if err := s.registry.wait(ctx); err != nil {
			s.logger.WithError(err).Warnf("%d sessions still running", len(s.registry.list()))
		}
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(c *gin.Context, code int, err error) {
	c.JSON(code, ErrorResponse{
		Error: err.Error(),
	})
}
