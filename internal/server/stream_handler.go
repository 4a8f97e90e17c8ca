package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"trackcast/internal/metadata"
	"trackcast/pkg/log"
)

// handleVideo upgrades the request to a websocket and streams the annotated source to it as one
// binary JPEG message per frame. The server closes the connection when the source ends.
func (s *Server) handleVideo(c *gin.Context) {
	name := c.Param("source")
	if name == "" {
		name = s.conf.DefaultSource
	}
	origin, ok := s.conf.Source(name)
	if !ok {
		s.writeError(c, http.StatusNotFound, fmt.Errorf("source %s not found", name))
		return
	}

	logger := log.GetLogger(c).WithField("source", name)
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	conn := newWSConn(ws, wsConnOptions{
		WriteTimeout: s.conf.Session.WriteTimeout,
		PingInterval: s.conf.Session.PingInterval,
		PongWait:     s.conf.Session.PongWait,
	}, logger)
	session := s.streamer.NewSession(origin, conn)
	active := &activeSession{session: session, conn: conn, source: name, remote: c.ClientIP()}
	if !s.registry.add(active) {
		logger.Info("server is shutting down, rejecting session")
		session.Close()
		return
	}
	defer s.registry.remove(session.ID())

	logger.WithField("session", session.ID()).Infof("client %s connected", active.remote)
	status := session.Run(s.ctx)

	if s.db != nil {
		if err := s.db.PutSession(metadata.NewSessionRecord(status, name, active.remote)); err != nil {
			logger.WithError(err).Errorf("save session %s failed", status.SessionID)
		}
	}
}
