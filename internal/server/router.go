package server

import (
	"github.com/gin-gonic/gin"
)

func (s *Server) SetUpRouter() *gin.Engine {
	router := gin.New()
	router.Use(RequestId())
	router.Use(Logger())
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "ok",
		})
	})
	router.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{"error": "not found"})
	})

	ws := router.Group("/ws")
	ws.Use(NeedAuth(s.conf.JwtSecret))
	ws.GET("/video", s.handleVideo)
	ws.GET("/video/:source", s.handleVideo)

	apiV1 := router.Group("/api/v1")
	s.SetUpApiV1Router(apiV1)

	return router
}

func (s *Server) SetUpApiV1Router(apiV1 *gin.RouterGroup) {
	v1Authed := apiV1.Group("")
	v1Authed.Use(NeedAuth(s.conf.JwtSecret))

	v1Authed.GET("/sources", s.handleListSources)
	v1Authed.GET("/sessions", s.handleListSessions)
	v1Authed.GET("/sessions/active", s.handleListActiveSessions)
	v1Authed.GET("/sessions/:session_id", s.handleGetSession)
}
