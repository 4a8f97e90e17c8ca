package server

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"trackcast/internal/metadata"
)

type SourceSpec struct {
	Name      string `json:"name"`
	Origin    string `json:"origin"`
	IsDefault bool   `json:"isDefault"`
}

func (s *Server) handleListSources(c *gin.Context) {
	sources := make([]SourceSpec, 0, len(s.conf.Sources))
	for name, origin := range s.conf.Sources {
		sources = append(sources, SourceSpec{
			Name:      name,
			Origin:    origin,
			IsDefault: name == s.conf.DefaultSource,
		})
	}
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].Name < sources[j].Name
	})
	c.JSON(http.StatusOK, sources)
}

func (s *Server) handleListActiveSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.list())
}

type ListSessionsResponse struct {
	Items []*metadata.SessionRecord `json:"items"`
}

func (s *Server) handleListSessions(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(c, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = n
	}
	if s.db == nil {
		c.JSON(http.StatusOK, ListSessionsResponse{Items: []*metadata.SessionRecord{}})
		return
	}

	records, err := s.db.ListSessions(limit)
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []*metadata.SessionRecord{}
	}
	c.JSON(http.StatusOK, ListSessionsResponse{Items: records})
}

func (s *Server) handleGetSession(c *gin.Context) {
	if s.db == nil {
		s.writeError(c, http.StatusNotFound, metadata.ErrNotFound)
		return
	}
	record, err := s.db.GetSession(c.Param("session_id"))
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			s.writeError(c, http.StatusNotFound, err)
			return
		}
		s.writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, record)
}
