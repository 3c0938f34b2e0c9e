package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/console"
	"github.com/energizer-project/rconctl/internal/db"
	"github.com/energizer-project/rconctl/internal/rcon"
)

type executeRequest struct {
	Command string `json:"command" binding:"required"`
}

type adhocRequest struct {
	Host       string `json:"host" binding:"required"`
	Port       int    `json:"port" binding:"omitempty,min=1,max=65535"`
	Password   string `json:"password"`
	Command    string `json:"command" binding:"required"`
	TimeoutSec int    `json:"timeout_sec" binding:"omitempty,min=1,max=300"`
}

type executeResponse struct {
	ID         string `json:"id"`
	Profile    string `json:"profile"`
	Command    string `json:"command"`
	Response   string `json:"response"`
	DurationMS int64  `json:"duration_ms"`
}

type profileView struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	TimeoutSec int    `json:"timeout_sec"`
	Default    bool   `json:"default"`
}

// handleListProfiles lists profiles without their passwords.
func (s *Server) handleListProfiles(c *gin.Context) {
	defaultName := ""
	if p, ok := s.cfg.GetProfile(""); ok {
		defaultName = p.Name
	}

	profiles := s.cfg.GetProfiles()
	views := make([]profileView, 0, len(profiles))
	for _, p := range profiles {
		views = append(views, profileView{
			Name:       p.Name,
			Address:    p.SessionConfig().Address(),
			TimeoutSec: int(p.Timeout().Seconds()),
			Default:    p.Name == defaultName,
		})
	}
	c.JSON(http.StatusOK, gin.H{"profiles": views})
}

func (s *Server) handleExecuteProfile(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.execute(c, console.Request{
		Profile: c.Param("name"),
		Command: req.Command,
		Source:  console.SourceGateway,
	})
}

func (s *Server) handleExecuteAdhoc(c *gin.Context) {
	if !s.cfg.GetGateway().AllowAdhoc {
		c.JSON(http.StatusForbidden, gin.H{"error": "ad-hoc targets are disabled"})
		return
	}

	var req adhocRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.execute(c, console.Request{
		Target: &config.Profile{
			Host:       req.Host,
			Port:       req.Port,
			Password:   req.Password,
			TimeoutSec: req.TimeoutSec,
		},
		Command: req.Command,
		Source:  console.SourceGateway,
	})
}

func (s *Server) execute(c *gin.Context, req console.Request) {
	res, err := s.executor.Run(c.Request.Context(), req)
	if err != nil {
		status, kind := statusFor(err)
		c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
		return
	}

	c.JSON(http.StatusOK, executeResponse{
		ID:         res.ID,
		Profile:    res.Profile,
		Command:    res.Command,
		Response:   res.Response,
		DurationMS: res.Duration.Milliseconds(),
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is disabled"})
		return
	}

	filter := db.HistoryFilter{Profile: c.Query("profile")}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		filter.Limit = n
	}

	entries, err := s.history.List(c.Request.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("history query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "health checks are disabled"})
		return
	}

	statuses := s.health.Statuses()
	healthy := true
	for _, st := range statuses {
		if !st.Healthy() {
			healthy = false
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{"healthy": healthy, "profiles": statuses})
}

// statusFor maps a runner error to an HTTP status and a stable kind.
func statusFor(err error) (int, string) {
	if errors.Is(err, console.ErrUnknownProfile) {
		return http.StatusNotFound, "unknown_profile"
	}

	kind := rcon.Kind(err)
	switch kind {
	case rcon.KindAuthentication:
		return http.StatusUnauthorized, string(kind)
	case rcon.KindConnection, rcon.KindFraming:
		return http.StatusBadGateway, string(kind)
	case rcon.KindEncoding, rcon.KindCommandTooLong:
		return http.StatusBadRequest, string(kind)
	case rcon.KindTimeout, rcon.KindConnectionClosed:
		return http.StatusGatewayTimeout, string(kind)
	default:
		return http.StatusInternalServerError, string(kind)
	}
}
