package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/rconctl/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "rconctl",
		"version": util.Version,
	})
}

// handleInfo returns host information and gateway capabilities.
func (s *Server) handleInfo(c *gin.Context) {
	sysInfo := util.GetSystemInfo()
	resp := gin.H{
		"version":         util.Version,
		"hostname":        sysInfo.Hostname,
		"os":              sysInfo.OS,
		"platform":        sysInfo.Platform,
		"architecture":    sysInfo.Architecture,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_cores":       sysInfo.CPUCores,
		"total_memory_mb": sysInfo.TotalMemory,
		"profiles":        len(s.cfg.GetProfiles()),
		"allow_adhoc":     s.cfg.GetGateway().AllowAdhoc,
		"history":         s.history != nil,
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = mem
	}
	c.JSON(http.StatusOK, resp)
}
