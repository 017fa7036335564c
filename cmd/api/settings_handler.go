package api

import (
	"net/http"

	"famnet-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// LogLevelRequest is the body of PUT /api/settings/log-level
type LogLevelRequest struct {
	Level string `json:"level" binding:"required"`
}

// GetLogLevel returns the current log level
// GET /api/settings/log-level
func GetLogLevel(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"level": logger.GetLevel().String()})
}

// UpdateLogLevel changes the log level without a restart
// PUT /api/settings/log-level
func UpdateLogLevel(c *gin.Context) {
	var req LogLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := logger.SetLevel(req.Level); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"level": logger.GetLevel().String()})
}
