package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RunSweep triggers one period reset sweep outside the schedule.
func (s *Server) RunSweep(c *gin.Context) {
	if s.scheduler == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	result, err := s.scheduler.Sweep(c.Request.Context(), s.clock.Now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
