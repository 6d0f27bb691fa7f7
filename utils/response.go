package utils

import (
	"github.com/gin-gonic/gin"
)

// JSONResponse sends a structured JSON response
func JSONResponse(c *gin.Context, status int, data any, message string) {
	c.JSON(status, gin.H{
		"status":  status,
		"message": message,
		"data":    data,
	})
}

// JSONError sends a structured error response. Extra fields are merged into the body.
func JSONError(c *gin.Context, status int, err error, message string, extra ...gin.H) {
	body := gin.H{
		"status":  status,
		"message": message,
		"error":   err.Error(),
	}
	for _, fields := range extra {
		for k, v := range fields {
			body[k] = v
		}
	}
	c.JSON(status, body)
}
