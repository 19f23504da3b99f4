package httprpc

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/vboxremote/internal/remote"
)

// Register mounts the invoke endpoint for backend on r.
func Register(r gin.IRouter, backend remote.Backend, logger *zap.Logger) {
	r.POST(InvokePath, Handler(backend, logger))
}

// Handler executes one JSON call against backend. Faults are returned
// in-band with status 200; undecodable calls get 400.
func Handler(backend remote.Backend, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		data, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		call, err := remote.UnmarshalCall(data)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := backend.Handle(c.Request.Context(), call)
		if err != nil {
			logger.Debug("Call faulted",
				zap.String("method", call.Method),
				zap.String("request_id", c.GetHeader(HeaderRequestID)),
				zap.Error(err))
		}
		out, err := remote.MarshalReply(remote.ReplyFor(resp, err))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "application/json", out)
	}
}
