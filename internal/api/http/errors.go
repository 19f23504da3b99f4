package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/vboxremote/internal/domain/session"
	"github.com/GriffinCanCode/vboxremote/internal/remote"
	"github.com/GriffinCanCode/vboxremote/internal/remote/snapshot"
)

// faultStatus maps server faults onto HTTP statuses.
var faultStatus = map[remote.FaultCode]int{
	remote.FaultInvalidArgument:    http.StatusBadRequest,
	remote.FaultObjectNotFound:     http.StatusNotFound,
	remote.FaultNotImplemented:     http.StatusNotImplemented,
	remote.FaultNotSupported:       http.StatusNotImplemented,
	remote.FaultIPRTError:          http.StatusUnprocessableEntity,
	remote.FaultInvalidSession:     http.StatusUnauthorized,
	remote.FaultInvalidObjectState: http.StatusConflict,
	remote.FaultAccessDenied:       http.StatusForbidden,
	remote.FaultInternal:           http.StatusBadGateway,
}

// statusOf picks the response status for err.
func statusOf(err error) int {
	var fault *remote.RemoteFault
	switch {
	case errors.As(err, &fault):
		if code, ok := faultStatus[fault.Code]; ok {
			return code
		}
		return http.StatusBadGateway
	case errors.Is(err, remote.ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrNotFound), errors.Is(err, snapshot.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, remote.ErrUnknownMethod),
		errors.Is(err, remote.ErrEncode),
		errors.Is(err, remote.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, remote.ErrCancelled):
		return 499
	case errors.Is(err, remote.ErrTransport):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// fail aborts the request with err, carrying the fault code when there is one.
func fail(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	var fault *remote.RemoteFault
	if errors.As(err, &fault) {
		body["fault"] = fault.Code
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusOf(err), body)
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
