package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/vboxremote/internal/remote/snapshot"
	"github.com/GriffinCanCode/vboxremote/internal/shared/id"
)

type invokeRequest struct {
	objectRequest
	Method string `json:"method" binding:"required"`
	// Args are textual: lists comma separated, references as object ids.
	Args []string `json:"args"`
}

// Invoke calls a method on a remote object
func (h *Handlers) Invoke(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req invokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ref, err := req.ref(s)
	if err != nil {
		badRequest(c, err)
		return
	}
	m, err := s.Dispatcher().Table().Lookup(ref.Kind, req.Method)
	if err != nil {
		fail(c, err)
		return
	}
	args, err := m.ParseArgs(s.ID(), req.Args)
	if err != nil {
		fail(c, err)
		return
	}

	v, err := s.Invoke(c.Request.Context(), ref, req.Method, args...)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"result": v,
		"type":   m.Result.Type,
		"cached": m.Cacheable,
	})
}

type invalidateRequest struct {
	objectRequest
	Names []string `json:"names"`
}

// Invalidate drops cached properties of an object
func (h *Handlers) Invalidate(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ref, err := req.ref(s)
	if err != nil {
		badRequest(c, err)
		return
	}
	s.ClearCacheNamed(ref, req.Names...)
	c.JSON(http.StatusOK, gin.H{"object": ref, "invalidated": req.Names})
}

type freezeRequest struct {
	objectRequest
	Names []string `json:"names"`
	// Store saves the snapshot and returns its key.
	Store bool `json:"store"`
}

// Freeze captures an object and its cached properties
func (h *Handlers) Freeze(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req freezeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ref, err := req.ref(s)
	if err != nil {
		badRequest(c, err)
		return
	}
	container, err := s.Freeze(ref, req.Names...)
	if err != nil {
		fail(c, err)
		return
	}

	body := gin.H{"snapshot": container}
	if req.Store {
		if h.snapshots == nil {
			c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "no snapshot store configured"})
			return
		}
		key := id.NewObjectID().String()
		if err := h.snapshots.Save(c.Request.Context(), key, container); err != nil {
			h.logger.Error("Failed to store snapshot", zap.String("key", key), zap.Error(err))
			fail(c, err)
			return
		}
		body["key"] = key
	}
	c.JSON(http.StatusOK, body)
}

type thawRequest struct {
	Snapshot *snapshot.Container `json:"snapshot"`
	Key      string              `json:"key"`
	Replace  bool                `json:"replace"`
}

// Thaw restores a snapshot into the session
func (h *Handlers) Thaw(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req thawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var container snapshot.Container
	switch {
	case req.Snapshot != nil:
		container = *req.Snapshot
	case req.Key != "" && h.snapshots != nil:
		loaded, err := h.snapshots.Load(c.Request.Context(), req.Key)
		if err != nil {
			fail(c, err)
			return
		}
		container = loaded
	default:
		badRequest(c, errors.New("snapshot or a stored key is required"))
		return
	}

	var opts []snapshot.ThawOption
	if req.Replace {
		opts = append(opts, snapshot.WithReplace())
	}
	ref, err := s.Thaw(container, opts...)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"object": ref, "properties": container.Names()})
}
