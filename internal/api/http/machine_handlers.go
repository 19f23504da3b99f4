package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/vboxremote/internal/domain/perf"
	"github.com/GriffinCanCode/vboxremote/internal/domain/session"
	"github.com/GriffinCanCode/vboxremote/internal/remote"
	"github.com/GriffinCanCode/vboxremote/internal/vbox"
)

// summaryConcurrency bounds the machines summarized at once.
const summaryConcurrency = 8

// ListMachines lists the registered machines with their list-row
// properties, read through the session cache
func (h *Handlers) ListMachines(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	vb := vbox.NewVirtualBox(s, s.Root())
	if c.Query("refresh") == "true" {
		vb.Refresh("getMachines")
	}
	machines, err := vb.Machines(ctx)
	if err != nil {
		fail(c, err)
		return
	}

	out := make([]vbox.Summary, len(machines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(summaryConcurrency)
	for i, m := range machines {
		g.Go(func() error {
			sum, err := m.Summarize(gctx)
			out[i] = sum
			return err
		})
	}
	if err := g.Wait(); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"machines": out})
}

// machineActions maps action names to proxy calls. Actions returning a
// progress object yield its reference.
var machineActions = map[string]func(m *vbox.Machine, ctx context.Context, vb *vbox.VirtualBox) (*vbox.Progress, error){
	"start": func(m *vbox.Machine, ctx context.Context, vb *vbox.VirtualBox) (*vbox.Progress, error) {
		return m.Start(ctx, vb, "headless")
	},
	"poweroff":  (*vbox.Machine).PowerOff,
	"savestate": (*vbox.Machine).SaveState,
	"pause":     noProgress((*vbox.Machine).Pause),
	"resume":    noProgress((*vbox.Machine).Resume),
	"reset":     noProgress((*vbox.Machine).Reset),
	"acpi":      noProgress((*vbox.Machine).PowerButton),
}

func noProgress(fn func(*vbox.Machine, context.Context, *vbox.VirtualBox) error) func(*vbox.Machine, context.Context, *vbox.VirtualBox) (*vbox.Progress, error) {
	return func(m *vbox.Machine, ctx context.Context, vb *vbox.VirtualBox) (*vbox.Progress, error) {
		return nil, fn(m, ctx, vb)
	}
}

func (h *Handlers) machine(c *gin.Context, s *session.Session) (*vbox.Machine, *vbox.VirtualBox, bool) {
	vb := vbox.NewVirtualBox(s, s.Root())
	m, err := vb.FindMachine(c.Request.Context(), c.Param("machine"))
	if err != nil {
		fail(c, err)
		return nil, nil, false
	}
	return m, vb, true
}

// MachineAction runs start, poweroff, savestate, pause, resume, reset or
// acpi on a machine
func (h *Handlers) MachineAction(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	action, known := machineActions[strings.ToLower(c.Param("action"))]
	if !known {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown machine action %q", c.Param("action"))})
		return
	}
	m, vb, ok := h.machine(c, s)
	if !ok {
		return
	}

	p, err := action(m, c.Request.Context(), vb)
	if err != nil {
		fail(c, err)
		return
	}
	body := gin.H{"machine": m.Ref()}
	if p != nil {
		body["progress"] = p.Ref()
		c.JSON(http.StatusAccepted, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

// MachineMetrics queries performance metrics of a machine. Passing period
// and count sets the metrics up first.
func (h *Handlers) MachineMetrics(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var names []string
	if q := c.Query("names"); q != "" {
		names = strings.Split(q, ",")
	}
	ctx := c.Request.Context()
	m, vb, ok := h.machine(c, s)
	if !ok {
		return
	}
	collector, err := vb.PerformanceCollector(ctx)
	if err != nil {
		fail(c, err)
		return
	}

	if c.Query("period") != "" || c.Query("count") != "" {
		period, err1 := strconv.ParseUint(c.DefaultQuery("period", "1"), 10, 32)
		count, err2 := strconv.ParseUint(c.DefaultQuery("count", "10"), 10, 32)
		if err1 != nil || err2 != nil {
			badRequest(c, fmt.Errorf("%w: period and count must be unsigned integers", remote.ErrEncode))
			return
		}
		if _, err := perf.Setup(ctx, collector, m.Ref(), names, uint32(period), uint32(count)); err != nil {
			fail(c, err)
			return
		}
	}

	results, err := perf.Query(ctx, collector, m.Ref(), names)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"machine": m.Ref(), "metrics": results})
}
