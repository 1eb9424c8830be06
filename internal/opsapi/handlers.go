package opsapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pceos/kernel/internal/kernel"
)

type handlers struct {
	kernel *kernel.Kernel
	log    *zap.Logger
}

func (h *handlers) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) activationLoss(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}
	n, err := h.kernel.GetNoActivationLoss(id)
	if err != nil {
		h.respondKernelError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"event_id": id, "activation_loss": n})
}

func (h *handlers) basePriority(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}
	p, err := h.kernel.GetTaskBasePriority(id)
	if err != nil {
		h.respondKernelError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"event_id": id, "base_priority": p})
}

func (h *handlers) failureCounts(c *gin.Context) {
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pid"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pid": pid, "total_failures": h.kernel.FailureCount(pid)})
}

func (h *handlers) failureCountOfKind(c *gin.Context) {
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pid"})
		return
	}
	kindIdx, err := strconv.Atoi(c.Param("kind"))
	if err != nil || kindIdx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid failure kind"})
		return
	}
	kind := kernel.FailureKind(kindIdx)
	c.JSON(http.StatusOK, gin.H{
		"pid":   pid,
		"kind":  kind.String(),
		"count": h.kernel.FailureCountOfKind(pid, kind),
	})
}

func (h *handlers) stackReserve(c *gin.Context) {
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pid"})
		return
	}
	bytes, err := h.kernel.GetStackReserve(pid)
	if err != nil {
		h.respondKernelError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pid": pid, "stack_reserve_bytes": bytes})
}

func (h *handlers) currentPriority(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"current_priority": h.kernel.GetCurrentTaskPriority()})
}

// suspendProcess proxies OSSuspendProcess: the operator's application
// policy decides a misbehaving process should be suspended.
func (h *handlers) suspendProcess(c *gin.Context) {
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pid"})
		return
	}
	if err := h.kernel.OSSuspendProcess(pid); err != nil {
		h.respondKernelError(c, err)
		return
	}
	h.log.Info("operator suspended process", zap.Int("pid", pid))
	c.JSON(http.StatusOK, gin.H{"pid": pid, "suspended": true})
}

type ceilingReq struct {
	Ceiling int `json:"ceiling" binding:"required"`
}

func (h *handlers) raiseCeiling(c *gin.Context) {
	var req ceilingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	prior, err := h.kernel.OSSuspendAllTasksByPriority(req.Ceiling)
	if err != nil {
		h.respondKernelError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prior_priority": prior})
}

func (h *handlers) lowerCeiling(c *gin.Context) {
	var req ceilingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.kernel.OSResumeAllTasksByPriority(req.Ceiling); err != nil {
		h.respondKernelError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restored": req.Ceiling})
}

// respondKernelError maps a *kernel.ConfigError to an HTTP status by
// its ErrCode.
func (h *handlers) respondKernelError(c *gin.Context, err error) {
	var cerr *kernel.ConfigError
	if errors.As(err, &cerr) {
		switch cerr.Code {
		case kernel.ErrBadEventID, kernel.ErrBadProcessID:
			c.JSON(http.StatusNotFound, gin.H{"error": cerr.Error()})
			return
		case kernel.ErrSuspendProcessBadPermission, kernel.ErrRunTaskBadPermission:
			c.JSON(http.StatusForbidden, gin.H{"error": cerr.Error()})
			return
		}
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
