package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/support-triage/internal/common"
)

type classifyReq struct {
	Subject     string `form:"subject" binding:"required"`
	Description string `form:"description" binding:"required"`
}

// Classify runs the classifier on ad-hoc input without storing anything.
func (h *Handler) Classify(c *gin.Context) {
	var req classifyReq
	if err := c.ShouldBind(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10006, "subject and description required")
		return
	}
	res := h.Classifier.Classify(c.Request.Context(), req.Subject, req.Description)
	common.OK(c, gin.H{
		"classification": res,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) ModelHealth(c *gin.Context) {
	data := gin.H{
		"healthy":   false,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if p := h.Classifier.Provider(); p != nil {
		data["provider"] = p.Name()
		data["model"] = p.Model()
	}
	if err := h.Classifier.Healthy(c.Request.Context()); err != nil {
		data["error"] = err.Error()
	} else {
		data["healthy"] = true
	}
	common.OK(c, data)
}
