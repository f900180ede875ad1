package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/support-triage/internal/common"
	"github.com/suPer8Hu/support-triage/internal/support"
	"go.uber.org/zap"
)

type createRequestReq struct {
	CustomerName string `json:"customer_name" binding:"required,max=100"`
	Email        string `json:"email" binding:"required,email,max=255"`
	Subject      string `json:"subject" binding:"required,max=200"`
	Description  string `json:"description" binding:"required"`
}

func (h *Handler) Health(c *gin.Context) {
	common.OK(c, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "support-request-processor",
	})
}

func (h *Handler) CreateSupportRequest(c *gin.Context) {
	var req createRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid request body")
		return
	}

	created, err := h.Svc.Submit(c.Request.Context(), support.SubmitInput{
		CustomerName: req.CustomerName,
		Email:        req.Email,
		Subject:      req.Subject,
		Description:  req.Description,
	})
	if err != nil {
		h.Log.Error("create support request", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create support request")
		return
	}
	common.Created(c, created)
}

func (h *Handler) GetSupportRequest(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		common.Fail(c, http.StatusBadRequest, 10002, "invalid request id")
		return
	}

	req, err := h.Svc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, support.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "support request not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50002, "db error")
		return
	}
	common.OK(c, req)
}

func (h *Handler) ListSupportRequests(c *gin.Context) {
	skip, err := strconv.Atoi(c.DefaultQuery("skip", "0"))
	if err != nil || skip < 0 {
		common.Fail(c, http.StatusBadRequest, 10003, "invalid skip")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid limit")
		return
	}
	status := support.Status(c.Query("status"))
	if status != "" && !status.Valid() {
		common.Fail(c, http.StatusBadRequest, 10005, "invalid status")
		return
	}

	items, err := h.Svc.List(c.Request.Context(), status, skip, limit)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "db error")
		return
	}
	common.OK(c, gin.H{"items": items, "skip": skip, "limit": limit})
}

func (h *Handler) Stats(c *gin.Context) {
	st, err := h.Svc.Stats(c.Request.Context())
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "db error")
		return
	}
	common.OK(c, gin.H{
		"total_requests":     st.Total,
		"status_breakdown":   st.StatusBreakdown,
		"category_breakdown": st.CategoryBreakdown,
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	})
}
