package scanner

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/chainguard/internal/pagination"
	"github.com/mbd888/chainguard/internal/scan"
)

// ScanEventEmitter broadcasts completed scans to realtime subscribers.
type ScanEventEmitter interface {
	EmitScan(result *scan.Result)
}

// Handler provides HTTP endpoints for scans.
type Handler struct {
	engine *Engine
	store  scan.Store
	events ScanEventEmitter
}

// NewHandler creates a new scan handler.
func NewHandler(engine *Engine, store scan.Store) *Handler {
	return &Handler{engine: engine, store: store}
}

// WithEvents adds an event emitter.
func (h *Handler) WithEvents(events ScanEventEmitter) *Handler {
	h.events = events
	return h
}

// RegisterRoutes sets up scan routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/scan", h.CreateScan)
	r.GET("/scans/:id", h.GetScan)
	r.GET("/scans", h.ListScans)
	r.GET("/chains", h.ListChains)
}

// CreateScanRequest for scan submission.
type CreateScanRequest struct {
	Address string `json:"address" binding:"required"`
	ChainID int64  `json:"chainId" binding:"required"`
	Type    string `json:"type"`
}

// CreateScan handles POST /scan.
func (h *Handler) CreateScan(c *gin.Context) {
	var req CreateScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: address and chainId are required",
		})
		return
	}

	result, err := h.engine.Scan(c.Request.Context(), req.Address, req.ChainID, scan.Type(req.Type))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAddress):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_address",
				"message": "Address must be a 20-byte hex address",
			})
		case errors.Is(err, ErrUnsupportedChain):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "unsupported_chain",
				"message": "Chain is not supported",
			})
		case errors.Is(err, ErrInvalidScanType):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_scan_type",
				"message": "Type must be one of contract, token, wallet",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "scan_failed",
				"message": err.Error(),
			})
		}
		return
	}

	if h.store != nil {
		if err := h.store.Save(c.Request.Context(), result); err != nil {
			// The scan itself succeeded; persistence trouble is not
			// the caller's problem.
			_ = c.Error(err)
		}
	}
	if h.events != nil {
		h.events.EmitScan(result)
	}

	c.JSON(http.StatusOK, result)
}

// GetScan handles GET /scans/:id.
func (h *Handler) GetScan(c *gin.Context) {
	result, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, scan.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Scan not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "lookup_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListScans handles GET /scans?address=0x...&limit=N&cursor=...
func (h *Handler) ListScans(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_address",
			"message": "Query parameter address is required",
		})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "Limit must be between 1 and 100",
			})
			return
		}
		limit = n
	}

	var opts []scan.ListOption
	if cursor := c.Query("cursor"); cursor != "" {
		opts = append(opts, scan.WithCursor(cursor))
	}

	// Fetch one extra row to detect whether another page exists.
	results, err := h.store.ListByAddress(c.Request.Context(), address, limit+1, opts...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "lookup_failed",
			"message": err.Error(),
		})
		return
	}

	results, nextCursor, hasMore := pagination.ComputePage(results, limit, func(r *scan.Result) (time.Time, string) {
		return r.Timestamp, r.ID
	})
	if results == nil {
		results = []*scan.Result{}
	}

	c.JSON(http.StatusOK, gin.H{
		"scans":      results,
		"count":      len(results),
		"nextCursor": nextCursor,
		"hasMore":    hasMore,
	})
}

// ListChains handles GET /chains.
func (h *Handler) ListChains(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"chains": h.engine.Chains(),
	})
}
