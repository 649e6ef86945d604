package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"qms/token-service/internal/queue"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Handler struct {
	manager  *queue.Manager
	logger   *zap.Logger
	realtime http.Handler
	ready    func(r *http.Request) error
}

type Options struct {
	// Realtime is mounted under /realtime/ when set.
	Realtime http.Handler
	// Ready backs /healthz; nil means always healthy.
	Ready func(r *http.Request) error
}

func NewHandler(manager *queue.Manager, logger *zap.Logger, options Options) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		manager:  manager,
		logger:   logger,
		realtime: options.Realtime,
		ready:    options.Ready,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	if h.realtime != nil {
		mux.Handle("/realtime/", h.realtime)
	}

	mux.HandleFunc("POST /api/branches/{branchId}/tokens/generate", h.handleGenerate)
	mux.HandleFunc("GET /api/branches/{branchId}/tokens", h.handleListTokens)
	mux.HandleFunc("GET /api/tokens/{tokenId}", h.handleGetToken)
	mux.HandleFunc("GET /api/tokens/{tokenId}/events", h.handleTokenEvents)
	mux.HandleFunc("POST /api/tokens/{tokenId}/complete", h.handleComplete)
	mux.HandleFunc("POST /api/employees/{employeeId}/serve-next", h.handleServeNext)
	mux.HandleFunc("GET /api/employees/{employeeId}/current", h.handleCurrentToken)
	mux.HandleFunc("POST /api/employees/{employeeId}/shift", h.handleRecordShift)
	mux.HandleFunc("GET /api/employees/{employeeId}/shift-logs", h.handleShiftLogs)

	mux.HandleFunc("GET /api/branches/{branchId}/series", h.handleListSeries)
	mux.HandleFunc("POST /api/branches/{branchId}/series", h.handleCreateSeries)
	mux.HandleFunc("POST /api/branches/{branchId}/series/reset", h.handleResetSeries)
	mux.HandleFunc("PUT /api/series/{seriesId}", h.handleUpdateSeries)
	mux.HandleFunc("PUT /api/series/{seriesId}/active", h.handleSetSeriesActive)
	mux.HandleFunc("DELETE /api/series/{seriesId}", h.handleDeleteSeries)
	mux.HandleFunc("POST /api/series/{seriesId}/next", h.handleNextNumber)

	mux.HandleFunc("GET /api/branches", h.handleListBranches)
	mux.HandleFunc("POST /api/branches", h.handleCreateBranch)
	mux.HandleFunc("DELETE /api/branches/{branchId}", h.handleDeleteBranch)
	mux.HandleFunc("GET /api/branches/{branchId}/services", h.handleListServices)
	mux.HandleFunc("POST /api/branches/{branchId}/services", h.handleCreateService)
	mux.HandleFunc("PUT /api/services/{serviceId}", h.handleUpdateService)
	mux.HandleFunc("DELETE /api/services/{serviceId}", h.handleDeleteService)
	mux.HandleFunc("POST /api/services/{serviceId}/sub-services", h.handleCreateSubService)
	mux.HandleFunc("PUT /api/sub-services/{subServiceId}", h.handleUpdateSubService)
	mux.HandleFunc("DELETE /api/sub-services/{subServiceId}", h.handleDeleteSubService)
	mux.HandleFunc("GET /api/branches/{branchId}/desks", h.handleListDesks)
	mux.HandleFunc("POST /api/branches/{branchId}/desks", h.handleCreateDesk)
	mux.HandleFunc("PUT /api/desks/{deskId}", h.handleUpdateDesk)
	mux.HandleFunc("DELETE /api/desks/{deskId}", h.handleDeleteDesk)
	mux.HandleFunc("POST /api/branches/{branchId}/users", h.handleCreateUser)
	mux.HandleFunc("PUT /api/users/{userId}/desk", h.handleAssignDesk)
	return MetricsMiddleware(mux)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			writeError(w, requestIDFromRequest(r), http.StatusServiceUnavailable, "unavailable", "dependency unavailable")
			return
		}
	}
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fail writes the error envelope for err and logs anything unexpected.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestIDFromRequest(r)),
			zap.Error(err))
	}
	writeError(w, requestIDFromRequest(r), status, code, msg)
}

// TimeoutMiddleware bounds the context of API requests. The realtime
// endpoint holds long-lived sessions and is left alone.
func TimeoutMiddleware(timeout time.Duration, next http.Handler) http.Handler {
	if timeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/realtime/") {
			next.ServeHTTP(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
