package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"qms/token-service/internal/queue"
	"qms/token-service/internal/store"
)

type generateRequest struct {
	ServiceID    string `json:"service_id" validate:"required,uuid"`
	SubServiceID string `json:"sub_service_id" validate:"omitempty,uuid"`
}

type shiftRequest struct {
	Type string `json:"type" validate:"required,oneof=WORK_START WORK_END BREAK_START BREAK_END"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	branchID, err := pathID(r, "branchId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	token, err := h.manager.Generate(r.Context(), principalFromContext(r.Context()), queue.GenerateRequest{
		BranchID:     branchID,
		ServiceID:    req.ServiceID,
		SubServiceID: req.SubServiceID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, token)
}

func (h *Handler) handleListTokens(w http.ResponseWriter, r *http.Request) {
	branchID, err := pathID(r, "branchId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	query := r.URL.Query()
	filter := store.TokenFilter{
		BranchID:  branchID,
		ServiceID: strings.TrimSpace(query.Get("service_id")),
		DeskID:    strings.TrimSpace(query.Get("desk_id")),
	}
	for _, value := range query["status"] {
		for _, status := range strings.Split(value, ",") {
			if status = strings.TrimSpace(status); status != "" {
				filter.Statuses = append(filter.Statuses, status)
			}
		}
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || limit == 0 || limit > 1000 {
			h.fail(w, r, store.Invalid("limit must be between 1 and 1000"))
			return
		}
		filter.Limit = limit
	}
	tokens, err := h.manager.ListTokens(r.Context(), principalFromContext(r.Context()), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, tokens)
}

func (h *Handler) handleGetToken(w http.ResponseWriter, r *http.Request) {
	tokenID, err := pathID(r, "tokenId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	token, err := h.manager.GetToken(r.Context(), principalFromContext(r.Context()), tokenID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, token)
}

func (h *Handler) handleTokenEvents(w http.ResponseWriter, r *http.Request) {
	tokenID, err := pathID(r, "tokenId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	events, err := h.manager.ListTokenEvents(r.Context(), principalFromContext(r.Context()), tokenID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, events)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	tokenID, err := pathID(r, "tokenId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	token, err := h.manager.Complete(r.Context(), principalFromContext(r.Context()), tokenID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, token)
}

// handleServeNext answers with data null when nothing is waiting.
func (h *Handler) handleServeNext(w http.ResponseWriter, r *http.Request) {
	employeeID, err := pathID(r, "employeeId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	token, found, err := h.manager.ServeNext(r.Context(), principalFromContext(r.Context()), employeeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !found {
		writeData(w, http.StatusOK, nil)
		return
	}
	writeData(w, http.StatusOK, token)
}

func (h *Handler) handleCurrentToken(w http.ResponseWriter, r *http.Request) {
	employeeID, err := pathID(r, "employeeId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	token, found, err := h.manager.CurrentToken(r.Context(), principalFromContext(r.Context()), employeeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !found {
		writeData(w, http.StatusOK, nil)
		return
	}
	writeData(w, http.StatusOK, token)
}

func (h *Handler) handleRecordShift(w http.ResponseWriter, r *http.Request) {
	employeeID, err := pathID(r, "employeeId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req shiftRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	entry, user, err := h.manager.RecordShift(r.Context(), principalFromContext(r.Context()), employeeID, req.Type)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"log": entry, "user": user})
}

func (h *Handler) handleShiftLogs(w http.ResponseWriter, r *http.Request) {
	employeeID, err := pathID(r, "employeeId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 500 {
			h.fail(w, r, store.Invalid("limit must be between 1 and 500"))
			return
		}
	}
	logs, err := h.manager.ListShiftLogs(r.Context(), principalFromContext(r.Context()), employeeID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, logs)
}
