package httpapi

import (
	"net/http"
	"strings"

	"qms/token-service/internal/models"
	"qms/token-service/internal/store"
)

type createSeriesRequest struct {
	ServiceID string `json:"service_id" validate:"required,uuid"`
	Prefix    string `json:"prefix" validate:"required,alpha,max=3"`
	StartFrom int    `json:"start_from" validate:"min=0"`
	EndAt     int    `json:"end_at" validate:"required,gtfield=StartFrom"`
	Active    *bool  `json:"active"`
}

type updateSeriesRequest struct {
	Prefix        *string `json:"prefix"`
	StartFrom     *int    `json:"start_from"`
	EndAt         *int    `json:"end_at"`
	CurrentNumber *int    `json:"current_number"`
	Active        *bool   `json:"active"`
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type branchRequest struct {
	Name    string `json:"name" validate:"required,max=120"`
	Address string `json:"address" validate:"max=255"`
}

type serviceRequest struct {
	Name   string `json:"name" validate:"required,max=120"`
	Code   string `json:"code" validate:"required,alphanum,max=10"`
	Status string `json:"status" validate:"omitempty,oneof=ACTIVE INACTIVE"`
}

type subServiceRequest struct {
	Name   string `json:"name" validate:"required,max=120"`
	Status string `json:"status" validate:"omitempty,oneof=ACTIVE INACTIVE"`
}

type deskRequest struct {
	Name          string   `json:"name" validate:"required,max=120"`
	Status        string   `json:"status" validate:"omitempty,oneof=ACTIVE INACTIVE"`
	ServiceIDs    []string `json:"service_ids" validate:"dive,uuid"`
	SubServiceIDs []string `json:"sub_service_ids" validate:"dive,uuid"`
}

type createUserRequest struct {
	Name           string `json:"name" validate:"required,max=120"`
	Email          string `json:"email" validate:"required,email"`
	Password       string `json:"password" validate:"required,min=8,max=72"`
	Role           string `json:"role" validate:"required,oneof=SUPERADMIN MANAGER EMPLOYEE"`
	AssignedDeskID string `json:"assigned_desk_id" validate:"omitempty,uuid"`
}

type assignDeskRequest struct {
	DeskID *string `json:"desk_id" validate:"omitempty,uuid"`
}

func statusOrActive(status string) string {
	if status == "" {
		return models.StatusActive
	}
	return status
}

func (h *Handler) handleListSeries(w http.ResponseWriter, r *http.Request) {
	branchID, err := pathID(r, "branchId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	series, err := h.manager.ListSeries(r.Context(), principalFromContext(r.Context()), branchID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, series)
}

func (h *Handler) handleCreateSeries(w http.ResponseWriter, r *http.Request) {
	branchID, err := pathID(r, "branchId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req createSeriesRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	series, err := h.manager.CreateSeries(r.Context(), principalFromContext(r.Context()), store.CreateSeriesInput{
		BranchID:  branchID,
		ServiceID: req.ServiceID,
		Prefix:    req.Prefix,
		StartFrom: req.StartFrom,
		EndAt:     req.EndAt,
		Active:    active,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, series)
}

func (h *Handler) handleUpdateSeries(w http.ResponseWriter, r *http.Request) {
	seriesID, err := pathID(r, "seriesId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req updateSeriesRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	series, err := h.manager.UpdateSeries(r.Context(), principalFromContext(r.Context()), seriesID, store.UpdateSeriesInput{
		Prefix:        req.Prefix,
		StartFrom:     req.StartFrom,
		EndAt:         req.EndAt,
		CurrentNumber: req.CurrentNumber,
		Active:        req.Active,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, series)
}

func (h *Handler) handleSetSeriesActive(w http.ResponseWriter, r *http.Request) {
	seriesID, err := pathID(r, "seriesId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req setActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	series, err := h.manager.SetSeriesActive(r.Context(), principalFromContext(r.Context()), seriesID, *req.Active)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, series)
}

func (h *Handler) handleDeleteSeries(w http.ResponseWriter, r *http.Request) {
	seriesID, err := pathID(r, "seriesId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.manager.DeleteSeries(r.Context(), principalFromContext(r.Context()), seriesID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"id": seriesID})
}

func (h *Handler) handleNextNumber(w http.ResponseWriter, r *http.Request) {
	seriesID, err := pathID(r, "seriesId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	issued, err := h.manager.NextNumber(r.Context(), principalFromContext(r.Context()), seriesID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, issued)
}

func (h *Handler) handleResetSeries(w http.ResponseWriter, r *http.Request) {
	branchID, err := pathID(r, "branchId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.manager.ResetBranch(r.Context(), principalFromContext(r.Context()), branchID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (h *Handler) handleListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := h.manager.ListBranches(r.Context(), principalFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, branches)
}

func (h *Handler) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	var req branchRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	branch, err := h.manager.CreateBranch(r.Context(), principalFromContext(r.Context()), req.Name, req.Address)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, branch)
}

func (h *Handler) handleDeleteBranch(w http.ResponseWriter, r *http.Request) {
	branchID, err := pathID(r, "branchId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.manager.DeleteBranch(r.Context(), principalFromContext(r.Context()), branchID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"id": branchID})
}

func (h *Handler) handleListServices(w http.ResponseWriter, r *http.Request) {
	branchID, err := pathID(r, "branchId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	services, err := h.manager.ListServices(r.Context(), principalFromContext(r.Context()), branchID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, services)
}

func (h *Handler) handleCreateService(w http.ResponseWriter, r *http.Request) {
	branchID, err := pathID(r, "branchId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req serviceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	service, err := h.manager.CreateService(r.Context(), principalFromContext(r.Context()), store.ServiceInput{
		BranchID: branchID,
		Name:     strings.TrimSpace(req.Name),
		Code:     req.Code,
		Status:   statusOrActive(req.Status),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, service)
}

func (h *Handler) handleUpdateService(w http.ResponseWriter, r *http.Request) {
	serviceID, err := pathID(r, "serviceId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req serviceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	service, err := h.manager.UpdateService(r.Context(), principalFromContext(r.Context()), serviceID, store.ServiceInput{
		Name:   strings.TrimSpace(req.Name),
		Code:   req.Code,
		Status: statusOrActive(req.Status),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, service)
}

func (h *Handler) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	serviceID, err := pathID(r, "serviceId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	closed, err := h.manager.DeleteService(r.Context(), principalFromContext(r.Context()), serviceID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"id": serviceID, "closed_tokens": closed})
}

func (h *Handler) handleCreateSubService(w http.ResponseWriter, r *http.Request) {
	serviceID, err := pathID(r, "serviceId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req subServiceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	sub, err := h.manager.CreateSubService(r.Context(), principalFromContext(r.Context()), store.SubServiceInput{
		ServiceID: serviceID,
		Name:      strings.TrimSpace(req.Name),
		Status:    statusOrActive(req.Status),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, sub)
}

func (h *Handler) handleUpdateSubService(w http.ResponseWriter, r *http.Request) {
	subServiceID, err := pathID(r, "subServiceId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req subServiceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	sub, err := h.manager.UpdateSubService(r.Context(), principalFromContext(r.Context()), subServiceID, store.SubServiceInput{
		Name:   strings.TrimSpace(req.Name),
		Status: statusOrActive(req.Status),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, sub)
}

func (h *Handler) handleDeleteSubService(w http.ResponseWriter, r *http.Request) {
	subServiceID, err := pathID(r, "subServiceId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	closed, err := h.manager.DeleteSubService(r.Context(), principalFromContext(r.Context()), subServiceID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"id": subServiceID, "closed_tokens": closed})
}

func (h *Handler) handleListDesks(w http.ResponseWriter, r *http.Request) {
	branchID, err := pathID(r, "branchId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	desks, err := h.manager.ListDesks(r.Context(), principalFromContext(r.Context()), branchID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, desks)
}

func (h *Handler) handleCreateDesk(w http.ResponseWriter, r *http.Request) {
	branchID, err := pathID(r, "branchId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req deskRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	desk, err := h.manager.CreateDesk(r.Context(), principalFromContext(r.Context()), store.DeskInput{
		BranchID:      branchID,
		Name:          strings.TrimSpace(req.Name),
		Status:        statusOrActive(req.Status),
		ServiceIDs:    req.ServiceIDs,
		SubServiceIDs: req.SubServiceIDs,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, desk)
}

func (h *Handler) handleUpdateDesk(w http.ResponseWriter, r *http.Request) {
	deskID, err := pathID(r, "deskId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req deskRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	desk, err := h.manager.UpdateDesk(r.Context(), principalFromContext(r.Context()), deskID, store.DeskInput{
		Name:          strings.TrimSpace(req.Name),
		Status:        statusOrActive(req.Status),
		ServiceIDs:    req.ServiceIDs,
		SubServiceIDs: req.SubServiceIDs,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, desk)
}

func (h *Handler) handleDeleteDesk(w http.ResponseWriter, r *http.Request) {
	deskID, err := pathID(r, "deskId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	closed, err := h.manager.DeleteDesk(r.Context(), principalFromContext(r.Context()), deskID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"id": deskID, "closed_tokens": closed})
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	branchID, err := pathID(r, "branchId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	user, err := h.manager.CreateUser(r.Context(), principalFromContext(r.Context()), store.CreateUserInput{
		BranchID:       branchID,
		Name:           strings.TrimSpace(req.Name),
		Email:          strings.TrimSpace(req.Email),
		Password:       req.Password,
		Role:           req.Role,
		AssignedDeskID: req.AssignedDeskID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, user)
}

func (h *Handler) handleAssignDesk(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req assignDeskRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	deskID := req.DeskID
	if deskID != nil && strings.TrimSpace(*deskID) == "" {
		deskID = nil
	}
	user, err := h.manager.AssignDesk(r.Context(), principalFromContext(r.Context()), userID, deskID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, user)
}
