package v1alpha1

import (
	"net/http"

	api "github.com/kubev2v/proxmox-manager/api/v1alpha1"
	"github.com/kubev2v/proxmox-manager/internal/handlers/v1alpha1/mappers"
	"github.com/kubev2v/proxmox-manager/internal/handlers/validator"
	"github.com/kubev2v/proxmox-manager/internal/service"
)

// (GET /api/v1/managers)
func (h *ServiceHandler) ListManagers(w http.ResponseWriter, r *http.Request) {
	managers, err := h.managerSrv.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	reply(w, r, http.StatusOK, mappers.ManagerListToApi(managers))
}

// (POST /api/v1/managers)
func (h *ServiceHandler) CreateManager(w http.ResponseWriter, r *http.Request) {
	var form api.ManagerCreate
	if !decode(w, r, &form, validator.NewManagerValidationRules()...) {
		return
	}

	m, err := h.managerSrv.Create(r.Context(), mappers.ManagerFormApi(form))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	reply(w, r, http.StatusCreated, mappers.ManagerToApi(*m))
}

// (GET /api/v1/managers/{id})
func (h *ServiceHandler) GetManager(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	m, err := h.managerSrv.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	reply(w, r, http.StatusOK, mappers.ManagerToApi(*m))
}

// (DELETE /api/v1/managers/{id})
func (h *ServiceHandler) DeleteManager(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.managerSrv.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// (POST /api/v1/managers/{id}/verify)
func (h *ServiceHandler) VerifyManager(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.managerSrv.Verify(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// (POST /api/v1/managers/{id}/refresh)
func (h *ServiceHandler) RefreshManager(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req api.RefreshRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.managerSrv.QueueRefresh(r.Context(), id, req.VMs...); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// (GET /api/v1/managers/{id}/vms)
func (h *ServiceHandler) ListVMs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	filter := service.VMFilter{
		IncludeArchived: r.URL.Query().Get("include_archived") == "true",
		PowerState:      r.URL.Query().Get("power_state"),
	}
	vms, err := h.inventorySrv.ListVMs(r.Context(), id, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	reply(w, r, http.StatusOK, mappers.VMListToApi(vms))
}
