package v1alpha1

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	api "github.com/kubev2v/proxmox-manager/api/v1alpha1"
	"github.com/kubev2v/proxmox-manager/internal/handlers/v1alpha1/mappers"
	"github.com/kubev2v/proxmox-manager/internal/handlers/validator"
	"github.com/kubev2v/proxmox-manager/internal/service"
	"github.com/kubev2v/proxmox-manager/internal/store/model"
)

// (GET /api/v1/vms/{id})
func (h *ServiceHandler) GetVM(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	vm, err := h.inventorySrv.GetVM(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	reply(w, r, http.StatusOK, mappers.VMToApi(*vm))
}

// (POST /api/v1/vms/{id}/snapshots)
func (h *ServiceHandler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var form api.SnapshotCreate
	if !decode(w, r, &form, validator.NewVMValidationRules()...) {
		return
	}

	name, err := h.snapshotSrv.Create(r.Context(), id, mappers.SnapshotFormApi(form))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	reply(w, r, http.StatusCreated, api.SnapshotCreated{Name: name})
}

// (DELETE /api/v1/vms/{id}/snapshots/{sid})
func (h *ServiceHandler) RemoveSnapshot(w http.ResponseWriter, r *http.Request) {
	h.snapshotTask(w, r, h.snapshotSrv.Remove)
}

// (POST /api/v1/vms/{id}/snapshots/{sid}/revert)
func (h *ServiceHandler) RevertSnapshot(w http.ResponseWriter, r *http.Request) {
	h.snapshotTask(w, r, h.snapshotSrv.Revert)
}

func (h *ServiceHandler) snapshotTask(w http.ResponseWriter, r *http.Request, start func(ctx context.Context, vmID, snapshotID uuid.UUID, userid string) (*model.Task, error)) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	sid, ok := pathID(w, r, "sid")
	if !ok {
		return
	}
	t, err := start(r.Context(), id, sid, userid(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	reply(w, r, http.StatusAccepted, mappers.TaskToApi(*t))
}

// (POST /api/v1/vms/{id}/disks/{disk}/resize)
func (h *ServiceHandler) ResizeDisk(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var form api.DiskResize
	if !decode(w, r, &form) {
		return
	}

	t, err := h.reconfigureSrv.ResizeDisk(r.Context(), id, chi.URLParam(r, "disk"), form.SizeMB, userid(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	reply(w, r, http.StatusAccepted, mappers.TaskToApi(*t))
}

// (PUT /api/v1/vms/{id}/config)
func (h *ServiceHandler) ReconfigureVM(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var form api.VMConfigUpdate
	if !decode(w, r, &form, validator.NewVMValidationRules()...) {
		return
	}

	tasks, err := h.reconfigureSrv.Reconfigure(r.Context(), id, mappers.ReconfigureOptionsApi(form), userid(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	reply(w, r, http.StatusAccepted, mappers.TaskListToApi(tasks))
}

// (POST /api/v1/vms/{id}/console)
func (h *ServiceHandler) AcquireConsole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var form api.ConsoleRequest
	if !decode(w, r, &form) {
		return
	}
	if form.Protocol == "" {
		form.Protocol = service.ConsoleHTML5
	}

	ticket, err := h.consoleSrv.AcquireTicket(r.Context(), id, form.Protocol)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	reply(w, r, http.StatusOK, mappers.ConsoleTicketToApi(*ticket))
}

// (GET /api/v1/vms/{id}/tasks)
func (h *ServiceHandler) ListVMTasks(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.inventorySrv.GetVM(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	tasks, err := h.taskSrv.ListByVM(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	reply(w, r, http.StatusOK, mappers.TaskListToApi(tasks))
}
