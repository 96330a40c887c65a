package v1alpha1

import (
	"net/http"

	"github.com/kubev2v/proxmox-manager/internal/handlers/v1alpha1/mappers"
)

// (GET /api/v1/tasks/{id})
func (h *ServiceHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	t, err := h.taskSrv.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	reply(w, r, http.StatusOK, mappers.TaskToApi(*t))
}
