package v1alpha1

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	api "github.com/kubev2v/proxmox-manager/api/v1alpha1"
	"github.com/kubev2v/proxmox-manager/internal/handlers/validator"
	"github.com/kubev2v/proxmox-manager/internal/service"
	"github.com/kubev2v/proxmox-manager/pkg/requestid"
	"go.uber.org/zap"
)

// UserHeader names the user a remote operation is recorded for.
const (
	UserHeader  = "X-Remote-User"
	defaultUser = "system"
)

type ServiceHandler struct {
	managerSrv     *service.ManagerService
	inventorySrv   *service.InventoryService
	snapshotSrv    *service.SnapshotService
	reconfigureSrv *service.ReconfigureService
	consoleSrv     *service.ConsoleService
	taskSrv        *service.TaskService
	log            *zap.SugaredLogger
}

type Services struct {
	Managers    *service.ManagerService
	Inventory   *service.InventoryService
	Snapshots   *service.SnapshotService
	Reconfigure *service.ReconfigureService
	Console     *service.ConsoleService
	Tasks       *service.TaskService
}

func NewServiceHandler(s Services, log *zap.SugaredLogger) *ServiceHandler {
	if log == nil {
		log = zap.S().Named("handlers")
	}
	return &ServiceHandler{
		managerSrv:     s.Managers,
		inventorySrv:   s.Inventory,
		snapshotSrv:    s.Snapshots,
		reconfigureSrv: s.Reconfigure,
		consoleSrv:     s.Console,
		taskSrv:        s.Tasks,
		log:            log,
	}
}

// Routes mounts the api under /api/v1.
func (h *ServiceHandler) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/managers", func(r chi.Router) {
			r.Get("/", h.ListManagers)
			r.Post("/", h.CreateManager)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetManager)
				r.Delete("/", h.DeleteManager)
				r.Post("/verify", h.VerifyManager)
				r.Post("/refresh", h.RefreshManager)
				r.Get("/vms", h.ListVMs)
			})
		})
		r.Route("/vms/{id}", func(r chi.Router) {
			r.Get("/", h.GetVM)
			r.Get("/tasks", h.ListVMTasks)
			r.Post("/snapshots", h.CreateSnapshot)
			r.Delete("/snapshots/{sid}", h.RemoveSnapshot)
			r.Post("/snapshots/{sid}/revert", h.RevertSnapshot)
			r.Post("/disks/{disk}/resize", h.ResizeDisk)
			r.Put("/config", h.ReconfigureVM)
			r.Post("/console", h.AcquireConsole)
		})
		r.Get("/tasks/{id}", h.GetTask)
	})
}

func reply(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

func replyError(w http.ResponseWriter, r *http.Request, status int, message string) {
	reply(w, r, status, api.Error{Message: message, RequestID: requestid.FromContextPtr(r.Context())})
}

// fail maps service errors to status codes. Anything unknown is logged and
// answered with a 500.
func (h *ServiceHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notFound    *service.ErrResourceNotFound
		invalid     *service.ErrInvalidRequest
		exists      *service.ErrManagerExists
		credentials *service.ErrInvalidCredentials
		timeout     *service.ErrTimeout
		remote      *service.ErrRemoteOperationFailed
	)
	switch {
	case errors.As(err, &notFound):
		replyError(w, r, http.StatusNotFound, err.Error())
	case errors.As(err, &invalid):
		replyError(w, r, http.StatusBadRequest, err.Error())
	case errors.As(err, &exists):
		replyError(w, r, http.StatusConflict, err.Error())
	case errors.As(err, &credentials):
		replyError(w, r, http.StatusUnauthorized, err.Error())
	case errors.As(err, &timeout):
		replyError(w, r, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &remote):
		replyError(w, r, http.StatusBadGateway, err.Error())
	default:
		h.log.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "request_id", requestid.FromRequest(r), "error", err)
		replyError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// decode reads and validates the json body into dst. An empty body leaves dst
// zero valued.
func decode(w http.ResponseWriter, r *http.Request, dst any, rules ...validator.ValidationRule) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil && !errors.Is(err, io.EOF) {
		replyError(w, r, http.StatusBadRequest, "invalid body: "+err.Error())
		return false
	}
	v := validator.NewValidator()
	v.Register(rules...)
	if err := v.Struct(dst); err != nil {
		replyError(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		replyError(w, r, http.StatusBadRequest, "invalid "+param+": "+chi.URLParam(r, param))
		return uuid.Nil, false
	}
	return id, true
}

func userid(r *http.Request) string {
	if u := r.Header.Get(UserHeader); u != "" {
		return u
	}
	return defaultUser
}
