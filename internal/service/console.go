package service

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/kubev2v/proxmox-manager/internal/store"
	"github.com/kubev2v/proxmox-manager/internal/store/model"
	"go.uber.org/zap"
)

const (
	ConsoleHTML5 = "html5"
	ConsoleVNC   = "vnc"
)

type ConsoleTicket struct {
	URL    string
	Secret string
	Type   string
	Proto  string
}

type ConsoleService struct {
	store    store.Store
	managers *ManagerService
	connect  ConnectFunc
	log      *zap.SugaredLogger
}

func NewConsoleService(s store.Store, managers *ManagerService, connect ConnectFunc, log *zap.SugaredLogger) *ConsoleService {
	if log == nil {
		log = zap.S().Named("console_service")
	}
	return &ConsoleService{store: s, managers: managers, connect: connect, log: log}
}

// AcquireTicket opens a vnc proxy on the vm's node and returns the websocket url
// a browser console connects to. The vm must be running.
func (cs *ConsoleService) AcquireTicket(ctx context.Context, vmID uuid.UUID, protocol string) (*ConsoleTicket, error) {
	switch strings.ToLower(protocol) {
	case ConsoleHTML5, ConsoleVNC, "":
	default:
		return nil, NewErrInvalidRequest("%s protocol not enabled for this vm", protocol)
	}

	vm, err := getVM(ctx, cs.store, vmID)
	if err != nil {
		return nil, err
	}
	if !vm.PoweredOn() {
		return nil, NewErrInvalidRequest("remote console requires the vm to be running")
	}
	node, vmid, err := vmTarget(vm)
	if err != nil {
		return nil, err
	}
	m, err := cs.managers.Get(ctx, vm.ManagerID)
	if err != nil {
		return nil, err
	}

	api, err := cs.connect(ctx, m.ID)
	if err != nil {
		return nil, remoteError(err)
	}
	proxy, err := api.VNCProxy(ctx, node, vmid)
	if err != nil {
		return nil, remoteError(err)
	}
	if port, err := strconv.Atoi(proxy.Port); err != nil || port <= 0 {
		return nil, &ErrRemoteOperationFailed{fmt.Errorf("invalid vnc proxy response: port %q", proxy.Port)}
	}

	port := m.Port
	if port == 0 {
		port = model.DefaultManagerPort
	}
	u := fmt.Sprintf("wss://%s:%d/api2/json/nodes/%s/qemu/%d/vncwebsocket?port=%s&vncticket=%s",
		m.Hostname, port, node, vmid, proxy.Port, url.QueryEscape(proxy.Ticket))

	cs.log.Infow("console ticket acquired", "vm", vm.Name, "vmid", vmid, "node", node)
	return &ConsoleTicket{URL: u, Secret: proxy.Ticket, Type: ConsoleVNC, Proto: ConsoleVNC}, nil
}
