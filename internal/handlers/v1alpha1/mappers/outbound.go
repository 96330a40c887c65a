package mappers

import (
	api "github.com/kubev2v/proxmox-manager/api/v1alpha1"
	"github.com/kubev2v/proxmox-manager/internal/service"
	"github.com/kubev2v/proxmox-manager/internal/store/model"
	"github.com/thoas/go-funk"
)

func ManagerToApi(m model.Manager) api.Manager {
	return api.Manager{
		ID:               m.ID,
		Name:             m.Name,
		Hostname:         m.Hostname,
		Port:             m.Port,
		Username:         m.Username,
		VerifySSL:        m.VerifySSL,
		CreatedAt:        m.CreatedAt,
		LastRefreshAt:    m.LastRefreshAt,
		LastRefreshError: m.LastRefreshError,
	}
}

func ManagerListToApi(managers model.ManagerList) api.ManagerList {
	return funk.Map([]model.Manager(managers), ManagerToApi).([]api.Manager)
}

// VMToApi maps a vm. Hardware and snapshots are only set when they were loaded.
func VMToApi(vm model.VM) api.VM {
	out := api.VM{
		ID:            vm.ID,
		ManagerID:     vm.ManagerID,
		EmsRef:        vm.EmsRef,
		Name:          vm.Name,
		PowerState:    vm.PowerState,
		RawPowerState: vm.RawPowerState,
		Location:      vm.Location,
		Template:      vm.Template,
		Archived:      vm.Archived,
		HostID:        vm.HostID,
	}

	if hw := vm.Hardware; hw != nil {
		out.Hardware = &api.Hardware{
			CPUSockets:        hw.CPUSockets,
			CPUCoresPerSocket: hw.CPUCoresPerSocket,
			CPUTotalCores:     hw.CPUTotalCores,
			MemoryMB:          hw.MemoryMB,
			GuestOS:           hw.GuestOS,
			Disks:             make([]api.Disk, 0, len(hw.Disks)),
			Adapters:          make([]api.NetworkAdapter, 0, len(hw.Adapters)),
			Networks:          make([]api.GuestNetwork, 0, len(hw.Networks)),
		}
		for _, d := range hw.Disks {
			out.Hardware.Disks = append(out.Hardware.Disks, api.Disk{
				DeviceName:     d.DeviceName,
				ControllerType: d.ControllerType,
				Location:       d.Location,
				Size:           d.Size,
				DiskType:       d.DiskType,
				StorageID:      d.StorageID,
			})
		}
		for _, a := range hw.Adapters {
			out.Hardware.Adapters = append(out.Hardware.Adapters, api.NetworkAdapter{DeviceName: a.DeviceName, DeviceType: a.DeviceType, Address: a.Address})
		}
		for _, n := range hw.Networks {
			out.Hardware.Networks = append(out.Hardware.Networks, api.GuestNetwork{IPAddress: n.IPAddress, IPv6Address: n.IPv6Address, Hostname: n.Hostname})
		}
	}

	for _, s := range vm.Snapshots {
		out.Snapshots = append(out.Snapshots, SnapshotToApi(s))
	}
	return out
}

func VMListToApi(vms model.VMList) api.VMList {
	return funk.Map([]model.VM(vms), VMToApi).([]api.VM)
}

func SnapshotToApi(s model.Snapshot) api.Snapshot {
	return api.Snapshot{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		CreateTime:  s.CreateTime,
		Current:     s.Current,
		ParentUID:   s.ParentUID,
	}
}

func TaskToApi(t model.Task) api.Task {
	return api.Task{
		ID:        t.ID,
		Name:      t.Name,
		State:     t.State,
		Status:    t.Status,
		Message:   t.Message,
		ManagerID: t.ManagerID,
		VMID:      t.VMID,
		Userid:    t.Userid,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func TaskListToApi(tasks model.TaskList) api.TaskList {
	return funk.Map([]model.Task(tasks), TaskToApi).([]api.Task)
}

func ConsoleTicketToApi(t service.ConsoleTicket) api.ConsoleTicket {
	return api.ConsoleTicket{URL: t.URL, Secret: t.Secret, Type: t.Type, Proto: t.Proto}
}
