package mappers

import (
	api "github.com/kubev2v/proxmox-manager/api/v1alpha1"
	"github.com/kubev2v/proxmox-manager/internal/service"
)

func ManagerFormApi(resource api.ManagerCreate) service.ManagerForm {
	return service.ManagerForm{
		Name:      resource.Name,
		Hostname:  resource.Hostname,
		Port:      resource.Port,
		Username:  resource.Username,
		Password:  resource.Password,
		VerifySSL: resource.VerifySSL,
	}
}

func SnapshotFormApi(resource api.SnapshotCreate) service.SnapshotForm {
	return service.SnapshotForm{
		Name:        resource.Name,
		Description: resource.Description,
		Memory:      resource.Memory,
	}
}

func ReconfigureOptionsApi(resource api.VMConfigUpdate) service.ReconfigureOptions {
	opts := service.ReconfigureOptions{
		NumberOfCPUs:   resource.NumberOfCPUs,
		CoresPerSocket: resource.CoresPerSocket,
		MemoryMB:       resource.MemoryMB,
		CPUType:        resource.CPUType,
		Description:    resource.Description,
		OnBoot:         resource.OnBoot,
		BootOrder:      resource.BootOrder,
		Protection:     resource.Protection,
	}
	for _, d := range resource.DisksResize {
		opts.DisksResize = append(opts.DisksResize, service.DiskResize{Disk: d.Disk, SizeMB: d.SizeMB})
	}
	return opts
}
