// Package v1alpha1 holds the wire types of the proxmox manager api.
package v1alpha1

import (
	"time"

	"github.com/google/uuid"
)

type Error struct {
	Message   string  `json:"message"`
	RequestID *string `json:"request_id,omitempty"`
}

type ManagerCreate struct {
	Name      string `json:"name" validate:"required,max=100,manager_name"`
	Hostname  string `json:"hostname" validate:"required,max=253,manager_host"`
	Port      int    `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Username  string `json:"username" validate:"required"`
	Password  string `json:"password" validate:"required"`
	VerifySSL bool   `json:"verify_ssl"`
}

type Manager struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	Hostname         string     `json:"hostname"`
	Port             int        `json:"port"`
	Username         string     `json:"username"`
	VerifySSL        bool       `json:"verify_ssl"`
	CreatedAt        time.Time  `json:"created_at"`
	LastRefreshAt    *time.Time `json:"last_refresh_at,omitempty"`
	LastRefreshError string     `json:"last_refresh_error,omitempty"`
}

type ManagerList []Manager

// RefreshRequest narrows a refresh to some vms, by vmid.
type RefreshRequest struct {
	VMs []string `json:"vms,omitempty" validate:"omitempty,dive,numeric"`
}

type VM struct {
	ID            uuid.UUID  `json:"id"`
	ManagerID     uuid.UUID  `json:"manager_id"`
	EmsRef        string     `json:"ems_ref"`
	Name          string     `json:"name"`
	PowerState    string     `json:"power_state"`
	RawPowerState string     `json:"raw_power_state"`
	Location      string     `json:"location"`
	Template      bool       `json:"template"`
	Archived      bool       `json:"archived"`
	HostID        *uuid.UUID `json:"host_id,omitempty"`
	Hardware      *Hardware  `json:"hardware,omitempty"`
	Snapshots     []Snapshot `json:"snapshots,omitempty"`
}

type VMList []VM

type Hardware struct {
	CPUSockets        int              `json:"cpu_sockets"`
	CPUCoresPerSocket int              `json:"cpu_cores_per_socket"`
	CPUTotalCores     int              `json:"cpu_total_cores"`
	MemoryMB          int64            `json:"memory_mb"`
	GuestOS           string           `json:"guest_os,omitempty"`
	Disks             []Disk           `json:"disks"`
	Adapters          []NetworkAdapter `json:"network_adapters"`
	Networks          []GuestNetwork   `json:"guest_networks"`
}

type Disk struct {
	DeviceName     string     `json:"device_name"`
	ControllerType string     `json:"controller_type"`
	Location       string     `json:"location"`
	Size           int64      `json:"size"`
	DiskType       string     `json:"disk_type"`
	StorageID      *uuid.UUID `json:"storage_id,omitempty"`
}

type NetworkAdapter struct {
	DeviceName string `json:"device_name"`
	DeviceType string `json:"device_type"`
	Address    string `json:"address"`
}

type GuestNetwork struct {
	IPAddress   string `json:"ip_address,omitempty"`
	IPv6Address string `json:"ipv6_address,omitempty"`
	Hostname    string `json:"hostname,omitempty"`
}

type Snapshot struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	CreateTime  *time.Time `json:"create_time,omitempty"`
	Current     bool       `json:"current"`
	ParentUID   string     `json:"parent_uid,omitempty"`
}

type SnapshotCreate struct {
	Name        string `json:"name,omitempty" validate:"snapshot_name"`
	Description string `json:"description,omitempty" validate:"max=8192"`
	Memory      bool   `json:"memory"`
}

type SnapshotCreated struct {
	Name string `json:"name"`
}

type DiskResize struct {
	SizeMB int64 `json:"size_mb" validate:"required,min=1"`
}

type DiskResizeSpec struct {
	Disk   string `json:"disk" validate:"required,disk_name"`
	SizeMB int64  `json:"size_mb" validate:"required,min=1"`
}

type VMConfigUpdate struct {
	NumberOfCPUs   *int             `json:"number_of_cpus,omitempty" validate:"omitempty,min=1,max=128"`
	CoresPerSocket *int             `json:"cores_per_socket,omitempty" validate:"omitempty,min=1,max=128"`
	MemoryMB       *int64           `json:"memory_mb,omitempty" validate:"omitempty,min=1,max=4194304"`
	CPUType        string           `json:"cpu_type,omitempty"`
	Description    *string          `json:"description,omitempty"`
	OnBoot         *bool            `json:"onboot,omitempty"`
	BootOrder      string           `json:"boot_order,omitempty"`
	Protection     *bool            `json:"protection,omitempty"`
	DisksResize    []DiskResizeSpec `json:"disks_resize,omitempty" validate:"omitempty,dive"`
}

type ConsoleRequest struct {
	Protocol string `json:"protocol,omitempty" validate:"omitempty,oneof=html5 vnc HTML5 VNC"`
}

type ConsoleTicket struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
	Type   string `json:"type"`
	Proto  string `json:"proto"`
}

type Task struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	State     string     `json:"state"`
	Status    string     `json:"status,omitempty"`
	Message   string     `json:"message,omitempty"`
	ManagerID uuid.UUID  `json:"manager_id"`
	VMID      *uuid.UUID `json:"vm_id,omitempty"`
	Userid    string     `json:"userid,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type TaskList []Task
