package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entity kinds used to derive stable row ids.
const (
	KindCluster  = "cluster"
	KindHost     = "host"
	KindStorage  = "storage"
	KindVM       = "vm"
	KindSnapshot = "snapshot"
)

// EntityID derives the row id of an entity from its manager and remote key, so
// the same remote object always maps to the same row.
func EntityID(managerID uuid.UUID, kind, emsRef string) uuid.UUID {
	return uuid.NewSHA1(managerID, []byte(kind+"/"+emsRef))
}

// ChildID derives the row id of a child row (hardware, disk, adapter, network).
func ChildID(parent uuid.UUID, kind, key string) uuid.UUID {
	return uuid.NewSHA1(parent, []byte(kind+"/"+key))
}

type Cluster struct {
	ID        uuid.UUID `gorm:"primaryKey;column:id;type:VARCHAR(36);"`
	CreatedAt time.Time
	UpdatedAt time.Time
	ManagerID uuid.UUID `gorm:"not null;type:VARCHAR(36);uniqueIndex:clusters_manager_ems_ref"`
	EmsRef    string    `gorm:"not null;uniqueIndex:clusters_manager_ems_ref"`
	UIDEms    string    `gorm:"column:uid_ems"`
	Name      string
}

func (Cluster) TableName() string { return "clusters" }

type Host struct {
	ID              uuid.UUID `gorm:"primaryKey;column:id;type:VARCHAR(36);"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ManagerID       uuid.UUID `gorm:"not null;type:VARCHAR(36);uniqueIndex:hosts_manager_ems_ref"`
	EmsRef          string    `gorm:"not null;uniqueIndex:hosts_manager_ems_ref"`
	UIDEms          string    `gorm:"column:uid_ems"`
	Name            string
	Hostname        string
	IPAddress       string `gorm:"column:ip_address"`
	VMMVendor       string `gorm:"column:vmm_vendor"`
	VMMProduct      string `gorm:"column:vmm_product"`
	VMMVersion      string `gorm:"column:vmm_version"`
	PowerState      string
	ConnectionState string
	CPUTotalCores   int
	MemoryMB        int64      `gorm:"column:memory_mb"`
	ClusterID       *uuid.UUID `gorm:"type:VARCHAR(36)"`
	Archived        bool       `gorm:"not null"`
}

func (Host) TableName() string { return "hosts" }

type HostList []Host

type Storage struct {
	ID         uuid.UUID `gorm:"primaryKey;column:id;type:VARCHAR(36);"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ManagerID  uuid.UUID `gorm:"not null;type:VARCHAR(36);uniqueIndex:storages_manager_ems_ref"`
	EmsRef     string    `gorm:"not null;uniqueIndex:storages_manager_ems_ref"`
	Name       string
	StoreType  string
	TotalSpace int64
	FreeSpace  int64
	Shared     bool
}

func (Storage) TableName() string { return "storages" }

type StorageList []Storage

type VM struct {
	ID              uuid.UUID `gorm:"primaryKey;column:id;type:VARCHAR(36);"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ManagerID       uuid.UUID `gorm:"not null;type:VARCHAR(36);uniqueIndex:vms_manager_ems_ref"`
	EmsRef          string    `gorm:"not null;uniqueIndex:vms_manager_ems_ref"`
	UIDEms          string    `gorm:"column:uid_ems"`
	Name            string
	Vendor          string
	RawPowerState   string
	PowerState      string
	ConnectionState string
	Location        string
	Template        bool
	HostID          *uuid.UUID `gorm:"type:VARCHAR(36)"`
	ClusterID       *uuid.UUID `gorm:"type:VARCHAR(36)"`
	StorageID       *uuid.UUID `gorm:"type:VARCHAR(36)"`
	Archived        bool       `gorm:"not null"`

	Host      *Host      `gorm:"foreignKey:HostID;references:ID"`
	Hardware  *Hardware  `gorm:"foreignKey:VMID;references:ID"`
	Snapshots []Snapshot `gorm:"foreignKey:VMID;references:ID"`
}

func (VM) TableName() string { return "vms" }

type VMList []VM

func (v VM) String() string {
	val, _ := json.Marshal(v)
	return string(val)
}

// Node returns the node owning the VM, read from its "<node>/<type>/<vmid>" location.
func (v VM) Node() string {
	for i := 0; i < len(v.Location); i++ {
		if v.Location[i] == '/' {
			return v.Location[:i]
		}
	}
	return v.Location
}

func (v VM) PoweredOn() bool {
	return v.PowerState == "on"
}

type Hardware struct {
	ID                uuid.UUID `gorm:"primaryKey;column:id;type:VARCHAR(36);"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
	VMID              uuid.UUID `gorm:"column:vm_id;not null;type:VARCHAR(36);uniqueIndex"`
	CPUSockets        int
	CPUCoresPerSocket int
	CPUTotalCores     int
	MemoryMB          int64 `gorm:"column:memory_mb"`
	GuestOS           string
	GuestOSVersion    string
	KernelVersion     string

	Disks    []Disk           `gorm:"foreignKey:HardwareID;references:ID"`
	Adapters []NetworkAdapter `gorm:"foreignKey:HardwareID;references:ID"`
	Networks []GuestNetwork   `gorm:"foreignKey:HardwareID;references:ID"`
}

func (Hardware) TableName() string { return "hardwares" }

// Disk returns the disk attached under the given device name.
func (h *Hardware) Disk(deviceName string) (Disk, bool) {
	if h == nil {
		return Disk{}, false
	}
	for _, d := range h.Disks {
		if d.DeviceName == deviceName {
			return d, true
		}
	}
	return Disk{}, false
}

type Disk struct {
	ID             uuid.UUID `gorm:"primaryKey;column:id;type:VARCHAR(36);"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	HardwareID     uuid.UUID `gorm:"not null;type:VARCHAR(36);uniqueIndex:disks_hardware_device"`
	DeviceName     string    `gorm:"not null;uniqueIndex:disks_hardware_device"`
	ControllerType string
	Location       string
	Size           int64
	DiskType       string
	StorageID      *uuid.UUID `gorm:"type:VARCHAR(36)"`
}

func (Disk) TableName() string { return "disks" }

type NetworkAdapter struct {
	ID         uuid.UUID `gorm:"primaryKey;column:id;type:VARCHAR(36);"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	HardwareID uuid.UUID `gorm:"not null;type:VARCHAR(36);uniqueIndex:adapters_hardware_uid"`
	UIDEms     string    `gorm:"not null;uniqueIndex:adapters_hardware_uid"`
	DeviceName string
	DeviceType string
	Address    string
}

func (NetworkAdapter) TableName() string { return "network_adapters" }

type GuestNetwork struct {
	ID          uuid.UUID `gorm:"primaryKey;column:id;type:VARCHAR(36);"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	HardwareID  uuid.UUID `gorm:"not null;type:VARCHAR(36);index"`
	IPAddress   string    `gorm:"column:ip_address"`
	IPv6Address string    `gorm:"column:ipv6_address"`
	Hostname    string
}

func (GuestNetwork) TableName() string { return "guest_networks" }

type Snapshot struct {
	ID          uuid.UUID `gorm:"primaryKey;column:id;type:VARCHAR(36);"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ManagerID   uuid.UUID `gorm:"not null;type:VARCHAR(36);uniqueIndex:snapshots_manager_uid"`
	UID         string    `gorm:"column:uid;not null;uniqueIndex:snapshots_manager_uid"`
	UIDEms      string    `gorm:"column:uid_ems"`
	EmsRef      string
	Name        string
	Description string
	CreateTime  *time.Time
	Current     bool
	ParentUID   string
	VMID        *uuid.UUID `gorm:"column:vm_id;type:VARCHAR(36);index"`
}

func (Snapshot) TableName() string { return "snapshots" }

type SnapshotList []Snapshot
