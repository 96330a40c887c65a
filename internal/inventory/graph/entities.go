package graph

import "time"

type Kind string

const (
	KindCluster  Kind = "clusters"
	KindHost     Kind = "hosts"
	KindStorage  Kind = "storages"
	KindVM       Kind = "vms"
	KindSnapshot Kind = "snapshots"
)

// Ref points at an entity of another collection by its ems_ref. It is resolved
// when the graph is committed; a ref to an entity missing from the pass resolves to nothing.
type Ref struct {
	Kind Kind
	Key  string
}

func (r Ref) IsZero() bool {
	return r.Key == ""
}

type Cluster struct {
	EmsRef string
	UIDEms string
	Name   string
}

type Host struct {
	EmsRef          string
	UIDEms          string
	Name            string
	Hostname        string
	IPAddress       string
	VMMVendor       string
	VMMProduct      string
	VMMVersion      string
	PowerState      string
	ConnectionState string
	CPUTotalCores   int
	MemoryMB        int64
	Cluster         Ref
}

type Storage struct {
	EmsRef     string
	Name       string
	StoreType  string
	TotalSpace int64
	FreeSpace  int64
	Shared     bool
}

type VM struct {
	EmsRef          string
	UIDEms          string
	Name            string
	Vendor          string
	RawPowerState   string
	PowerState      string
	ConnectionState string
	Location        string
	Template        bool
	Host            Ref
	Cluster         Ref
	Storage         Ref
	Hardware        Hardware
}

type Hardware struct {
	CPUSockets        int
	CPUCoresPerSocket int
	CPUTotalCores     int
	MemoryMB          int64
	GuestOS           string
	GuestOSVersion    string
	KernelVersion     string
	Disks             []Disk
	Adapters          []NetworkAdapter
	Networks          []GuestNetwork
}

const (
	DiskTypeDisk  = "disk"
	DiskTypeCDROM = "cdrom"
)

type Disk struct {
	DeviceName     string
	ControllerType string
	Location       string
	Size           int64
	DiskType       string
	Storage        Ref
}

type NetworkAdapter struct {
	DeviceName string
	DeviceType string
	Address    string
	UIDEms     string
}

type GuestNetwork struct {
	IPAddress   string
	IPv6Address string
	Hostname    string
}

type Snapshot struct {
	UID         string
	UIDEms      string
	EmsRef      string
	Name        string
	Description string
	CreateTime  *time.Time
	Current     bool
	ParentUID   string
	VM          Ref
}
