// Package collectortest provides an in-memory collector.Client for tests.
package collectortest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kubev2v/proxmox-manager/internal/proxmox"
)

var ErrUnavailable = errors.New("unavailable")

type Guest struct {
	Interfaces []proxmox.GuestInterface
	HostName   string
	OSInfo     *proxmox.GuestOSInfo
}

// FakeClient answers from its fields. Missing entries answer with ErrUnavailable.
type FakeClient struct {
	Resources      []proxmox.ClusterResource
	ResourcesErr   error
	Status         []proxmox.ClusterStatusItem
	NodeStatuses   map[string]*proxmox.NodeStatus
	NodeInterfaces map[string][]proxmox.NodeInterface
	Configs        map[int]proxmox.VMConfig
	SnapshotLists  map[int][]proxmox.Snapshot
	Guests         map[int]Guest

	mu    sync.Mutex
	calls map[string]int
}

func (f *FakeClient) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[call]++
}

// Calls returns how often the named call was made, for instance "VMConfig/100".
func (f *FakeClient) Calls(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[call]
}

func (f *FakeClient) ClusterResources(ctx context.Context) ([]proxmox.ClusterResource, error) {
	f.record("ClusterResources")
	if f.ResourcesErr != nil {
		return nil, f.ResourcesErr
	}
	return f.Resources, nil
}

func (f *FakeClient) ClusterStatus(ctx context.Context) ([]proxmox.ClusterStatusItem, error) {
	f.record("ClusterStatus")
	if f.Status == nil {
		return nil, ErrUnavailable
	}
	return f.Status, nil
}

func (f *FakeClient) NodeStatus(ctx context.Context, node string) (*proxmox.NodeStatus, error) {
	f.record("NodeStatus/" + node)
	if s, ok := f.NodeStatuses[node]; ok {
		return s, nil
	}
	return nil, ErrUnavailable
}

func (f *FakeClient) NodeNetwork(ctx context.Context, node string) ([]proxmox.NodeInterface, error) {
	f.record("NodeNetwork/" + node)
	if n, ok := f.NodeInterfaces[node]; ok {
		return n, nil
	}
	return nil, ErrUnavailable
}

func (f *FakeClient) VMConfig(ctx context.Context, node string, vmid int) (proxmox.VMConfig, error) {
	f.record(fmt.Sprintf("VMConfig/%d", vmid))
	if c, ok := f.Configs[vmid]; ok {
		return c, nil
	}
	return nil, ErrUnavailable
}

func (f *FakeClient) VMSnapshots(ctx context.Context, node string, vmid int) ([]proxmox.Snapshot, error) {
	f.record(fmt.Sprintf("VMSnapshots/%d", vmid))
	if s, ok := f.SnapshotLists[vmid]; ok {
		return s, nil
	}
	return nil, ErrUnavailable
}

func (f *FakeClient) AgentNetworkInterfaces(ctx context.Context, node string, vmid int) ([]proxmox.GuestInterface, error) {
	f.record(fmt.Sprintf("AgentNetworkInterfaces/%d", vmid))
	g, ok := f.Guests[vmid]
	if !ok || g.Interfaces == nil {
		return nil, ErrUnavailable
	}
	return g.Interfaces, nil
}

func (f *FakeClient) AgentHostName(ctx context.Context, node string, vmid int) (string, error) {
	f.record(fmt.Sprintf("AgentHostName/%d", vmid))
	g, ok := f.Guests[vmid]
	if !ok || g.HostName == "" {
		return "", ErrUnavailable
	}
	return g.HostName, nil
}

func (f *FakeClient) AgentOSInfo(ctx context.Context, node string, vmid int) (*proxmox.GuestOSInfo, error) {
	f.record(fmt.Sprintf("AgentOSInfo/%d", vmid))
	g, ok := f.Guests[vmid]
	if !ok || g.OSInfo == nil {
		return nil, ErrUnavailable
	}
	return g.OSInfo, nil
}

// Lab returns a two node cluster with three VMs, shared and local storages and snapshots.
func Lab() *FakeClient {
	return &FakeClient{
		Resources: []proxmox.ClusterResource{
			{ID: "node/pve1", Type: proxmox.ResourceNode, Node: "pve1", Status: "online", CPU: 0.5, MaxCPU: 4, Mem: 4 << 30, MaxMem: 16 << 30, Disk: 10 << 30, MaxDisk: 100 << 30},
			{ID: "node/pve2", Type: proxmox.ResourceNode, Node: "pve2", Status: "offline", CPU: 0.25, MaxCPU: 8, Mem: 8 << 30, MaxMem: 32 << 30},
			{ID: "qemu/100", Type: proxmox.ResourceQemu, Node: "pve1", VMID: 100, Name: "web", Status: "running", CPU: 0.1, MaxCPU: 2, Mem: 1 << 30, MaxMem: 2 << 30, MaxDisk: 32 << 30},
			{ID: "qemu/101", Type: proxmox.ResourceQemu, Node: "pve1", VMID: 101, Status: "stopped", MaxMem: 1 << 30},
			{ID: "qemu/9000", Type: proxmox.ResourceQemu, Node: "pve2", VMID: 9000, Name: "debian-tmpl", Status: "stopped", Template: 1},
			{ID: "lxc/200", Type: proxmox.ResourceLXC, Node: "pve2", VMID: 200, Name: "dns", Status: "running"},
			{ID: "storage/pve1/local-lvm", Type: proxmox.ResourceStorage, Node: "pve1", Storage: "local-lvm", PluginType: "lvmthin", Content: "images,rootdir", Disk: 20 << 30, MaxDisk: 100 << 30},
			{ID: "storage/pve2/local-lvm", Type: proxmox.ResourceStorage, Node: "pve2", Storage: "local-lvm", PluginType: "lvmthin", Content: "images,rootdir", Disk: 5 << 30, MaxDisk: 50 << 30},
			{ID: "storage/pve1/iso", Type: proxmox.ResourceStorage, Node: "pve1", Storage: "iso", Content: "iso", Shared: 1, Disk: 1 << 30, MaxDisk: 10 << 30},
			{ID: "pool/prod", Type: proxmox.ResourcePool, Pool: "prod"},
		},
		Status: []proxmox.ClusterStatusItem{
			{ID: "cluster", Type: "cluster", Name: "lab", Nodes: 2, Quorate: 1},
			{ID: "node/pve1", Type: "node", Name: "pve1", Online: 1},
		},
		NodeStatuses: map[string]*proxmox.NodeStatus{
			"pve1": {PVEVersion: "pve-manager/8.2.4/faa83925c9641325 (running kernel: 6.8.8-2-pve)"},
			"pve2": {PVEVersion: "custom-build"},
		},
		NodeInterfaces: map[string][]proxmox.NodeInterface{
			"pve1": {
				{Iface: "eno1", Type: "eth"},
				{Iface: "vmbr0", Type: "bridge", Address: "10.0.0.5"},
			},
			"pve2": {
				{Iface: "vmbr1.20", Type: "bridge", Address: "10.20.0.6"},
				{Iface: "eno1", Type: "eth", Address: "192.168.1.6"},
			},
		},
		Configs: map[int]proxmox.VMConfig{
			100: {
				"name":    "web",
				"cores":   "2",
				"sockets": "2",
				"memory":  "2048",
				"agent":   "1,fstrim_cloned_disks=1",
				"scsi0":   "local-lvm:vm-100-disk-0,iothread=1,size=32G",
				"scsi1":   "iso:iso/debian.iso,media=cdrom,size=600M",
				"ide2":    "none,media=cdrom",
				"net0":    "virtio=BC:24:11:00:00:01,bridge=vmbr0",
			},
			101: {
				"memory":  "1024",
				"virtio0": "missing-store:vm-101-disk-0,size=8G",
				"sata0":   "local-lvm:vm-101-disk-1,size=16G",
			},
			9000: {
				"template": "1",
				"cores":    "1",
				"memory":   "512",
			},
		},
		SnapshotLists: map[int][]proxmox.Snapshot{
			100: {
				{Name: "before-upgrade", Description: "pre apt upgrade", SnapTime: 1700000000},
				{Name: "after-upgrade", SnapTime: 1700003600, Parent: "before-upgrade"},
				{Name: proxmox.CurrentSnapshotName, Parent: "after-upgrade", Running: 1},
			},
			101: {
				{Name: proxmox.CurrentSnapshotName},
			},
		},
		Guests: map[int]Guest{
			100: {
				Interfaces: []proxmox.GuestInterface{
					{Name: "lo", HardwareAddress: "00:00:00:00:00:00", IPAddresses: []proxmox.GuestIPAddress{{Address: "127.0.0.1"}, {Address: "::1"}}},
					{Name: "eth0", HardwareAddress: "bc:24:11:00:00:01", IPAddresses: []proxmox.GuestIPAddress{{Address: "10.0.0.20"}, {Address: "fe80::be24:11ff:fe00:1"}}},
					{Name: "eth1", HardwareAddress: "bc:24:11:00:00:02", IPAddresses: []proxmox.GuestIPAddress{{Address: "10.0.1.20"}}},
				},
				HostName: "web01",
				OSInfo:   &proxmox.GuestOSInfo{Name: "Debian GNU/Linux", PrettyName: "Debian GNU/Linux 12 (bookworm)", VersionID: "12", KernelRelease: "6.1.0-18-amd64"},
			},
		},
	}
}

// DropVM removes the VM from the cluster resource list, as if it was destroyed.
func (f *FakeClient) DropVM(vmid int) {
	kept := f.Resources[:0]
	for _, r := range f.Resources {
		if r.VMID == vmid && (r.Type == proxmox.ResourceQemu || r.Type == proxmox.ResourceLXC) {
			continue
		}
		kept = append(kept, r)
	}
	f.Resources = kept
}

// RenameVM changes the name the cluster resource list reports for the VM.
func (f *FakeClient) RenameVM(vmid int, name string) {
	for i, r := range f.Resources {
		if r.VMID == vmid && (r.Type == proxmox.ResourceQemu || r.Type == proxmox.ResourceLXC) {
			f.Resources[i].Name = name
		}
	}
}
