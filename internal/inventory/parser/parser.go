package parser

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kubev2v/proxmox-manager/internal/inventory/collector"
	"github.com/kubev2v/proxmox-manager/internal/inventory/graph"
	"github.com/kubev2v/proxmox-manager/internal/proxmox"
	"go.uber.org/zap"
)

const (
	DefaultClusterName = "Proxmox Cluster"
	ClusterRef         = "cluster"

	VendorProxmox  = "proxmox"
	ProductProxmox = "Proxmox VE"

	PowerOn        = "on"
	PowerOff       = "off"
	PowerPaused    = "paused"
	PowerSuspended = "suspended"
	PowerUnknown   = "unknown"

	ConnectionConnected = "connected"
)

var (
	powerStates = map[string]string{
		"running":   PowerOn,
		"stopped":   PowerOff,
		"paused":    PowerPaused,
		"suspended": PowerSuspended,
	}

	netKeyRegex = regexp.MustCompile(`^net(\d+)$`)
	macRegex    = regexp.MustCompile(`(?i)([0-9a-f]{2}(?::[0-9a-f]{2}){5})`)
)

// Source is the read side of a collected pass.
type Source interface {
	ClusterName(ctx context.Context) string
	Nodes(ctx context.Context) []proxmox.ClusterResource
	VMs(ctx context.Context) []proxmox.ClusterResource
	Storages(ctx context.Context) []proxmox.ClusterResource
	NodeStatus(ctx context.Context, node string) *proxmox.NodeStatus
	NodeNetwork(ctx context.Context, node string) []proxmox.NodeInterface
	VMConfig(ctx context.Context, node string, vmid int) proxmox.VMConfig
	VMGuestInfo(ctx context.Context, node string, vmid int) collector.GuestInfo
	Snapshots(ctx context.Context) []collector.SnapshotRecord
	Targets() []string
}

var _ Source = (*collector.Collector)(nil)

type Parser struct {
	source        Source
	log           *zap.SugaredLogger
	defaultBridge string
}

func New(source Source, log *zap.SugaredLogger, defaultBridge string) *Parser {
	if log == nil {
		log = zap.S().Named("parser")
	}
	if defaultBridge == "" {
		defaultBridge = DefaultBridge
	}
	return &Parser{source: source, log: log, defaultBridge: defaultBridge}
}

// Parse maps the collected pass to a graph. The same input always yields the same graph.
func (p *Parser) Parse(ctx context.Context) *graph.Graph {
	b := graph.NewBuilder(graph.Scope{VMs: p.source.Targets()})

	p.clusters(ctx, b)
	p.hosts(ctx, b)
	p.vms(ctx, b)
	p.storages(ctx, b)
	p.snapshots(ctx, b)

	g := b.Graph()
	p.log.Debugw("parse completed",
		"clusters", len(g.Clusters), "hosts", len(g.Hosts), "vms", len(g.VMs),
		"storages", len(g.Storages), "snapshots", len(g.Snapshots))
	return g
}

func (p *Parser) clusters(ctx context.Context, b *graph.Builder) {
	name := p.source.ClusterName(ctx)
	if name == "" {
		name = DefaultClusterName
	}
	b.Clusters.Build(graph.Cluster{EmsRef: ClusterRef, UIDEms: ClusterRef, Name: name})
}

func (p *Parser) hosts(ctx context.Context, b *graph.Builder) {
	for _, n := range p.source.Nodes(ctx) {
		if n.Node == "" {
			continue
		}
		status := p.source.NodeStatus(ctx, n.Node)
		version := ""
		if status != nil {
			version = HypervisorVersion(status.PVEVersion)
		}

		power := PowerOff
		if n.Status == "online" {
			power = PowerOn
		}

		b.Hosts.Build(graph.Host{
			EmsRef:          n.Node,
			UIDEms:          n.Node,
			Name:            n.Node,
			Hostname:        n.Node,
			IPAddress:       PrimaryIP(p.source.NodeNetwork(ctx, n.Node), p.defaultBridge),
			VMMVendor:       VendorProxmox,
			VMMProduct:      ProductProxmox,
			VMMVersion:      version,
			PowerState:      power,
			ConnectionState: ConnectionConnected,
			CPUTotalCores:   int(n.MaxCPU),
			MemoryMB:        n.MaxMem / (1 << 20),
			Cluster:         b.Clusters.LazyFind(ClusterRef),
		})
	}
}

func (p *Parser) vms(ctx context.Context, b *graph.Builder) {
	known := map[string]bool{}
	for _, s := range p.source.Storages(ctx) {
		known[s.Storage] = true
	}

	for _, r := range p.source.VMs(ctx) {
		vmid := strconv.Itoa(r.VMID)
		name := r.Name
		if name == "" {
			name = "VM-" + vmid
		}
		raw := strings.ToLower(r.Status)
		power, ok := powerStates[raw]
		if !ok {
			power = PowerUnknown
		}

		cfg := p.source.VMConfig(ctx, r.Node, r.VMID)
		var guest collector.GuestInfo
		if cfg.AgentEnabled() {
			guest = p.source.VMGuestInfo(ctx, r.Node, r.VMID)
		}

		vm := graph.VM{
			EmsRef:          vmid,
			UIDEms:          vmid,
			Name:            name,
			Vendor:          VendorProxmox,
			RawPowerState:   raw,
			PowerState:      power,
			ConnectionState: ConnectionConnected,
			Location:        fmt.Sprintf("%s/%s/%d", r.Node, r.Type, r.VMID),
			Template:        r.Template == 1 || cfg.Int("template") == 1,
			Host:            b.Hosts.LazyFind(r.Node),
			Cluster:         b.Clusters.LazyFind(ClusterRef),
		}
		vm.Hardware = p.hardware(r, cfg, guest)

		for _, key := range DiskKeys(cfg) {
			desc := cfg.String(key)
			if desc == "" {
				continue
			}
			d := ParseDiskDescriptor(key, desc)
			disk := graph.Disk{
				DeviceName:     key,
				ControllerType: d.ControllerType,
				Location:       d.Volume,
				Size:           d.Size,
				DiskType:       graph.DiskTypeDisk,
				Storage:        b.Storages.LazyFind(d.Storage),
			}
			if d.CDROM {
				disk.DiskType = graph.DiskTypeCDROM
			}
			if vm.Storage.IsZero() && !d.CDROM && known[d.Storage] {
				vm.Storage = disk.Storage
			}
			vm.Hardware.Disks = append(vm.Hardware.Disks, disk)
		}

		b.VMs.Build(vm)
	}
}

func (p *Parser) hardware(r proxmox.ClusterResource, cfg proxmox.VMConfig, guest collector.GuestInfo) graph.Hardware {
	sockets := cfg.Int("sockets")
	if sockets == 0 {
		sockets = 1
	}
	cores := cfg.Int("cores")
	if cores == 0 {
		cores = 1
	}

	memory := int64(cfg.Int("memory"))
	if memory == 0 {
		memory = r.MaxMem / (1 << 20)
	}

	hw := graph.Hardware{
		CPUSockets:        sockets,
		CPUCoresPerSocket: cores,
		CPUTotalCores:     sockets * cores,
		MemoryMB:          memory,
		GuestOS:           cfg.String("ostype"),
	}
	if guest.OSName != "" {
		hw.GuestOS = guest.OSName
		hw.GuestOSVersion = guest.OSVersion
		hw.KernelVersion = guest.KernelVersion
	}

	vmid := strconv.Itoa(r.VMID)
	macs := guest.MACAddresses
	if len(macs) == 0 {
		macs = configMACs(cfg)
	}
	for i, mac := range macs {
		mac = strings.ToLower(mac)
		hw.Adapters = append(hw.Adapters, graph.NetworkAdapter{
			DeviceName: fmt.Sprintf("eth%d", i),
			DeviceType: "ethernet",
			Address:    mac,
			UIDEms:     vmid + "_" + mac,
		})
	}

	if len(guest.IPAddresses) > 0 || guest.Hostname != "" {
		ipv4, ipv6 := SplitAddresses(guest.IPAddresses)
		hw.Networks = append(hw.Networks, graph.GuestNetwork{
			IPAddress:   ipv4,
			IPv6Address: ipv6,
			Hostname:    guest.Hostname,
		})
	}
	return hw
}

// configMACs reads the MAC of every netN entry ("virtio=BC:24:11:..,bridge=vmbr0") in index order.
func configMACs(cfg proxmox.VMConfig) []string {
	type entry struct {
		index int
		mac   string
	}
	entries := []entry{}
	for k, v := range cfg {
		m := netKeyRegex.FindStringSubmatch(k)
		if m == nil {
			continue
		}
		mac := macRegex.FindString(v)
		if mac == "" {
			continue
		}
		idx, _ := strconv.Atoi(m[1])
		entries = append(entries, entry{index: idx, mac: mac})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].index < entries[j].index })

	macs := make([]string, 0, len(entries))
	for _, e := range entries {
		macs = append(macs, e.mac)
	}
	return macs
}

func (p *Parser) storages(ctx context.Context, b *graph.Builder) {
	for _, s := range p.source.Storages(ctx) {
		if s.Storage == "" || b.Storages.Has(s.Storage) {
			continue
		}
		storeType := s.PluginType
		if storeType == "" {
			storeType = s.Content
		}
		b.Storages.Build(graph.Storage{
			EmsRef:     s.Storage,
			Name:       s.Storage,
			StoreType:  storeType,
			TotalSpace: s.MaxDisk,
			FreeSpace:  s.MaxDisk - s.Disk,
			Shared:     s.Shared == 1,
		})
	}
}

func (p *Parser) snapshots(ctx context.Context, b *graph.Builder) {
	for _, s := range p.source.Snapshots(ctx) {
		if s.Name == "" || s.Name == proxmox.CurrentSnapshotName {
			continue
		}
		vmid := strconv.Itoa(s.VMID)
		uid := vmid + "_" + s.Name

		var created *time.Time
		if s.CreateTime > 0 {
			t := time.Unix(s.CreateTime, 0).UTC()
			created = &t
		}

		b.Snapshots.Build(graph.Snapshot{
			UID:         uid,
			UIDEms:      uid,
			EmsRef:      s.Name,
			Name:        s.Name,
			Description: s.Description,
			CreateTime:  created,
			Current:     s.Current == 1,
			ParentUID:   s.Parent,
			VM:          b.VMs.LazyFind(vmid),
		})
	}
}
