package collector

import (
	"context"
	"strconv"
	"sync"

	"github.com/kubev2v/proxmox-manager/internal/proxmox"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

// Client is the part of the api the collector reads from.
type Client interface {
	ClusterResources(ctx context.Context) ([]proxmox.ClusterResource, error)
	ClusterStatus(ctx context.Context) ([]proxmox.ClusterStatusItem, error)
	NodeStatus(ctx context.Context, node string) (*proxmox.NodeStatus, error)
	NodeNetwork(ctx context.Context, node string) ([]proxmox.NodeInterface, error)
	VMConfig(ctx context.Context, node string, vmid int) (proxmox.VMConfig, error)
	VMSnapshots(ctx context.Context, node string, vmid int) ([]proxmox.Snapshot, error)
	AgentNetworkInterfaces(ctx context.Context, node string, vmid int) ([]proxmox.GuestInterface, error)
	AgentHostName(ctx context.Context, node string, vmid int) (string, error)
	AgentOSInfo(ctx context.Context, node string, vmid int) (*proxmox.GuestOSInfo, error)
}

var _ Client = (*proxmox.Client)(nil)

// GuestInfo is what the guest agent reports about a VM. Fields the agent could not
// provide are left empty.
type GuestInfo struct {
	IPAddresses   []string
	MACAddresses  []string
	Hostname      string
	OSName        string
	OSVersion     string
	KernelVersion string
}

func (g GuestInfo) Empty() bool {
	return len(g.IPAddresses) == 0 && len(g.MACAddresses) == 0 && g.Hostname == "" && g.OSName == ""
}

type SnapshotRecord struct {
	VMID        int
	Node        string
	Name        string
	Description string
	CreateTime  int64
	Current     int
	Parent      string
}

type Option func(*Collector)

// WithTargets narrows the VM views to the given vmids.
func WithTargets(vmids ...int) Option {
	return func(c *Collector) {
		if len(vmids) > 0 {
			c.targets = vmids
		}
	}
}

// Collector fetches and caches the remote state for a single reconciliation pass.
// Every call is memoized for the lifetime of the collector.
type Collector struct {
	client  Client
	log     *zap.SugaredLogger
	targets []int

	mu           sync.Mutex
	resources    []proxmox.ClusterResource
	backboneErr  error
	fetched      bool
	clusterName  *string
	nodeStatus   map[string]*proxmox.NodeStatus
	nodeNetwork  map[string][]proxmox.NodeInterface
	vmConfigs    map[string]proxmox.VMConfig
	guestInfo    map[string]GuestInfo
	snapshots    []SnapshotRecord
	snapsFetched bool
}

func New(client Client, log *zap.SugaredLogger, opts ...Option) *Collector {
	if log == nil {
		log = zap.S().Named("collector")
	}
	c := &Collector{
		client:      client,
		log:         log,
		nodeStatus:  map[string]*proxmox.NodeStatus{},
		nodeNetwork: map[string][]proxmox.NodeInterface{},
		vmConfigs:   map[string]proxmox.VMConfig{},
		guestInfo:   map[string]GuestInfo{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ClusterResources is the backbone listing every typed view filters. A failure
// yields an empty list and is kept in BackboneErr.
func (c *Collector) ClusterResources(ctx context.Context) []proxmox.ClusterResource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clusterResourcesLocked(ctx)
}

func (c *Collector) clusterResourcesLocked(ctx context.Context) []proxmox.ClusterResource {
	if c.fetched {
		return c.resources
	}
	c.fetched = true

	resources, err := c.client.ClusterResources(ctx)
	if err != nil {
		c.log.Errorw("failed to fetch cluster resources", "error", err)
		c.backboneErr = err
		c.resources = []proxmox.ClusterResource{}
		return c.resources
	}
	c.log.Debugw("fetched cluster resources", "count", len(resources))
	c.resources = resources
	return c.resources
}

// BackboneErr returns the error of the cluster resources call, if any.
func (c *Collector) BackboneErr(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clusterResourcesLocked(ctx)
	return c.backboneErr
}

func (c *Collector) ofType(ctx context.Context, t proxmox.ResourceType) []proxmox.ClusterResource {
	out := []proxmox.ClusterResource{}
	for _, r := range c.ClusterResources(ctx) {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

func (c *Collector) Nodes(ctx context.Context) []proxmox.ClusterResource {
	return c.ofType(ctx, proxmox.ResourceNode)
}

// VMs returns the qemu guests, limited to the targets when the collector has any.
func (c *Collector) VMs(ctx context.Context) []proxmox.ClusterResource {
	vms := c.ofType(ctx, proxmox.ResourceQemu)
	if len(c.targets) == 0 {
		return vms
	}
	return funk.Filter(vms, func(r proxmox.ClusterResource) bool {
		return funk.ContainsInt(c.targets, r.VMID)
	}).([]proxmox.ClusterResource)
}

func (c *Collector) Containers(ctx context.Context) []proxmox.ClusterResource {
	return c.ofType(ctx, proxmox.ResourceLXC)
}

func (c *Collector) Storages(ctx context.Context) []proxmox.ClusterResource {
	return c.ofType(ctx, proxmox.ResourceStorage)
}

func (c *Collector) Pools(ctx context.Context) []proxmox.ClusterResource {
	return c.ofType(ctx, proxmox.ResourcePool)
}

// Targeted reports whether the collector is limited to a set of vmids.
func (c *Collector) Targeted() bool {
	return len(c.targets) > 0
}

// Targets returns the vmids of a targeted pass as strings.
func (c *Collector) Targets() []string {
	out := make([]string, 0, len(c.targets))
	for _, id := range c.targets {
		out = append(out, strconv.Itoa(id))
	}
	return out
}

// ClusterName returns the name of the cluster or an empty string for a standalone node.
func (c *Collector) ClusterName(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clusterName != nil {
		return *c.clusterName
	}

	name := ""
	items, err := c.client.ClusterStatus(ctx)
	if err != nil {
		c.log.Warnw("failed to fetch cluster status", "error", err)
	}
	for _, item := range items {
		if item.Type == "cluster" {
			name = item.Name
			break
		}
	}
	c.clusterName = &name
	return name
}

func (c *Collector) NodeStatus(ctx context.Context, node string) *proxmox.NodeStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.nodeStatus[node]; ok {
		return s
	}

	s, err := c.client.NodeStatus(ctx, node)
	if err != nil {
		c.log.Warnw("could not retrieve node status", "node", node, "error", err)
		s = &proxmox.NodeStatus{}
	}
	c.nodeStatus[node] = s
	return s
}

func (c *Collector) NodeNetwork(ctx context.Context, node string) []proxmox.NodeInterface {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.nodeNetwork[node]; ok {
		return n
	}

	n, err := c.client.NodeNetwork(ctx, node)
	if err != nil {
		c.log.Warnw("could not retrieve node network", "node", node, "error", err)
		n = []proxmox.NodeInterface{}
	}
	c.nodeNetwork[node] = n
	return n
}

func (c *Collector) VMConfig(ctx context.Context, node string, vmid int) proxmox.VMConfig {
	key := vmKey(node, vmid)

	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg, ok := c.vmConfigs[key]; ok {
		return cfg
	}

	cfg, err := c.client.VMConfig(ctx, node, vmid)
	if err != nil {
		c.log.Warnw("could not retrieve vm config", "node", node, "vmid", vmid, "error", err)
		cfg = proxmox.VMConfig{}
	}
	if cfg == nil {
		cfg = proxmox.VMConfig{}
	}
	c.vmConfigs[key] = cfg
	return cfg
}

// VMGuestInfo asks the guest agent for network, hostname and os data. Each call
// degrades on its own.
func (c *Collector) VMGuestInfo(ctx context.Context, node string, vmid int) GuestInfo {
	key := vmKey(node, vmid)

	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.guestInfo[key]; ok {
		return g
	}

	info := GuestInfo{}
	if ifaces, err := c.client.AgentNetworkInterfaces(ctx, node, vmid); err != nil {
		c.log.Debugw("failed to get guest network info", "vmid", vmid, "error", err)
	} else {
		var ips, macs []string
		for _, iface := range ifaces {
			if iface.Name == "lo" {
				continue
			}
			for _, ip := range iface.IPAddresses {
				if ip.Address != "" {
					ips = append(ips, ip.Address)
				}
			}
			if iface.HardwareAddress != "" {
				macs = append(macs, iface.HardwareAddress)
			}
		}
		info.IPAddresses = funk.UniqString(ips)
		info.MACAddresses = funk.UniqString(macs)
	}

	if host, err := c.client.AgentHostName(ctx, node, vmid); err != nil {
		c.log.Debugw("failed to get guest hostname", "vmid", vmid, "error", err)
	} else {
		info.Hostname = host
	}

	if osInfo, err := c.client.AgentOSInfo(ctx, node, vmid); err != nil {
		c.log.Debugw("failed to get guest os info", "vmid", vmid, "error", err)
	} else if osInfo != nil {
		info.OSName = osInfo.DisplayName()
		info.OSVersion = osInfo.VersionID
		info.KernelVersion = osInfo.KernelRelease
	}

	c.guestInfo[key] = info
	return info
}

// Snapshots lists the snapshots of every collected qemu guest. The pseudo snapshot
// "current" is dropped; the snapshot it names as parent is marked current.
func (c *Collector) Snapshots(ctx context.Context) []SnapshotRecord {
	vms := c.VMs(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapsFetched {
		return c.snapshots
	}
	c.snapsFetched = true

	out := []SnapshotRecord{}
	for _, vm := range vms {
		snaps, err := c.client.VMSnapshots(ctx, vm.Node, vm.VMID)
		if err != nil {
			c.log.Warnw("failed to collect snapshots", "vmid", vm.VMID, "error", err)
			continue
		}

		active := ""
		for _, s := range snaps {
			if s.Name == proxmox.CurrentSnapshotName {
				active = s.Parent
			}
		}
		for _, s := range snaps {
			if s.Name == proxmox.CurrentSnapshotName || s.Name == "" {
				continue
			}
			current := s.Current
			if active != "" && s.Name == active {
				current = 1
			}
			out = append(out, SnapshotRecord{
				VMID:        vm.VMID,
				Node:        vm.Node,
				Name:        s.Name,
				Description: s.Description,
				CreateTime:  s.SnapTime,
				Current:     current,
				Parent:      s.Parent,
			})
		}
	}
	c.snapshots = out
	return out
}

func vmKey(node string, vmid int) string {
	return node + "/" + strconv.Itoa(vmid)
}
