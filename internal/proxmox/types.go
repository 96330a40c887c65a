package proxmox

import (
	"encoding/json"
	"strconv"
	"strings"
)

type ResourceType string

const (
	ResourceNode    ResourceType = "node"
	ResourceQemu    ResourceType = "qemu"
	ResourceLXC     ResourceType = "lxc"
	ResourceStorage ResourceType = "storage"
	ResourcePool    ResourceType = "pool"
	ResourceSDN     ResourceType = "sdn"
)

// ClusterResource is one entry of /cluster/resources. The record shape depends on Type.
type ClusterResource struct {
	ID         string       `json:"id"`
	Type       ResourceType `json:"type"`
	Node       string       `json:"node,omitempty"`
	Status     string       `json:"status,omitempty"`
	Name       string       `json:"name,omitempty"`
	VMID       int          `json:"vmid,omitempty"`
	Template   int          `json:"template,omitempty"`
	CPU        float64      `json:"cpu,omitempty"`
	MaxCPU     float64      `json:"maxcpu,omitempty"`
	Mem        int64        `json:"mem,omitempty"`
	MaxMem     int64        `json:"maxmem,omitempty"`
	Disk       int64        `json:"disk,omitempty"`
	MaxDisk    int64        `json:"maxdisk,omitempty"`
	Uptime     int64        `json:"uptime,omitempty"`
	Storage    string       `json:"storage,omitempty"`
	PluginType string       `json:"plugintype,omitempty"`
	Content    string       `json:"content,omitempty"`
	Shared     int          `json:"shared,omitempty"`
	Pool       string       `json:"pool,omitempty"`
}

type ClusterStatusItem struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Nodes   int    `json:"nodes,omitempty"`
	Quorate int    `json:"quorate,omitempty"`
	Version int    `json:"version,omitempty"`
	Online  int    `json:"online,omitempty"`
	IP      string `json:"ip,omitempty"`
}

type NodeStatus struct {
	PVEVersion string `json:"pveversion"`
	KVersion   string `json:"kversion,omitempty"`
	Uptime     int64  `json:"uptime,omitempty"`
	CPUInfo    struct {
		CPUs    int    `json:"cpus"`
		Cores   int    `json:"cores"`
		Sockets int    `json:"sockets"`
		Model   string `json:"model"`
	} `json:"cpuinfo"`
	Memory struct {
		Total int64 `json:"total"`
		Used  int64 `json:"used"`
		Free  int64 `json:"free"`
	} `json:"memory"`
}

type NodeInterface struct {
	Iface   string `json:"iface"`
	Type    string `json:"type"`
	Address string `json:"address,omitempty"`
	CIDR    string `json:"cidr,omitempty"`
	Active  int    `json:"active,omitempty"`
}

type Snapshot struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	SnapTime    int64  `json:"snaptime,omitempty"`
	Parent      string `json:"parent,omitempty"`
	VMState     int    `json:"vmstate,omitempty"`
	Current     int    `json:"current,omitempty"`
	Running     int    `json:"running,omitempty"`
}

// CurrentSnapshotName is the pseudo snapshot the api uses for the live state of a VM.
const CurrentSnapshotName = "current"

type GuestIPAddress struct {
	Address string `json:"ip-address"`
	Type    string `json:"ip-address-type"`
	Prefix  int    `json:"prefix"`
}

type GuestInterface struct {
	Name            string           `json:"name"`
	HardwareAddress string           `json:"hardware-address"`
	IPAddresses     []GuestIPAddress `json:"ip-addresses"`
}

type GuestOSInfo struct {
	Name          string `json:"name"`
	PrettyName    string `json:"pretty-name"`
	VersionID     string `json:"version-id"`
	KernelRelease string `json:"kernel-release"`
}

// DisplayName prefers the pretty name reported by the agent.
func (o GuestOSInfo) DisplayName() string {
	if o.PrettyName != "" {
		return o.PrettyName
	}
	return o.Name
}

type TaskStatus struct {
	UPID       UPID   `json:"upid"`
	Node       string `json:"node"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	ExitStatus string `json:"exitstatus,omitempty"`
	StartTime  int64  `json:"starttime,omitempty"`
	EndTime    int64  `json:"endtime,omitempty"`
}

const (
	TaskRunning = "running"
	TaskStopped = "stopped"
	TaskExitOK  = "OK"
)

func (t TaskStatus) Running() bool {
	return t.Status == TaskRunning
}

func (t TaskStatus) Succeeded() bool {
	return t.Status == TaskStopped && t.ExitStatus == TaskExitOK
}

type VNCProxy struct {
	Ticket string `json:"ticket"`
	Port   string `json:"port"`
	User   string `json:"user,omitempty"`
	Cert   string `json:"cert,omitempty"`
}

func (v *VNCProxy) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	values := stringify(raw)
	v.Ticket = values["ticket"]
	v.Port = values["port"]
	v.User = values["user"]
	v.Cert = values["cert"]
	return nil
}

// VMConfig holds /nodes/{node}/qemu/{vmid}/config. The api mixes numbers and strings
// for the same keys across versions, so every value is kept as a string.
type VMConfig map[string]string

func (c *VMConfig) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*c = stringify(raw)
	return nil
}

func (c VMConfig) String(key string) string {
	return c[key]
}

// Int returns the leading integer of the value, so "1,fstrim_cloned_disks=1" yields 1.
func (c VMConfig) Int(key string) int {
	v := c[key]
	end := 0
	for end < len(v) && v[end] >= '0' && v[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(v[:end])
	if err != nil {
		return 0
	}
	return n
}

func (c VMConfig) AgentEnabled() bool {
	v := c["agent"]
	if strings.HasPrefix(v, "enabled=") {
		v = strings.TrimPrefix(v, "enabled=")
	}
	return VMConfig{"agent": v}.Int("agent") == 1
}

func stringify(raw map[string]any) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			if val {
				out[k] = "1"
			} else {
				out[k] = "0"
			}
		case nil:
		default:
			b, err := json.Marshal(val)
			if err == nil {
				out[k] = string(b)
			}
		}
	}
	return out
}
