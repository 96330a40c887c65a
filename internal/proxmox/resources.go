package proxmox

import (
	"context"
	"fmt"
	"net/url"
)

func (c *Client) ClusterResources(ctx context.Context) ([]ClusterResource, error) {
	var out []ClusterResource
	if err := c.Get(ctx, "/cluster/resources", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ClusterStatus(ctx context.Context) ([]ClusterStatusItem, error) {
	var out []ClusterStatusItem
	if err := c.Get(ctx, "/cluster/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) NodeStatus(ctx context.Context, node string) (*NodeStatus, error) {
	var out NodeStatus
	if err := c.Get(ctx, fmt.Sprintf("/nodes/%s/status", url.PathEscape(node)), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) NodeNetwork(ctx context.Context, node string) ([]NodeInterface, error) {
	var out []NodeInterface
	if err := c.Get(ctx, fmt.Sprintf("/nodes/%s/network", url.PathEscape(node)), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) VMConfig(ctx context.Context, node string, vmid int) (VMConfig, error) {
	var out VMConfig
	if err := c.Get(ctx, qemuPath(node, vmid, "config"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) VMSnapshots(ctx context.Context, node string, vmid int) ([]Snapshot, error) {
	var out []Snapshot
	if err := c.Get(ctx, qemuPath(node, vmid, "snapshot"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AgentNetworkInterfaces(ctx context.Context, node string, vmid int) ([]GuestInterface, error) {
	var out struct {
		Result []GuestInterface `json:"result"`
	}
	if err := c.Get(ctx, qemuPath(node, vmid, "agent/network-get-interfaces"), nil, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

func (c *Client) AgentHostName(ctx context.Context, node string, vmid int) (string, error) {
	var out struct {
		Result struct {
			HostName string `json:"host-name"`
		} `json:"result"`
	}
	if err := c.Get(ctx, qemuPath(node, vmid, "agent/get-host-name"), nil, &out); err != nil {
		return "", err
	}
	return out.Result.HostName, nil
}

func (c *Client) AgentOSInfo(ctx context.Context, node string, vmid int) (*GuestOSInfo, error) {
	var out struct {
		Result GuestOSInfo `json:"result"`
	}
	if err := c.Get(ctx, qemuPath(node, vmid, "agent/get-osinfo"), nil, &out); err != nil {
		return nil, err
	}
	return &out.Result, nil
}

func qemuPath(node string, vmid int, suffix string) string {
	p := fmt.Sprintf("/nodes/%s/qemu/%d", url.PathEscape(node), vmid)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}
