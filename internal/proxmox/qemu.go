package proxmox

import (
	"context"
	"fmt"
	"net/url"
)

type SnapshotOptions struct {
	Name        string
	Description string
	// VMState also saves the RAM of a running VM.
	VMState bool
}

func (c *Client) CreateSnapshot(ctx context.Context, node string, vmid int, opts SnapshotOptions) (UPID, error) {
	form := url.Values{}
	form.Set("snapname", opts.Name)
	if opts.Description != "" {
		form.Set("description", opts.Description)
	}
	if opts.VMState {
		form.Set("vmstate", "1")
	}
	return c.postTask(ctx, qemuPath(node, vmid, "snapshot"), form)
}

func (c *Client) DeleteSnapshot(ctx context.Context, node string, vmid int, name string) (UPID, error) {
	var out string
	if err := c.Delete(ctx, qemuPath(node, vmid, "snapshot/"+url.PathEscape(name)), nil, &out); err != nil {
		return "", err
	}
	return parseOptionalUPID(out)
}

func (c *Client) RollbackSnapshot(ctx context.Context, node string, vmid int, name string) (UPID, error) {
	return c.postTask(ctx, qemuPath(node, vmid, "snapshot/"+url.PathEscape(name)+"/rollback"), url.Values{})
}

// ResizeDisk grows a disk. Size is absolute ("40G") or relative ("+10G").
// Older api versions resize synchronously and return an empty UPID.
func (c *Client) ResizeDisk(ctx context.Context, node string, vmid int, disk, size string) (UPID, error) {
	form := url.Values{}
	form.Set("disk", disk)
	form.Set("size", size)

	var out string
	if err := c.Put(ctx, qemuPath(node, vmid, "resize"), form, &out); err != nil {
		return "", err
	}
	return parseOptionalUPID(out)
}

// UpdateConfig applies config changes synchronously.
func (c *Client) UpdateConfig(ctx context.Context, node string, vmid int, changes url.Values) error {
	return c.Put(ctx, qemuPath(node, vmid, "config"), changes, nil)
}

func (c *Client) VNCProxy(ctx context.Context, node string, vmid int) (*VNCProxy, error) {
	form := url.Values{}
	form.Set("websocket", "1")

	var out VNCProxy
	if err := c.Post(ctx, qemuPath(node, vmid, "vncproxy"), form, &out); err != nil {
		return nil, err
	}
	if out.Ticket == "" || out.Port == "" {
		return nil, fmt.Errorf("proxmox: vncproxy for %d returned no ticket", vmid)
	}
	return &out, nil
}

func (c *Client) postTask(ctx context.Context, path string, form url.Values) (UPID, error) {
	var out string
	if err := c.Post(ctx, path, form, &out); err != nil {
		return "", err
	}
	return ParseUPID(out)
}

func parseOptionalUPID(s string) (UPID, error) {
	if s == "" {
		return "", nil
	}
	return ParseUPID(s)
}
