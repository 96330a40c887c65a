package proxmox

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

const (
	DefaultWaitInterval = 5 * time.Second
	DefaultWaitTimeout  = 300 * time.Second
)

func (c *Client) TaskStatus(ctx context.Context, upid UPID) (*TaskStatus, error) {
	node, err := upid.Node()
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/nodes/%s/tasks/%s/status", url.PathEscape(node), url.PathEscape(upid.String()))
	var out TaskStatus
	if err := c.Get(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	if out.UPID == "" {
		out.UPID = upid
	}
	return &out, nil
}

// WaitForTask polls the task every interval until it stops or timeout elapses.
// It returns ErrTaskTimeout past the ceiling and a *TaskFailedError when the task
// stopped with an exit status other than OK.
func (c *Client) WaitForTask(ctx context.Context, upid UPID, interval, timeout time.Duration) (*TaskStatus, error) {
	if interval <= 0 {
		interval = DefaultWaitInterval
	}
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.TaskStatus(ctx, upid)
		if err != nil {
			return nil, err
		}
		if !status.Running() {
			if status.Succeeded() {
				return status, nil
			}
			return status, &TaskFailedError{UPID: upid, ExitStatus: status.ExitStatus}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("task %s after %s: %w", upid, timeout, ErrTaskTimeout)
		case <-ticker.C:
		}
	}
}
