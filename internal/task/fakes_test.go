package task_test

import (
	"context"
	"sync"
	"time"

	"github.com/kubev2v/proxmox-manager/internal/proxmox"
	"github.com/kubev2v/proxmox-manager/internal/queue"
)

const testUPID = proxmox.UPID("UPID:pve1:0000ABCD:0001E240:6553F100:qmdelsnapshot:100:root@pam:")

type fakeAPI struct {
	mu       sync.Mutex
	calls    map[string]int
	upid     proxmox.UPID
	startErr error
	status   *proxmox.TaskStatus
	statErr  error
	// block, when set, holds the issuing call until it is closed
	block   chan struct{}
	started chan struct{}
	last    []any
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		calls:  map[string]int{},
		upid:   testUPID,
		status: &proxmox.TaskStatus{Status: proxmox.TaskRunning},
	}
}

func (f *fakeAPI) issue(name string, args ...any) (proxmox.UPID, error) {
	f.mu.Lock()
	f.calls[name]++
	f.last = args
	block, started := f.block, f.started
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if block != nil {
		<-block
	}
	if f.startErr != nil {
		return "", f.startErr
	}
	return f.upid, nil
}

func (f *fakeAPI) DeleteSnapshot(ctx context.Context, node string, vmid int, name string) (proxmox.UPID, error) {
	return f.issue("DeleteSnapshot", node, vmid, name)
}

func (f *fakeAPI) RollbackSnapshot(ctx context.Context, node string, vmid int, name string) (proxmox.UPID, error) {
	return f.issue("RollbackSnapshot", node, vmid, name)
}

func (f *fakeAPI) ResizeDisk(ctx context.Context, node string, vmid int, disk, size string) (proxmox.UPID, error) {
	return f.issue("ResizeDisk", node, vmid, disk, size)
}

func (f *fakeAPI) TaskStatus(ctx context.Context, upid proxmox.UPID) (*proxmox.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["TaskStatus"]++
	if f.statErr != nil {
		return nil, f.statErr
	}
	return f.status, nil
}

func (f *fakeAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

// fakeQueue records messages instead of delivering them.
type fakeQueue struct {
	mu       sync.Mutex
	messages []queue.Message
}

func (q *fakeQueue) Enqueue(ctx context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	return nil
}

func (q *fakeQueue) Start(ctx context.Context) error { return nil }
func (q *fakeQueue) Stop(ctx context.Context) error  { return nil }

func (q *fakeQueue) byHandler(handler string) []queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := []queue.Message{}
	for _, m := range q.messages {
		if m.Handler == handler {
			out = append(out, m)
		}
	}
	return out
}

func (q *fakeQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = nil
}

func delayOf(msg queue.Message, from time.Time) time.Duration {
	return msg.NotBefore.Sub(from)
}
