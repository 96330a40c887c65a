// Package task drives remote operations to completion in independently delivered
// steps. Each step persists its progress on the task record before scheduling the
// next one, so any process can resume a task where the previous step left it.
package task

import (
	"encoding/json"
	"fmt"
)

type Phase string

const (
	PhaseInit    Phase = "init"
	PhasePolling Phase = "polling"
	PhaseDone    Phase = "done"
	PhaseFailed  Phase = "failed"
)

func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// Progress is the payload stored in the task context.
type Progress struct {
	Phase Phase  `json:"phase"`
	UPID  string `json:"upid,omitempty"`
	Node  string `json:"node"`
	VMID  int    `json:"vmid"`
	// VMRef is the ems_ref of the vm, used to narrow the refresh after success.
	VMRef      string `json:"vm_ref,omitempty"`
	Snapshot   string `json:"snapshot,omitempty"`
	SnapshotID string `json:"snapshot_id,omitempty"`
	Disk       string `json:"disk,omitempty"`
	Size       string `json:"size,omitempty"`
}

func DecodeProgress(raw []byte) (Progress, error) {
	p := Progress{}
	if len(raw) == 0 {
		p.Phase = PhaseInit
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("failed to decode task progress: %w", err)
	}
	if p.Phase == "" {
		p.Phase = PhaseInit
	}
	return p, nil
}

func (p Progress) Encode() []byte {
	val, _ := json.Marshal(p)
	return val
}
