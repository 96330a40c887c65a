package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Task states
const (
	TaskStateQueued   = "Queued"
	TaskStateActive   = "Active"
	TaskStateFinished = "Finished"
)

// Task statuses
const (
	TaskStatusOk    = "Ok"
	TaskStatusError = "Error"
)

// Task is the durable record of one remote operation. Context holds the
// progress payload of the step machine and is persisted verbatim.
type Task struct {
	ID         uuid.UUID `gorm:"primaryKey;column:id;type:VARCHAR(36);"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Name       string `gorm:"not null"`
	State      string `gorm:"not null;index"`
	Status     string
	Message    string
	Context    []byte     `gorm:"type:jsonb"`
	ManagerID  uuid.UUID  `gorm:"not null;type:VARCHAR(36);index"`
	VMID       *uuid.UUID `gorm:"column:vm_id;type:VARCHAR(36)"`
	Userid     string
	LeaseUntil int64 `gorm:"not null"` // unix seconds, 0 when not leased
}

func (Task) TableName() string { return "tasks" }

type TaskList []Task

func (t Task) String() string {
	val, _ := json.Marshal(t)
	return string(val)
}

func (t Task) Finished() bool {
	return t.State == TaskStateFinished
}
