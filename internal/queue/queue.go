// Package queue delivers messages to named handlers, at least once.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var ErrNoHandler = errors.New("queue: no handler registered")

// Message is one unit of deferred work. Target names the entity the handler acts on
// (a task id, a manager id). Messages sharing a non-empty Scope are collapsed while
// one of them is pending.
type Message struct {
	Handler   string
	Target    string
	Args      []string
	NotBefore time.Time
	Scope     string
}

func (m Message) String() string {
	return fmt.Sprintf("%s(%s)", m.Handler, m.Target)
}

// After returns a copy of the message due d from now.
func (m Message) After(d time.Duration) Message {
	m.NotBefore = time.Now().Add(d)
	return m
}

type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type HandlerFunc func(ctx context.Context, msg Message) error

// Mux routes a message to the handler registered under its name.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewMux() *Mux {
	return &Mux{handlers: map[string]HandlerFunc{}}
}

func (m *Mux) Handle(name string, fn HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = fn
}

func (m *Mux) Dispatch(ctx context.Context, msg Message) error {
	m.mu.RLock()
	fn, ok := m.handlers[msg.Handler]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoHandler, msg.Handler)
	}
	return fn(ctx, msg)
}

// Handlers every process registers.
const (
	HandlerTaskStep = "task_step"
	HandlerRefresh  = "refresh"
)

// StepMessage continues the task with the given id.
func StepMessage(taskID string) Message {
	return Message{Handler: HandlerTaskStep, Target: taskID}
}

// RefreshMessage asks for a reconciliation pass of the manager, narrowed to the
// given vm ems_refs when any. Refreshes of the same scope collapse while pending.
func RefreshMessage(managerID string, vms ...string) Message {
	scope := managerID
	if len(vms) > 0 {
		scope += "/" + strings.Join(vms, ",")
	}
	return Message{Handler: HandlerRefresh, Target: managerID, Args: vms, Scope: scope}
}

// TaskRefreshMessage is the refresh a finished task asks for. Its scope carries
// the task id, so it never collapses into a refresh that is already running
// and may have collected the vm before the task changed it.
func TaskRefreshMessage(managerID, taskID string, vms ...string) Message {
	msg := RefreshMessage(managerID, vms...)
	msg.Scope += "@task/" + taskID
	return msg
}
