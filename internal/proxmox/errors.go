package proxmox

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidCredentials = errors.New("proxmox: invalid credentials")
	ErrNotFound           = errors.New("proxmox: resource not found")
	ErrTaskTimeout        = errors.New("proxmox: timed out waiting for task")
)

// APIError is returned for every non-2xx answer from the api.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("proxmox api %s %s: status=%d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrInvalidCredentials
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return nil
	}
}

// TaskFailedError is returned when a remote task stopped with an exit status other than OK.
type TaskFailedError struct {
	UPID       UPID
	ExitStatus string
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("proxmox task %s failed: %s", e.UPID, e.ExitStatus)
}
