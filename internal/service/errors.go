package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kubev2v/proxmox-manager/internal/proxmox"
)

type ErrResourceNotFound struct {
	error
}

func NewErrResourceNotFound(id uuid.UUID, resourceType string) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("%s %s not found", resourceType, id)}
}

func NewErrManagerNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "manager")
}

func NewErrVMNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "vm")
}

func NewErrSnapshotNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "snapshot")
}

func NewErrTaskNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "task")
}

func NewErrDiskNotFound(vmID uuid.UUID, disk string) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("disk %q of vm %s not found", disk, vmID)}
}

type ErrInvalidRequest struct {
	error
}

func NewErrInvalidRequest(format string, args ...any) *ErrInvalidRequest {
	return &ErrInvalidRequest{fmt.Errorf(format, args...)}
}

type ErrManagerExists struct {
	error
}

func NewErrManagerExists(name string) *ErrManagerExists {
	return &ErrManagerExists{fmt.Errorf("manager %q already exists", name)}
}

type ErrInvalidCredentials struct {
	error
}

func NewErrInvalidCredentials(username, hostname string) *ErrInvalidCredentials {
	return &ErrInvalidCredentials{fmt.Errorf("invalid credentials for %s on %s", username, hostname)}
}

type ErrTimeout struct {
	error
}

type ErrRemoteOperationFailed struct {
	error
}

// remoteError translates api client failures into service errors. Transport
// failures are returned unchanged.
func remoteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, proxmox.ErrInvalidCredentials) {
		return &ErrInvalidCredentials{err}
	}
	if errors.Is(err, proxmox.ErrTaskTimeout) {
		return &ErrTimeout{err}
	}

	var failed *proxmox.TaskFailedError
	if errors.As(err, &failed) {
		return &ErrRemoteOperationFailed{fmt.Errorf("status proxmox: %s: %w", failed.ExitStatus, err)}
	}
	var apiErr *proxmox.APIError
	if errors.As(err, &apiErr) {
		return &ErrRemoteOperationFailed{err}
	}
	return err
}
