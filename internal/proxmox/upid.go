package proxmox

import (
	"fmt"
	"strings"
)

// UPID identifies one asynchronous job on a node.
//
//	UPID:<node>:<pid>:<pstart>:<starttime>:<type>:<id>:<user>:
type UPID string

func ParseUPID(s string) (UPID, error) {
	u := UPID(strings.TrimSpace(s))
	if _, err := u.Node(); err != nil {
		return "", err
	}
	return u, nil
}

// Node returns the node owning the job.
func (u UPID) Node() (string, error) {
	fields := strings.Split(string(u), ":")
	if len(fields) < 2 || fields[0] != "UPID" || fields[1] == "" {
		return "", fmt.Errorf("malformed upid %q", string(u))
	}
	return fields[1], nil
}

// Type returns the job type (qmdelsnapshot, qmrollback, ...) or an empty string.
func (u UPID) Type() string {
	fields := strings.Split(string(u), ":")
	if len(fields) < 6 {
		return ""
	}
	return fields[5]
}

func (u UPID) String() string {
	return string(u)
}
