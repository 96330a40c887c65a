package parser

import (
	"regexp"
	"strings"

	"github.com/kubev2v/proxmox-manager/internal/proxmox"
)

const DefaultBridge = "vmbr0"

var pveVersionRegex = regexp.MustCompile(`pve-manager/([0-9.]+)`)

// PrimaryIP picks the address a node is reached at: the default bridge first, then any
// bridge, then any interface. VLAN sub-interfaces (a "." in the name) are skipped.
func PrimaryIP(ifaces []proxmox.NodeInterface, defaultBridge string) string {
	if defaultBridge == "" {
		defaultBridge = DefaultBridge
	}

	for _, i := range ifaces {
		if i.Type == "bridge" && i.Iface == defaultBridge && i.Address != "" {
			return i.Address
		}
	}
	for _, i := range ifaces {
		if i.Type == "bridge" && i.Address != "" && !strings.Contains(i.Iface, ".") {
			return i.Address
		}
	}
	for _, i := range ifaces {
		if i.Address != "" && i.Iface != "lo" && !strings.Contains(i.Iface, ".") {
			return i.Address
		}
	}
	return ""
}

// HypervisorVersion extracts "8.2.4" from "pve-manager/8.2.4/faa8...". A string
// without the marker is returned verbatim.
func HypervisorVersion(raw string) string {
	if raw == "" {
		return ""
	}
	if m := pveVersionRegex.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return raw
}

// SplitAddresses returns the first IPv4 and the first IPv6 address of the list.
func SplitAddresses(addresses []string) (ipv4, ipv6 string) {
	for _, a := range addresses {
		if strings.Contains(a, ":") {
			if ipv6 == "" {
				ipv6 = a
			}
		} else if ipv4 == "" {
			ipv4 = a
		}
	}
	return ipv4, ipv6
}
