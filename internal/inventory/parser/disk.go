package parser

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kubev2v/proxmox-manager/internal/proxmox"
)

var (
	diskKeyRegex  = regexp.MustCompile(`^(scsi|virtio|ide|sata)(\d+)$`)
	diskSizeRegex = regexp.MustCompile(`(?i)size=(\d+)([KMGTP])?`)

	sizeMultipliers = map[string]int64{
		"K": 1 << 10,
		"M": 1 << 20,
		"G": 1 << 30,
		"T": 1 << 40,
		"P": 1 << 50,
	}
)

// DiskDescriptor is one "storage:volume,opt=val,..." entry of a VM config.
type DiskDescriptor struct {
	Key            string
	ControllerType string
	Storage        string
	Volume         string
	Size           int64
	CDROM          bool
}

// ParseDiskDescriptor parses the value of a disk key like scsi0.
func ParseDiskDescriptor(key, raw string) DiskDescriptor {
	d := DiskDescriptor{
		Key:            key,
		ControllerType: strings.TrimRight(key, "0123456789"),
	}

	storage, volumeSpec, found := strings.Cut(raw, ":")
	if !found {
		storage = ""
		volumeSpec = raw
	}
	d.Storage = storage
	d.Volume, _, _ = strings.Cut(volumeSpec, ",")

	if m := diskSizeRegex.FindStringSubmatch(raw); m != nil {
		size, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil {
			multiplier, ok := sizeMultipliers[strings.ToUpper(m[2])]
			if !ok {
				multiplier = 1
			}
			// sizes beyond int64 stay unknown
			if size <= math.MaxInt64/multiplier {
				d.Size = size * multiplier
			}
		}
	}

	for _, opt := range strings.Split(raw, ",") {
		if strings.TrimSpace(opt) == "media=cdrom" {
			d.CDROM = true
		}
	}
	return d
}

// DiskKeys returns the disk keys of a config ordered by controller then index.
func DiskKeys(cfg proxmox.VMConfig) []string {
	keys := []string{}
	for k := range cfg {
		if diskKeyRegex.MatchString(k) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		mi := diskKeyRegex.FindStringSubmatch(keys[i])
		mj := diskKeyRegex.FindStringSubmatch(keys[j])
		if mi[1] != mj[1] {
			return mi[1] < mj[1]
		}
		ni, _ := strconv.Atoi(mi[2])
		nj, _ := strconv.Atoi(mj[2])
		return ni < nj
	})
	return keys
}

// IsDiskKey reports whether key names a disk slot of a VM config.
func IsDiskKey(key string) bool {
	return diskKeyRegex.MatchString(key)
}
