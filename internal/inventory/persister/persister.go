package persister

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/kubev2v/proxmox-manager/internal/inventory/graph"
	"github.com/kubev2v/proxmox-manager/internal/store"
	"github.com/kubev2v/proxmox-manager/internal/store/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const batchSize = 100

// Result counts what one commit touched.
type Result struct {
	Clusters  int
	Hosts     int
	Storages  int
	VMs       int
	Snapshots int
	Archived  int64
	Deleted   int64
}

type Persister struct {
	store store.Store
	log   *zap.SugaredLogger
}

func New(s store.Store, log *zap.SugaredLogger) *Persister {
	if log == nil {
		log = zap.S().Named("persister")
	}
	return &Persister{store: s, log: log}
}

// Commit writes the graph of one pass for the manager in a single transaction
// holding the manager lock, so commits of the same manager never interleave.
// References are resolved against the entities written earlier in the same
// commit; a reference that does not resolve is stored as NULL.
func (p *Persister) Commit(ctx context.Context, managerID uuid.UUID, g *graph.Graph) (result Result, err error) {
	ctx, err = p.store.NewTransactionContext(ctx)
	if err != nil {
		return result, err
	}
	defer func() {
		if err != nil {
			_, _ = store.Rollback(ctx)
			return
		}
		_, err = store.Commit(ctx)
	}()

	// passes of one manager may run in different processes
	if err = p.store.Manager().Lock(ctx, managerID); err != nil {
		return result, fmt.Errorf("failed to lock manager %s: %w", managerID, err)
	}

	c := &commit{
		db:        store.FromContext(ctx),
		managerID: managerID,
		resolved:  map[graph.Kind]map[string]uuid.UUID{},
		result:    &result,
	}

	steps := []func(*graph.Graph) error{
		c.clusters,
		c.hosts,
		c.storages,
		c.vms,
		c.snapshots,
	}
	if g.Scope.Full() {
		steps = append(steps, c.retireFull)
	} else {
		steps = append(steps, c.retireTargeted)
	}

	for _, step := range steps {
		if err = step(g); err != nil {
			return result, err
		}
	}

	p.log.Infow("inventory committed",
		"manager_id", managerID, "full", g.Scope.Full(),
		"clusters", result.Clusters, "hosts", result.Hosts, "storages", result.Storages,
		"vms", result.VMs, "snapshots", result.Snapshots,
		"archived", result.Archived, "deleted", result.Deleted)
	return result, nil
}

type commit struct {
	db        *gorm.DB
	managerID uuid.UUID
	resolved  map[graph.Kind]map[string]uuid.UUID
	result    *Result
}

func (c *commit) id(kind graph.Kind, modelKind, key string) uuid.UUID {
	id := model.EntityID(c.managerID, modelKind, key)
	if c.resolved[kind] == nil {
		c.resolved[kind] = map[string]uuid.UUID{}
	}
	c.resolved[kind][key] = id
	return id
}

// resolve returns the row id of a reference committed earlier, or nil.
func (c *commit) resolve(ref graph.Ref) *uuid.UUID {
	if ref.IsZero() {
		return nil
	}
	id, ok := c.resolved[ref.Kind][ref.Key]
	if !ok {
		return nil
	}
	return &id
}

func (c *commit) keys(kind graph.Kind) []string {
	keys := make([]string, 0, len(c.resolved[kind]))
	for k := range c.resolved[kind] {
		keys = append(keys, k)
	}
	return keys
}

func (c *commit) clusters(g *graph.Graph) error {
	rows := make([]model.Cluster, 0, len(g.Clusters))
	for _, cl := range g.Clusters {
		rows = append(rows, model.Cluster{
			ID:        c.id(graph.KindCluster, model.KindCluster, cl.EmsRef),
			ManagerID: c.managerID,
			EmsRef:    cl.EmsRef,
			UIDEms:    cl.UIDEms,
			Name:      cl.Name,
		})
	}
	c.result.Clusters = len(rows)
	return upsert(c.db, rows, []string{"manager_id", "ems_ref"}, "uid_ems", "name")
}

func (c *commit) hosts(g *graph.Graph) error {
	rows := make([]model.Host, 0, len(g.Hosts))
	for _, h := range g.Hosts {
		rows = append(rows, model.Host{
			ID:              c.id(graph.KindHost, model.KindHost, h.EmsRef),
			ManagerID:       c.managerID,
			EmsRef:          h.EmsRef,
			UIDEms:          h.UIDEms,
			Name:            h.Name,
			Hostname:        h.Hostname,
			IPAddress:       h.IPAddress,
			VMMVendor:       h.VMMVendor,
			VMMProduct:      h.VMMProduct,
			VMMVersion:      h.VMMVersion,
			PowerState:      h.PowerState,
			ConnectionState: h.ConnectionState,
			CPUTotalCores:   h.CPUTotalCores,
			MemoryMB:        h.MemoryMB,
			ClusterID:       c.resolve(h.Cluster),
		})
	}
	c.result.Hosts = len(rows)
	return upsert(c.db, rows, []string{"manager_id", "ems_ref"},
		"uid_ems", "name", "hostname", "ip_address", "vmm_vendor", "vmm_product", "vmm_version",
		"power_state", "connection_state", "cpu_total_cores", "memory_mb", "cluster_id", "archived")
}

func (c *commit) storages(g *graph.Graph) error {
	rows := make([]model.Storage, 0, len(g.Storages))
	for _, s := range g.Storages {
		rows = append(rows, model.Storage{
			ID:         c.id(graph.KindStorage, model.KindStorage, s.EmsRef),
			ManagerID:  c.managerID,
			EmsRef:     s.EmsRef,
			Name:       s.Name,
			StoreType:  s.StoreType,
			TotalSpace: s.TotalSpace,
			FreeSpace:  s.FreeSpace,
			Shared:     s.Shared,
		})
	}
	c.result.Storages = len(rows)
	return upsert(c.db, rows, []string{"manager_id", "ems_ref"},
		"name", "store_type", "total_space", "free_space", "shared")
}

func (c *commit) vms(g *graph.Graph) error {
	rows := make([]model.VM, 0, len(g.VMs))
	for _, v := range g.VMs {
		rows = append(rows, model.VM{
			ID:              c.id(graph.KindVM, model.KindVM, v.EmsRef),
			ManagerID:       c.managerID,
			EmsRef:          v.EmsRef,
			UIDEms:          v.UIDEms,
			Name:            v.Name,
			Vendor:          v.Vendor,
			RawPowerState:   v.RawPowerState,
			PowerState:      v.PowerState,
			ConnectionState: v.ConnectionState,
			Location:        v.Location,
			Template:        v.Template,
			HostID:          c.resolve(v.Host),
			ClusterID:       c.resolve(v.Cluster),
			StorageID:       c.resolve(v.Storage),
		})
	}
	c.result.VMs = len(rows)
	if err := upsert(c.db, rows, []string{"manager_id", "ems_ref"},
		"uid_ems", "name", "vendor", "raw_power_state", "power_state", "connection_state", "location",
		"template", "host_id", "cluster_id", "storage_id", "archived"); err != nil {
		return err
	}

	for i, v := range g.VMs {
		if err := c.hardware(rows[i].ID, v.Hardware); err != nil {
			return fmt.Errorf("vm %s: %w", v.EmsRef, err)
		}
	}
	return nil
}

func (c *commit) hardware(vmID uuid.UUID, hw graph.Hardware) error {
	hwID := model.ChildID(vmID, "hardware", "")
	row := []model.Hardware{{
		ID:                hwID,
		VMID:              vmID,
		CPUSockets:        hw.CPUSockets,
		CPUCoresPerSocket: hw.CPUCoresPerSocket,
		CPUTotalCores:     hw.CPUTotalCores,
		MemoryMB:          hw.MemoryMB,
		GuestOS:           hw.GuestOS,
		GuestOSVersion:    hw.GuestOSVersion,
		KernelVersion:     hw.KernelVersion,
	}}
	if err := upsert(c.db, row, []string{"vm_id"},
		"cpu_sockets", "cpu_cores_per_socket", "cpu_total_cores", "memory_mb",
		"guest_os", "guest_os_version", "kernel_version"); err != nil {
		return err
	}

	disks := make([]model.Disk, 0, len(hw.Disks))
	for _, d := range hw.Disks {
		disks = append(disks, model.Disk{
			ID:             model.ChildID(hwID, "disk", d.DeviceName),
			HardwareID:     hwID,
			DeviceName:     d.DeviceName,
			ControllerType: d.ControllerType,
			Location:       d.Location,
			Size:           d.Size,
			DiskType:       d.DiskType,
			StorageID:      c.resolve(d.Storage),
		})
	}
	if err := upsert(c.db, disks, []string{"hardware_id", "device_name"},
		"controller_type", "location", "size", "disk_type", "storage_id"); err != nil {
		return err
	}

	adapters := make([]model.NetworkAdapter, 0, len(hw.Adapters))
	for _, a := range hw.Adapters {
		adapters = append(adapters, model.NetworkAdapter{
			ID:         model.ChildID(hwID, "adapter", a.UIDEms),
			HardwareID: hwID,
			UIDEms:     a.UIDEms,
			DeviceName: a.DeviceName,
			DeviceType: a.DeviceType,
			Address:    a.Address,
		})
	}
	if err := upsert(c.db, adapters, []string{"hardware_id", "uid_ems"},
		"device_name", "device_type", "address"); err != nil {
		return err
	}

	networks := make([]model.GuestNetwork, 0, len(hw.Networks))
	for i, n := range hw.Networks {
		networks = append(networks, model.GuestNetwork{
			ID:          model.ChildID(hwID, "network", strconv.Itoa(i)),
			HardwareID:  hwID,
			IPAddress:   n.IPAddress,
			IPv6Address: n.IPv6Address,
			Hostname:    n.Hostname,
		})
	}
	if err := upsert(c.db, networks, []string{"id"}, "ip_address", "ipv6_address", "hostname"); err != nil {
		return err
	}

	// children that vanished from the VM
	for _, child := range []struct {
		model any
		ids   []uuid.UUID
	}{
		{&model.Disk{}, ids(disks, func(d model.Disk) uuid.UUID { return d.ID })},
		{&model.NetworkAdapter{}, ids(adapters, func(a model.NetworkAdapter) uuid.UUID { return a.ID })},
		{&model.GuestNetwork{}, ids(networks, func(n model.GuestNetwork) uuid.UUID { return n.ID })},
	} {
		tx := c.db.Where("hardware_id = ?", hwID)
		if len(child.ids) > 0 {
			tx = tx.Where("id NOT IN ?", child.ids)
		}
		result := tx.Delete(child.model)
		if result.Error != nil {
			return result.Error
		}
		c.result.Deleted += result.RowsAffected
	}
	return nil
}

func (c *commit) snapshots(g *graph.Graph) error {
	rows := make([]model.Snapshot, 0, len(g.Snapshots))
	for _, s := range g.Snapshots {
		rows = append(rows, model.Snapshot{
			ID:          c.id(graph.KindSnapshot, model.KindSnapshot, s.UID),
			ManagerID:   c.managerID,
			UID:         s.UID,
			UIDEms:      s.UIDEms,
			EmsRef:      s.EmsRef,
			Name:        s.Name,
			Description: s.Description,
			CreateTime:  s.CreateTime,
			Current:     s.Current,
			ParentUID:   s.ParentUID,
			VMID:        c.resolve(s.VM),
		})
	}
	c.result.Snapshots = len(rows)
	return upsert(c.db, rows, []string{"manager_id", "uid"},
		"uid_ems", "ems_ref", "name", "description", "create_time", "current", "parent_uid", "vm_id")
}

// retireFull archives hosts and VMs missing from a full pass and deletes the
// clusters, storages and snapshots that vanished.
func (c *commit) retireFull(_ *graph.Graph) error {
	for _, archive := range []struct {
		model any
		kind  graph.Kind
	}{
		{&model.Host{}, graph.KindHost},
		{&model.VM{}, graph.KindVM},
	} {
		tx := notIn(c.db.Model(archive.model).Where("manager_id = ? AND archived = ?", c.managerID, false), "ems_ref", c.keys(archive.kind))
		result := tx.Update("archived", true)
		if result.Error != nil {
			return result.Error
		}
		c.result.Archived += result.RowsAffected
	}

	if err := c.deleteVanished(&model.Storage{}, "ems_ref", graph.KindStorage, "storage_id", &model.VM{}, &model.Disk{}); err != nil {
		return err
	}
	if err := c.deleteVanished(&model.Cluster{}, "ems_ref", graph.KindCluster, "cluster_id", &model.VM{}, &model.Host{}); err != nil {
		return err
	}
	return c.deleteVanished(&model.Snapshot{}, "uid", graph.KindSnapshot, "")
}

// deleteVanished deletes the manager's rows of a kind missing from the pass,
// first clearing the column that references them in the given dependents.
func (c *commit) deleteVanished(m any, keyColumn string, kind graph.Kind, refColumn string, dependents ...any) error {
	vanished := notIn(c.db.Model(m).Select("id").Where("manager_id = ?", c.managerID), keyColumn, c.keys(kind))
	for _, dep := range dependents {
		if err := c.db.Model(dep).Where(refColumn+" IN (?)", vanished).Update(refColumn, nil).Error; err != nil {
			return err
		}
	}
	result := notIn(c.db.Where("manager_id = ?", c.managerID), keyColumn, c.keys(kind)).Delete(m)
	if result.Error != nil {
		return result.Error
	}
	c.result.Deleted += result.RowsAffected
	return nil
}

// retireTargeted archives the targeted VMs that are gone and deletes the
// vanished snapshots of the targeted VMs only.
func (c *commit) retireTargeted(g *graph.Graph) error {
	result := notIn(c.db.Model(&model.VM{}).
		Where("manager_id = ? AND archived = ?", c.managerID, false).
		Where("ems_ref IN ?", g.Scope.VMs), "ems_ref", c.keys(graph.KindVM)).
		Update("archived", true)
	if result.Error != nil {
		return result.Error
	}
	c.result.Archived += result.RowsAffected

	targeted := c.db.Model(&model.VM{}).Select("id").
		Where("manager_id = ? AND ems_ref IN ?", c.managerID, g.Scope.VMs)
	result = notIn(c.db.Where("manager_id = ?", c.managerID).Where("vm_id IN (?)", targeted), "uid", c.keys(graph.KindSnapshot)).
		Delete(&model.Snapshot{})
	if result.Error != nil {
		return result.Error
	}
	c.result.Deleted += result.RowsAffected
	return nil
}

func upsert[T any](db *gorm.DB, rows []T, conflict []string, update ...string) error {
	if len(rows) == 0 {
		return nil
	}
	columns := make([]clause.Column, 0, len(conflict))
	for _, name := range conflict {
		columns = append(columns, clause.Column{Name: name})
	}
	return db.Clauses(clause.OnConflict{
		Columns:   columns,
		DoUpdates: clause.AssignmentColumns(append(update, "updated_at")),
	}).CreateInBatches(rows, batchSize).Error
}

func notIn(tx *gorm.DB, column string, keys []string) *gorm.DB {
	if len(keys) == 0 {
		return tx
	}
	return tx.Where(column+" NOT IN ?", keys)
}

func ids[T any](rows []T, id func(T) uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		out = append(out, id(r))
	}
	return out
}
