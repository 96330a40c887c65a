package store_test

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kubev2v/proxmox-manager/internal/config"
	"github.com/kubev2v/proxmox-manager/internal/store"
	"github.com/kubev2v/proxmox-manager/internal/store/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("inventory store", Ordered, func() {
	var (
		s         store.Store
		gormdb    *gorm.DB
		managerID uuid.UUID
		hostID    uuid.UUID
		webID     uuid.UUID
		dbID      uuid.UUID
	)

	BeforeAll(func() {
		db, err := store.InitDB(config.NewDefault())
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration(context.TODO())).To(BeNil())

		managerID = uuid.New()
		hostID = model.EntityID(managerID, model.KindHost, "pve1")
		webID = model.EntityID(managerID, model.KindVM, "100")
		dbID = model.EntityID(managerID, model.KindVM, "101")
		hwID := model.ChildID(webID, "hardware", "")
		created := time.Unix(1700000000, 0).UTC()

		rows := []any{
			&model.Host{ID: hostID, ManagerID: managerID, EmsRef: "pve1", Name: "pve1"},
			&model.Host{ID: model.EntityID(managerID, model.KindHost, "old"), ManagerID: managerID, EmsRef: "old", Archived: true},
			&model.Storage{ID: model.EntityID(managerID, model.KindStorage, "local-lvm"), ManagerID: managerID, EmsRef: "local-lvm"},
			&model.VM{ID: webID, ManagerID: managerID, EmsRef: "100", Name: "web", PowerState: "on", Location: "pve1/qemu/100", HostID: &hostID},
			&model.VM{ID: dbID, ManagerID: managerID, EmsRef: "101", Name: "db", PowerState: "off", Location: "pve1/qemu/101", Archived: true},
			&model.Hardware{ID: hwID, VMID: webID, CPUSockets: 2, CPUCoresPerSocket: 2, CPUTotalCores: 4},
			&model.Disk{ID: model.ChildID(hwID, "disk", "scsi1"), HardwareID: hwID, DeviceName: "scsi1", Size: 1 << 30},
			&model.Disk{ID: model.ChildID(hwID, "disk", "scsi0"), HardwareID: hwID, DeviceName: "scsi0", Size: 32 << 30},
			&model.NetworkAdapter{ID: model.ChildID(hwID, "adapter", "100_aa"), HardwareID: hwID, UIDEms: "100_aa", DeviceName: "eth0"},
			&model.Snapshot{ID: model.EntityID(managerID, model.KindSnapshot, "100_a"), ManagerID: managerID, UID: "100_a", Name: "a", VMID: &webID, CreateTime: &created},
		}
		for _, row := range rows {
			Expect(gormdb.Create(row).Error).To(BeNil())
		}
	})

	AfterAll(func() {
		s.Close()
	})

	It("lists active vms of a manager", func() {
		vms, err := s.Inventory().ListVMs(context.TODO(), store.NewVMQueryFilter().ByManagerID(managerID).ByArchived(false), store.NewVMQueryOptions().WithSortOrder(store.SortByName))
		Expect(err).To(BeNil())
		Expect(vms).To(HaveLen(1))
		Expect(vms[0].Name).To(Equal("web"))
	})

	It("lists vms by remote id", func() {
		vms, err := s.Inventory().ListVMs(context.TODO(), store.NewVMQueryFilter().ByEmsRef("100", "101"), nil)
		Expect(err).To(BeNil())
		Expect(vms).To(HaveLen(2))
	})

	It("gets a vm with its details", func() {
		vm, err := s.Inventory().GetVM(context.TODO(), webID)
		Expect(err).To(BeNil())
		Expect(vm.Node()).To(Equal("pve1"))
		Expect(vm.PoweredOn()).To(BeTrue())
		Expect(vm.Host).NotTo(BeNil())
		Expect(vm.Host.Name).To(Equal("pve1"))
		Expect(vm.Hardware).NotTo(BeNil())
		Expect(vm.Hardware.Disks).To(HaveLen(2))
		Expect(vm.Hardware.Disks[0].DeviceName).To(Equal("scsi0"))
		Expect(vm.Hardware.Adapters).To(HaveLen(1))
		Expect(vm.Snapshots).To(HaveLen(1))

		disk, found := vm.Hardware.Disk("scsi1")
		Expect(found).To(BeTrue())
		Expect(disk.Size).To(Equal(int64(1 << 30)))
		_, found = vm.Hardware.Disk("virtio9")
		Expect(found).To(BeFalse())
	})

	It("fails to get an unknown vm", func() {
		_, err := s.Inventory().GetVM(context.TODO(), uuid.New())
		Expect(errors.Is(err, store.ErrRecordNotFound)).To(BeTrue())
	})

	It("lists hosts and storages", func() {
		hosts, err := s.Inventory().ListHosts(context.TODO(), managerID)
		Expect(err).To(BeNil())
		Expect(hosts).To(HaveLen(2))

		storages, err := s.Inventory().ListStorages(context.TODO(), managerID)
		Expect(err).To(BeNil())
		Expect(storages).To(HaveLen(1))
	})

	It("counts the active inventory", func() {
		stats, err := s.Inventory().Count(context.TODO(), managerID)
		Expect(err).To(BeNil())
		Expect(stats).To(Equal(model.InventoryStats{Hosts: 1, VMs: 1, Storages: 1, Snapshots: 1}))
	})

	It("gets and deletes a snapshot", func() {
		id := model.EntityID(managerID, model.KindSnapshot, "100_a")
		snapshot, err := s.Inventory().GetSnapshot(context.TODO(), id)
		Expect(err).To(BeNil())
		Expect(snapshot.Name).To(Equal("a"))
		Expect(snapshot.CreateTime.Unix()).To(Equal(int64(1700000000)))

		Expect(s.Inventory().DeleteSnapshot(context.TODO(), id)).To(BeNil())
		_, err = s.Inventory().GetSnapshot(context.TODO(), id)
		Expect(errors.Is(err, store.ErrRecordNotFound)).To(BeTrue())

		// deleting again is fine
		Expect(s.Inventory().DeleteSnapshot(context.TODO(), id)).To(BeNil())

		snapshots, err := s.Inventory().ListSnapshots(context.TODO(), webID)
		Expect(err).To(BeNil())
		Expect(snapshots).To(BeEmpty())
	})
})
