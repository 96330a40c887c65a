package persister_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kubev2v/proxmox-manager/internal/config"
	"github.com/kubev2v/proxmox-manager/internal/inventory/collector"
	"github.com/kubev2v/proxmox-manager/internal/inventory/collector/collectortest"
	"github.com/kubev2v/proxmox-manager/internal/inventory/graph"
	"github.com/kubev2v/proxmox-manager/internal/inventory/parser"
	"github.com/kubev2v/proxmox-manager/internal/inventory/persister"
	"github.com/kubev2v/proxmox-manager/internal/store"
	"github.com/kubev2v/proxmox-manager/internal/store/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func parse(fake *collectortest.FakeClient, opts ...collector.Option) *graph.Graph {
	c := collector.New(fake, zap.NewNop().Sugar(), opts...)
	return parser.New(c, zap.NewNop().Sugar(), "").Parse(context.TODO())
}

var _ = Describe("persister", Ordered, func() {
	var (
		s         store.Store
		gormdb    *gorm.DB
		p         *persister.Persister
		managerID uuid.UUID
	)

	count := func(table string) int {
		n := -1
		Expect(gormdb.Raw(fmt.Sprintf("SELECT COUNT(*) FROM %s;", table)).Scan(&n).Error).To(BeNil())
		return n
	}

	vm := func(ref string) model.VM {
		var v model.VM
		Expect(gormdb.Preload("Hardware.Disks").Preload("Hardware.Adapters").Preload("Hardware.Networks").
			First(&v, "manager_id = ? AND ems_ref = ?", managerID, ref).Error).To(BeNil())
		return v
	}

	BeforeAll(func() {
		db, err := store.InitDB(config.NewDefault())
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration(context.TODO())).To(BeNil())
		p = persister.New(s, zap.NewNop().Sugar())
	})

	AfterAll(func() {
		s.Close()
	})

	BeforeEach(func() {
		managerID = uuid.New()
	})

	AfterEach(func() {
		for _, table := range []string{"clusters", "hosts", "storages", "vms", "hardwares", "disks", "network_adapters", "guest_networks", "snapshots"} {
			gormdb.Exec(fmt.Sprintf("DELETE FROM %s;", table))
		}
	})

	Context("full pass", func() {
		It("commits every entity of the graph", func() {
			result, err := p.Commit(context.TODO(), managerID, parse(collectortest.Lab()))
			Expect(err).To(BeNil())
			Expect(result.Clusters).To(Equal(1))
			Expect(result.Hosts).To(Equal(2))
			Expect(result.Storages).To(Equal(2))
			Expect(result.VMs).To(Equal(3))
			Expect(result.Snapshots).To(Equal(2))

			Expect(count("clusters")).To(Equal(1))
			Expect(count("hosts")).To(Equal(2))
			Expect(count("storages")).To(Equal(2))
			Expect(count("vms")).To(Equal(3))
			Expect(count("hardwares")).To(Equal(3))
			Expect(count("disks")).To(Equal(5))
			Expect(count("network_adapters")).To(Equal(2))
			Expect(count("guest_networks")).To(Equal(1))
			Expect(count("snapshots")).To(Equal(2))
		})

		It("resolves references by key", func() {
			_, err := p.Commit(context.TODO(), managerID, parse(collectortest.Lab()))
			Expect(err).To(BeNil())

			web := vm("100")
			Expect(web.HostID).NotTo(BeNil())
			Expect(*web.HostID).To(Equal(model.EntityID(managerID, model.KindHost, "pve1")))
			Expect(web.ClusterID).NotTo(BeNil())
			Expect(web.StorageID).NotTo(BeNil())
			Expect(*web.StorageID).To(Equal(model.EntityID(managerID, model.KindStorage, "local-lvm")))
			Expect(web.Hardware).NotTo(BeNil())
			Expect(web.Hardware.CPUTotalCores).To(Equal(4))

			var snapshot model.Snapshot
			Expect(gormdb.First(&snapshot, "manager_id = ? AND uid = ?", managerID, "100_after-upgrade").Error).To(BeNil())
			Expect(snapshot.Current).To(BeTrue())
			Expect(snapshot.VMID).NotTo(BeNil())
			Expect(*snapshot.VMID).To(Equal(web.ID))
		})

		It("stores unresolved references as null", func() {
			_, err := p.Commit(context.TODO(), managerID, parse(collectortest.Lab()))
			Expect(err).To(BeNil())

			db := vm("101")
			disk, found := db.Hardware.Disk("virtio0")
			Expect(found).To(BeTrue())
			Expect(disk.StorageID).To(BeNil())

			web := vm("100")
			cdrom, found := web.Hardware.Disk("ide2")
			Expect(found).To(BeTrue())
			Expect(cdrom.StorageID).To(BeNil())
			Expect(cdrom.DiskType).To(Equal(graph.DiskTypeCDROM))
		})

		It("is idempotent", func() {
			_, err := p.Commit(context.TODO(), managerID, parse(collectortest.Lab()))
			Expect(err).To(BeNil())
			first := vm("100")

			result, err := p.Commit(context.TODO(), managerID, parse(collectortest.Lab()))
			Expect(err).To(BeNil())
			Expect(result.Archived).To(BeZero())
			Expect(result.Deleted).To(BeZero())

			Expect(count("hosts")).To(Equal(2))
			Expect(count("vms")).To(Equal(3))
			Expect(count("disks")).To(Equal(5))
			Expect(count("snapshots")).To(Equal(2))

			second := vm("100")
			Expect(second.ID).To(Equal(first.ID))
			Expect(second.Name).To(Equal(first.Name))
			Expect(second.Location).To(Equal(first.Location))
			Expect(second.StorageID).To(Equal(first.StorageID))
			Expect(second.Hardware.ID).To(Equal(first.Hardware.ID))
			Expect(second.Hardware.Disks).To(HaveLen(len(first.Hardware.Disks)))
		})

		It("archives vms that disappeared and restores them when they come back", func() {
			_, err := p.Commit(context.TODO(), managerID, parse(collectortest.Lab()))
			Expect(err).To(BeNil())

			fake := collectortest.Lab()
			fake.DropVM(101)
			result, err := p.Commit(context.TODO(), managerID, parse(fake))
			Expect(err).To(BeNil())
			Expect(result.Archived).To(Equal(int64(1)))
			Expect(vm("101").Archived).To(BeTrue())
			Expect(vm("100").Archived).To(BeFalse())

			_, err = p.Commit(context.TODO(), managerID, parse(collectortest.Lab()))
			Expect(err).To(BeNil())
			Expect(vm("101").Archived).To(BeFalse())
		})

		It("deletes vanished snapshots, storages and devices", func() {
			_, err := p.Commit(context.TODO(), managerID, parse(collectortest.Lab()))
			Expect(err).To(BeNil())

			fake := collectortest.Lab()
			fake.SnapshotLists[100] = fake.SnapshotLists[100][1:]
			delete(fake.Configs[100], "scsi1")
			kept := fake.Resources[:0]
			for _, r := range fake.Resources {
				if r.Storage == "iso" {
					continue
				}
				kept = append(kept, r)
			}
			fake.Resources = kept

			_, err = p.Commit(context.TODO(), managerID, parse(fake))
			Expect(err).To(BeNil())

			Expect(count("snapshots")).To(Equal(1))
			Expect(count("storages")).To(Equal(1))
			Expect(count("disks")).To(Equal(4))
			_, found := vm("100").Hardware.Disk("scsi1")
			Expect(found).To(BeFalse())
		})

		It("keeps managers apart", func() {
			other := uuid.New()
			_, err := p.Commit(context.TODO(), managerID, parse(collectortest.Lab()))
			Expect(err).To(BeNil())
			_, err = p.Commit(context.TODO(), other, parse(collectortest.Lab()))
			Expect(err).To(BeNil())

			Expect(count("vms")).To(Equal(6))

			fake := collectortest.Lab()
			fake.DropVM(100)
			_, err = p.Commit(context.TODO(), other, parse(fake))
			Expect(err).To(BeNil())
			Expect(vm("100").Archived).To(BeFalse())
		})
	})

	Context("targeted pass", func() {
		It("replaces only the targeted vms", func() {
			_, err := p.Commit(context.TODO(), managerID, parse(collectortest.Lab()))
			Expect(err).To(BeNil())

			fake := collectortest.Lab()
			fake.SnapshotLists[100] = fake.SnapshotLists[100][1:]
			fake.DropVM(101)
			fake.RenameVM(100, "web-renamed")

			result, err := p.Commit(context.TODO(), managerID, parse(fake, collector.WithTargets(100)))
			Expect(err).To(BeNil())
			Expect(result.VMs).To(Equal(1))
			Expect(result.Archived).To(BeZero())

			Expect(vm("100").Name).To(Equal("web-renamed"))
			Expect(vm("101").Archived).To(BeFalse())
			Expect(count("snapshots")).To(Equal(1))
		})

		It("archives a targeted vm that no longer exists", func() {
			_, err := p.Commit(context.TODO(), managerID, parse(collectortest.Lab()))
			Expect(err).To(BeNil())

			fake := collectortest.Lab()
			fake.DropVM(100)
			result, err := p.Commit(context.TODO(), managerID, parse(fake, collector.WithTargets(100)))
			Expect(err).To(BeNil())
			Expect(result.Archived).To(Equal(int64(1)))
			Expect(vm("100").Archived).To(BeTrue())
			Expect(count("snapshots")).To(BeZero())
		})
	})

	Context("manager lock", func() {
		It("is taken inside the transaction before anything is written", func() {
			locks := &lockRecorder{Manager: s.Manager()}
			lp := persister.New(&lockingStore{Store: s, manager: locks}, zap.NewNop().Sugar())

			_, err := lp.Commit(context.TODO(), managerID, parse(collectortest.Lab()))
			Expect(err).To(BeNil())
			_, err = lp.Commit(context.TODO(), managerID, parse(collectortest.Lab(), collector.WithTargets(100)))
			Expect(err).To(BeNil())

			Expect(locks.managers).To(Equal([]uuid.UUID{managerID, managerID}))
			Expect(locks.clusters).To(Equal([]int{0, 1}))
		})

		It("writes nothing when the lock cannot be taken", func() {
			locks := &lockRecorder{Manager: s.Manager(), err: errors.New("lock timeout")}
			lp := persister.New(&lockingStore{Store: s, manager: locks}, zap.NewNop().Sugar())

			_, err := lp.Commit(context.TODO(), managerID, parse(collectortest.Lab()))
			Expect(err).To(MatchError(ContainSubstring("lock timeout")))
			Expect(count("vms")).To(BeZero())
		})
	})
})

type lockingStore struct {
	store.Store
	manager store.Manager
}

func (l *lockingStore) Manager() store.Manager { return l.manager }

// lockRecorder counts the clusters visible in the transaction when the lock is taken.
type lockRecorder struct {
	store.Manager
	err      error
	managers []uuid.UUID
	clusters []int
}

func (l *lockRecorder) Lock(ctx context.Context, id uuid.UUID) error {
	tx := store.FromContext(ctx)
	Expect(tx).ToNot(BeNil())

	n := -1
	Expect(tx.Raw("SELECT COUNT(*) FROM clusters;").Scan(&n).Error).To(BeNil())
	l.managers = append(l.managers, id)
	l.clusters = append(l.clusters, n)
	if l.err != nil {
		return l.err
	}
	return l.Manager.Lock(ctx, id)
}
