package store_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kubev2v/proxmox-manager/internal/config"
	"github.com/kubev2v/proxmox-manager/internal/store"
	"github.com/kubev2v/proxmox-manager/internal/store/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

const (
	insertManagerStm = "INSERT INTO managers (id, name, hostname, port, username, password, verify_ssl, created_at, updated_at, last_refresh_error) VALUES ('%s', '%s', '%s', 8006, 'root@pam', 'secret', false, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, '');"
)

var _ = Describe("manager store", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
	)

	BeforeAll(func() {
		db, err := store.InitDB(config.NewDefault())
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration(context.TODO())).To(BeNil())
	})

	AfterAll(func() {
		s.Close()
	})

	Context("list", func() {
		It("successfully list all the managers ordered by name", func() {
			tx := gormdb.Exec(fmt.Sprintf(insertManagerStm, uuid.NewString(), "zeta", "pve-z.lab"))
			Expect(tx.Error).To(BeNil())
			tx = gormdb.Exec(fmt.Sprintf(insertManagerStm, uuid.NewString(), "alpha", "pve-a.lab"))
			Expect(tx.Error).To(BeNil())

			managers, err := s.Manager().List(context.TODO(), store.NewManagerQueryFilter())
			Expect(err).To(BeNil())
			Expect(managers).To(HaveLen(2))
			Expect(managers[0].Name).To(Equal("alpha"))
			Expect(managers[1].Name).To(Equal("zeta"))
		})

		It("filters by hostname", func() {
			tx := gormdb.Exec(fmt.Sprintf(insertManagerStm, uuid.NewString(), "one", "pve-1.lab"))
			Expect(tx.Error).To(BeNil())
			tx = gormdb.Exec(fmt.Sprintf(insertManagerStm, uuid.NewString(), "two", "pve-2.lab"))
			Expect(tx.Error).To(BeNil())

			managers, err := s.Manager().List(context.TODO(), store.NewManagerQueryFilter().ByHostname("pve-2.lab"))
			Expect(err).To(BeNil())
			Expect(managers).To(HaveLen(1))
			Expect(managers[0].Name).To(Equal("two"))
		})

		It("list all the managers -- no managers to be found in the db", func() {
			managers, err := s.Manager().List(context.TODO(), nil)
			Expect(err).To(BeNil())
			Expect(managers).To(HaveLen(0))
		})

		AfterEach(func() {
			gormdb.Exec("DELETE FROM managers;")
		})
	})

	Context("get", func() {
		It("successfully get a manager", func() {
			id := uuid.New()
			tx := gormdb.Exec(fmt.Sprintf(insertManagerStm, id, "lab", "pve.lab"))
			Expect(tx.Error).To(BeNil())

			manager, err := s.Manager().Get(context.TODO(), id)
			Expect(err).To(BeNil())
			Expect(manager.Name).To(Equal("lab"))
			Expect(manager.Port).To(Equal(8006))
			Expect(manager.Password).To(Equal("secret"))
		})

		It("fails with not found", func() {
			_, err := s.Manager().Get(context.TODO(), uuid.New())
			Expect(errors.Is(err, store.ErrRecordNotFound)).To(BeTrue())
		})

		AfterEach(func() {
			gormdb.Exec("DELETE FROM managers;")
		})
	})

	Context("create and update", func() {
		It("creates a manager with a generated id", func() {
			manager, err := s.Manager().Create(context.TODO(), model.Manager{Name: "lab", Hostname: "pve.lab", Port: 8006, Username: "root@pam"})
			Expect(err).To(BeNil())
			Expect(manager.ID).NotTo(Equal(uuid.Nil))

			count := 0
			tx := gormdb.Raw("SELECT COUNT(*) FROM managers;").Scan(&count)
			Expect(tx.Error).To(BeNil())
			Expect(count).To(Equal(1))
		})

		It("rejects a duplicated name", func() {
			_, err := s.Manager().Create(context.TODO(), model.Manager{Name: "lab", Hostname: "pve.lab", Port: 8006, Username: "root@pam"})
			Expect(err).To(BeNil())

			_, err = s.Manager().Create(context.TODO(), model.Manager{Name: "lab", Hostname: "other.lab", Port: 8006, Username: "root@pam"})
			Expect(errors.Is(err, store.ErrDuplicateKey)).To(BeTrue())
		})

		It("updates the connection fields", func() {
			id := uuid.New()
			tx := gormdb.Exec(fmt.Sprintf(insertManagerStm, id, "lab", "pve.lab"))
			Expect(tx.Error).To(BeNil())

			updated, err := s.Manager().Update(context.TODO(), model.Manager{ID: id, Name: "lab", Hostname: "pve2.lab", Port: 443, Username: "admin@pve", Password: "new", VerifySSL: true})
			Expect(err).To(BeNil())
			Expect(updated.Hostname).To(Equal("pve2.lab"))
			Expect(updated.Port).To(Equal(443))
			Expect(updated.VerifySSL).To(BeTrue())
		})

		It("records the outcome of a refresh", func() {
			id := uuid.New()
			tx := gormdb.Exec(fmt.Sprintf(insertManagerStm, id, "lab", "pve.lab"))
			Expect(tx.Error).To(BeNil())

			at := time.Now().UTC().Truncate(time.Second)
			Expect(s.Manager().RecordRefresh(context.TODO(), id, at, errors.New("connection refused"))).To(BeNil())

			manager, err := s.Manager().Get(context.TODO(), id)
			Expect(err).To(BeNil())
			Expect(manager.LastRefreshAt).NotTo(BeNil())
			Expect(manager.LastRefreshAt.Equal(at)).To(BeTrue())
			Expect(manager.LastRefreshError).To(Equal("connection refused"))

			Expect(s.Manager().RecordRefresh(context.TODO(), id, at, nil)).To(BeNil())
			manager, err = s.Manager().Get(context.TODO(), id)
			Expect(err).To(BeNil())
			Expect(manager.LastRefreshError).To(BeEmpty())
		})

		AfterEach(func() {
			gormdb.Exec("DELETE FROM managers;")
		})
	})

	Context("delete", func() {
		It("removes the manager together with its inventory and tasks", func() {
			id := uuid.New()
			tx := gormdb.Exec(fmt.Sprintf(insertManagerStm, id, "lab", "pve.lab"))
			Expect(tx.Error).To(BeNil())

			vmID := model.EntityID(id, model.KindVM, "100")
			hwID := model.ChildID(vmID, "hardware", "")
			Expect(gormdb.Create(&model.VM{ID: vmID, ManagerID: id, EmsRef: "100"}).Error).To(BeNil())
			Expect(gormdb.Create(&model.Hardware{ID: hwID, VMID: vmID}).Error).To(BeNil())
			Expect(gormdb.Create(&model.Disk{ID: uuid.New(), HardwareID: hwID, DeviceName: "scsi0"}).Error).To(BeNil())
			Expect(gormdb.Create(&model.Snapshot{ID: uuid.New(), ManagerID: id, UID: "100_a", VMID: &vmID}).Error).To(BeNil())
			Expect(gormdb.Create(&model.Task{ID: uuid.New(), ManagerID: id, Name: "snapshot_remove", State: model.TaskStateFinished}).Error).To(BeNil())

			Expect(s.Manager().Delete(context.TODO(), id)).To(BeNil())

			for _, table := range []string{"managers", "vms", "hardwares", "disks", "snapshots", "tasks"} {
				count := -1
				tx := gormdb.Raw(fmt.Sprintf("SELECT COUNT(*) FROM %s;", table)).Scan(&count)
				Expect(tx.Error).To(BeNil())
				Expect(count).To(Equal(0), table)
			}
		})

		It("fails with not found for an unknown manager", func() {
			err := s.Manager().Delete(context.TODO(), uuid.New())
			Expect(errors.Is(err, store.ErrRecordNotFound)).To(BeTrue())
		})
	})

	Context("lock", func() {
		It("locks a manager inside a transaction", func() {
			id := uuid.New()
			tx := gormdb.Exec(fmt.Sprintf(insertManagerStm, id, "lab", "pve.lab"))
			Expect(tx.Error).To(BeNil())

			ctx, err := s.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())
			Expect(s.Manager().Lock(ctx, id)).To(Succeed())
			Expect(s.Manager().Lock(ctx, uuid.New())).To(Succeed())
			_, err = store.Rollback(ctx)
			Expect(err).To(BeNil())
		})

		It("requires a transaction", func() {
			err := s.Manager().Lock(context.TODO(), uuid.New())
			Expect(errors.Is(err, store.ErrNoTransaction)).To(BeTrue())
		})

		AfterEach(func() {
			gormdb.Exec("DELETE FROM managers;")
		})
	})
})
