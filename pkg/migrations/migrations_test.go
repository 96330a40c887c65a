package migrations_test

import (
	"os"
	"path"

	"github.com/kubev2v/proxmox-manager/internal/config"
	"github.com/kubev2v/proxmox-manager/internal/store"
	"github.com/kubev2v/proxmox-manager/pkg/migrations"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("migrations", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
	)

	BeforeAll(func() {
		db, err := store.InitDB(config.NewDefault())
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
	})

	AfterAll(func() {
		s.Close()
	})

	tableExists := func(name string) bool {
		var count int64
		tx := gormdb.Raw("SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&count)
		Expect(tx.Error).To(BeNil())
		return count == 1
	}

	Context("store migrations", Ordered, func() {
		It("fails to migrate the db -- migration folder does not exist", func() {
			err := migrations.MigrateStore(gormdb, "some folder", nil)
			Expect(err).NotTo(BeNil())
		})

		It("fails to migrate the db -- migration folder is a file", func() {
			currentFolder, err := os.Getwd()
			Expect(err).To(BeNil())

			err = migrations.MigrateStore(gormdb, path.Join(currentFolder, "migrations.go"), nil)
			Expect(err).NotTo(BeNil())
		})

		It("successfully migrates the db from a folder", func() {
			currentFolder, err := os.Getwd()
			Expect(err).To(BeNil())

			err = migrations.MigrateStore(gormdb, path.Join(currentFolder, "sql"), nil)
			Expect(err).To(BeNil())

			for _, table := range []string{"managers", "hosts", "vms", "hardwares", "disks", "snapshots", "tasks"} {
				Expect(tableExists(table)).To(BeTrue(), table)
			}
		})

		It("successfully migrates the db from the embedded migrations", func() {
			err := migrations.MigrateStore(gormdb, "", nil)
			Expect(err).To(BeNil())

			Expect(tableExists("storages")).To(BeTrue())
			Expect(tableExists("goose_db_version")).To(BeTrue())
		})

		It("does not reapply migrations", func() {
			Expect(migrations.MigrateStore(gormdb, "", nil)).To(Succeed())
		})

		AfterAll(func() {
			for _, table := range []string{"snapshots", "guest_networks", "network_adapters", "disks", "hardwares", "vms", "storages", "hosts", "clusters", "tasks", "managers", "goose_db_version"} {
				gormdb.Exec("DROP TABLE IF EXISTS " + table)
			}
		})
	})
})
