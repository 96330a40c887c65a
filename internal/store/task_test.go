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
	insertTaskStm = "INSERT INTO tasks (id, name, state, status, message, context, manager_id, lease_until, created_at, updated_at) VALUES ('%s', 'snapshot_remove', '%s', '', '', '{}', '%s', %d, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);"
)

var _ = Describe("task store", Ordered, func() {
	var (
		s         store.Store
		gormdb    *gorm.DB
		managerID uuid.UUID
	)

	BeforeAll(func() {
		db, err := store.InitDB(config.NewDefault())
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration(context.TODO())).To(BeNil())
		managerID = uuid.New()
	})

	AfterAll(func() {
		s.Close()
	})

	Context("create and get", func() {
		It("creates a queued task", func() {
			vmID := uuid.New()
			task, err := s.Task().Create(context.TODO(), model.Task{
				Name:      "snapshot_remove",
				ManagerID: managerID,
				VMID:      &vmID,
				Context:   []byte(`{"phase":"init"}`),
			})
			Expect(err).To(BeNil())
			Expect(task.ID).NotTo(Equal(uuid.Nil))
			Expect(task.State).To(Equal(model.TaskStateQueued))

			got, err := s.Task().Get(context.TODO(), task.ID)
			Expect(err).To(BeNil())
			Expect(got.Name).To(Equal("snapshot_remove"))
			Expect(*got.VMID).To(Equal(vmID))
			Expect(string(got.Context)).To(MatchJSON(`{"phase":"init"}`))
		})

		It("fails with not found", func() {
			_, err := s.Task().Get(context.TODO(), uuid.New())
			Expect(errors.Is(err, store.ErrRecordNotFound)).To(BeTrue())
		})

		It("lists tasks by state", func() {
			tx := gormdb.Exec(fmt.Sprintf(insertTaskStm, uuid.NewString(), model.TaskStateActive, managerID, 0))
			Expect(tx.Error).To(BeNil())
			tx = gormdb.Exec(fmt.Sprintf(insertTaskStm, uuid.NewString(), model.TaskStateFinished, managerID, 0))
			Expect(tx.Error).To(BeNil())

			tasks, err := s.Task().List(context.TODO(), store.NewTaskQueryFilter().ByManagerID(managerID).ByState(model.TaskStateActive))
			Expect(err).To(BeNil())
			Expect(tasks).To(HaveLen(1))
			Expect(tasks[0].State).To(Equal(model.TaskStateActive))
		})

		AfterEach(func() {
			gormdb.Exec("DELETE FROM tasks;")
		})
	})

	Context("update", func() {
		It("writes state, status, message and context", func() {
			id := uuid.New()
			tx := gormdb.Exec(fmt.Sprintf(insertTaskStm, id, model.TaskStateActive, managerID, 0))
			Expect(tx.Error).To(BeNil())

			task, err := s.Task().Update(context.TODO(), model.Task{
				ID:      id,
				State:   model.TaskStateFinished,
				Status:  model.TaskStatusOk,
				Message: "Snapshot deletion completed successfully.",
				Context: []byte(`{"phase":"done"}`),
			})
			Expect(err).To(BeNil())
			Expect(task.State).To(Equal(model.TaskStateFinished))
			Expect(task.Status).To(Equal(model.TaskStatusOk))
			Expect(task.Message).To(Equal("Snapshot deletion completed successfully."))
			Expect(task.Name).To(Equal("snapshot_remove"))
		})

		It("fails with not found", func() {
			_, err := s.Task().Update(context.TODO(), model.Task{ID: uuid.New(), State: model.TaskStateActive})
			Expect(errors.Is(err, store.ErrRecordNotFound)).To(BeTrue())
		})

		AfterEach(func() {
			gormdb.Exec("DELETE FROM tasks;")
		})
	})

	Context("claim", func() {
		It("grants a single lease until it is released", func() {
			id := uuid.New()
			tx := gormdb.Exec(fmt.Sprintf(insertTaskStm, id, model.TaskStateQueued, managerID, 0))
			Expect(tx.Error).To(BeNil())

			now := time.Now()
			claimed, err := s.Task().Claim(context.TODO(), id, now, time.Minute)
			Expect(err).To(BeNil())
			Expect(claimed).To(BeTrue())

			claimed, err = s.Task().Claim(context.TODO(), id, now, time.Minute)
			Expect(err).To(BeNil())
			Expect(claimed).To(BeFalse())

			Expect(s.Task().Release(context.TODO(), id)).To(BeNil())
			claimed, err = s.Task().Claim(context.TODO(), id, now, time.Minute)
			Expect(err).To(BeNil())
			Expect(claimed).To(BeTrue())
		})

		It("grants the lease once the previous one expired", func() {
			id := uuid.New()
			tx := gormdb.Exec(fmt.Sprintf(insertTaskStm, id, model.TaskStateActive, managerID, time.Now().Add(-time.Minute).Unix()))
			Expect(tx.Error).To(BeNil())

			claimed, err := s.Task().Claim(context.TODO(), id, time.Now(), time.Minute)
			Expect(err).To(BeNil())
			Expect(claimed).To(BeTrue())
		})

		It("never grants a lease on a finished task", func() {
			id := uuid.New()
			tx := gormdb.Exec(fmt.Sprintf(insertTaskStm, id, model.TaskStateFinished, managerID, 0))
			Expect(tx.Error).To(BeNil())

			claimed, err := s.Task().Claim(context.TODO(), id, time.Now(), time.Minute)
			Expect(err).To(BeNil())
			Expect(claimed).To(BeFalse())
		})

		AfterEach(func() {
			gormdb.Exec("DELETE FROM tasks;")
		})
	})
})
