package task_test

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kubev2v/proxmox-manager/internal/config"
	"github.com/kubev2v/proxmox-manager/internal/proxmox"
	"github.com/kubev2v/proxmox-manager/internal/queue"
	"github.com/kubev2v/proxmox-manager/internal/store"
	"github.com/kubev2v/proxmox-manager/internal/store/model"
	"github.com/kubev2v/proxmox-manager/internal/task"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var _ = Describe("task machine", Ordered, func() {
	var (
		s         store.Store
		gormdb    *gorm.DB
		api       *fakeAPI
		q         *fakeQueue
		m         *task.Machine
		managerID uuid.UUID
		connErr   error
	)

	progress := func(id uuid.UUID) (*model.Task, task.Progress) {
		t, err := s.Task().Get(context.TODO(), id)
		Expect(err).To(BeNil())
		p, err := task.DecodeProgress(t.Context)
		Expect(err).To(BeNil())
		return t, p
	}

	submit := func(op string, p task.Progress) uuid.UUID {
		t, err := m.Submit(context.TODO(), task.Request{Operation: op, ManagerID: managerID, Userid: "admin", Progress: p})
		Expect(err).To(BeNil())
		return t.ID
	}

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

	BeforeEach(func() {
		api = newFakeAPI()
		q = &fakeQueue{}
		connErr = nil
		managerID = uuid.New()
		m = task.NewMachine(s, q, func(ctx context.Context, id uuid.UUID) (task.API, error) {
			if connErr != nil {
				return nil, connErr
			}
			return api, nil
		}, task.WithLogger(zap.NewNop().Sugar()))
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM tasks;")
		gormdb.Exec("DELETE FROM snapshots;")
	})

	Context("submit", func() {
		It("records a queued task and its first step", func() {
			id := submit(task.OperationSnapshotRemove, task.Progress{Node: "pve1", VMID: 100, Snapshot: "before-upgrade"})

			t, p := progress(id)
			Expect(t.State).To(Equal(model.TaskStateQueued))
			Expect(t.Userid).To(Equal("admin"))
			Expect(p.Phase).To(Equal(task.PhaseInit))
			Expect(p.Snapshot).To(Equal("before-upgrade"))

			steps := q.byHandler(queue.HandlerTaskStep)
			Expect(steps).To(HaveLen(1))
			Expect(steps[0].Target).To(Equal(id.String()))
		})

		It("refuses unknown operations", func() {
			_, err := m.Submit(context.TODO(), task.Request{Operation: "power_on", ManagerID: managerID})
			Expect(errors.Is(err, task.ErrUnknownOperation)).To(BeTrue())
		})
	})

	Context("init phase", func() {
		It("issues the operation and schedules the first poll", func() {
			id := submit(task.OperationSnapshotRemove, task.Progress{Node: "pve1", VMID: 100, Snapshot: "before-upgrade"})
			q.reset()

			before := time.Now()
			Expect(m.Step(context.TODO(), id)).To(BeNil())

			Expect(api.count("DeleteSnapshot")).To(Equal(1))
			Expect(api.last).To(Equal([]any{"pve1", 100, "before-upgrade"}))

			t, p := progress(id)
			Expect(t.State).To(Equal(model.TaskStateActive))
			Expect(t.Message).To(Equal("Snapshot deletion initiated on Proxmox (Task ID: " + testUPID.String() + "). Waiting for completion..."))
			Expect(p.Phase).To(Equal(task.PhasePolling))
			Expect(p.UPID).To(Equal(testUPID.String()))

			steps := q.byHandler(queue.HandlerTaskStep)
			Expect(steps).To(HaveLen(1))
			Expect(delayOf(steps[0], before)).To(BeNumerically("~", task.DefaultInitialDelay, time.Second))
		})

		It("issues a single operation for concurrent deliveries", func() {
			id := submit(task.OperationSnapshotRevert, task.Progress{Node: "pve1", VMID: 100, Snapshot: "before-upgrade"})
			q.reset()

			api.block = make(chan struct{})
			api.started = make(chan struct{})

			done := make(chan error)
			go func() {
				defer GinkgoRecover()
				done <- m.Step(context.TODO(), id)
			}()
			Eventually(api.started).Should(BeClosed())

			Expect(m.Step(context.TODO(), id)).To(BeNil())
			close(api.block)
			Eventually(done).Should(Receive(BeNil()))

			Expect(api.count("RollbackSnapshot")).To(Equal(1))
			Expect(q.byHandler(queue.HandlerTaskStep)).To(HaveLen(1))
			_, p := progress(id)
			Expect(p.UPID).To(Equal(testUPID.String()))
		})

		It("does not issue again when a handle is recorded", func() {
			id := submit(task.OperationSnapshotRemove, task.Progress{Node: "pve1", VMID: 100, Snapshot: "s1"})
			t, _ := progress(id)
			t.Context = task.Progress{Phase: task.PhaseInit, UPID: testUPID.String(), Node: "pve1", VMID: 100, Snapshot: "s1"}.Encode()
			_, err := s.Task().Update(context.TODO(), *t)
			Expect(err).To(BeNil())
			q.reset()

			Expect(m.Step(context.TODO(), id)).To(BeNil())
			Expect(api.count("DeleteSnapshot")).To(BeZero())

			_, p := progress(id)
			Expect(p.Phase).To(Equal(task.PhasePolling))
			Expect(q.byHandler(queue.HandlerTaskStep)).To(HaveLen(1))
		})

		It("leaves the task untouched on transport errors", func() {
			id := submit(task.OperationDiskResize, task.Progress{Node: "pve1", VMID: 100, Disk: "scsi0", Size: "40G"})
			q.reset()
			api.startErr = errors.New("connection reset by peer")

			Expect(m.Step(context.TODO(), id)).NotTo(BeNil())
			t, p := progress(id)
			Expect(t.State).To(Equal(model.TaskStateQueued))
			Expect(p.Phase).To(Equal(task.PhaseInit))
			Expect(p.UPID).To(BeEmpty())
			Expect(q.messages).To(BeEmpty())

			// the lease is released so a redelivery proceeds
			api.startErr = nil
			Expect(m.Step(context.TODO(), id)).To(BeNil())
			Expect(api.count("ResizeDisk")).To(Equal(2))
			_, p = progress(id)
			Expect(p.Phase).To(Equal(task.PhasePolling))
		})

		It("returns connection errors for redelivery", func() {
			id := submit(task.OperationDiskResize, task.Progress{Node: "pve1", VMID: 100, Disk: "scsi0", Size: "40G"})
			connErr = proxmox.ErrInvalidCredentials

			Expect(m.Step(context.TODO(), id)).To(MatchError(proxmox.ErrInvalidCredentials))
			t, _ := progress(id)
			Expect(t.State).To(Equal(model.TaskStateQueued))
		})

		It("fails the task when the api rejects the request", func() {
			id := submit(task.OperationDiskResize, task.Progress{Node: "pve1", VMID: 100, Disk: "scsi0", Size: "40G"})
			q.reset()
			api.startErr = &proxmox.APIError{Method: http.MethodPut, Path: "/nodes/pve1/qemu/100/resize", StatusCode: http.StatusBadRequest, Message: "shrinking disks is not supported"}

			Expect(m.Step(context.TODO(), id)).To(BeNil())
			t, p := progress(id)
			Expect(t.State).To(Equal(model.TaskStateFinished))
			Expect(t.Status).To(Equal(model.TaskStatusError))
			Expect(t.Message).To(ContainSubstring("shrinking disks is not supported"))
			Expect(p.Phase).To(Equal(task.PhaseFailed))
			Expect(q.messages).To(BeEmpty())
		})

		It("finishes synchronous operations at once", func() {
			id := submit(task.OperationDiskResize, task.Progress{Node: "pve1", VMID: 100, VMRef: "100", Disk: "scsi0", Size: "40G"})
			q.reset()
			api.upid = ""

			Expect(m.Step(context.TODO(), id)).To(BeNil())
			t, p := progress(id)
			Expect(t.State).To(Equal(model.TaskStateFinished))
			Expect(t.Status).To(Equal(model.TaskStatusOk))
			Expect(t.Message).To(Equal("Disk resize completed successfully."))
			Expect(p.Phase).To(Equal(task.PhaseDone))
			Expect(api.count("TaskStatus")).To(BeZero())
			Expect(q.byHandler(queue.HandlerRefresh)).To(HaveLen(1))
		})
	})

	Context("polling phase", func() {
		var id uuid.UUID

		BeforeEach(func() {
			id = submit(task.OperationSnapshotRemove, task.Progress{Node: "pve1", VMID: 100, VMRef: "100", Snapshot: "before-upgrade"})
			Expect(m.Step(context.TODO(), id)).To(BeNil())
			q.reset()
		})

		It("schedules exactly one continuation while the operation runs", func() {
			before := time.Now()
			Expect(m.Step(context.TODO(), id)).To(BeNil())

			t, p := progress(id)
			Expect(t.State).To(Equal(model.TaskStateActive))
			Expect(p.Phase).To(Equal(task.PhasePolling))

			steps := q.byHandler(queue.HandlerTaskStep)
			Expect(steps).To(HaveLen(1))
			Expect(delayOf(steps[0], before)).To(BeNumerically("~", task.DefaultPollDelay, time.Second))
			Expect(q.byHandler(queue.HandlerRefresh)).To(BeEmpty())
		})

		It("fails without continuation when the operation stopped with an error", func() {
			api.status = &proxmox.TaskStatus{Status: proxmox.TaskStopped, ExitStatus: "snapshot 'before-upgrade' does not exist"}

			Expect(m.Step(context.TODO(), id)).To(BeNil())
			t, p := progress(id)
			Expect(t.State).To(Equal(model.TaskStateFinished))
			Expect(t.Status).To(Equal(model.TaskStatusError))
			Expect(t.Message).To(Equal("Snapshot deletion failed on Proxmox. Final Status: 'snapshot 'before-upgrade' does not exist'"))
			Expect(p.Phase).To(Equal(task.PhaseFailed))
			Expect(q.messages).To(BeEmpty())
		})

		It("fails on an unrecognized status", func() {
			api.status = &proxmox.TaskStatus{Status: "unknown"}

			Expect(m.Step(context.TODO(), id)).To(BeNil())
			t, _ := progress(id)
			Expect(t.Status).To(Equal(model.TaskStatusError))
			Expect(t.Message).To(ContainSubstring("'unknown'"))
			Expect(q.messages).To(BeEmpty())
		})

		It("completes, applies the side effect and queues a refresh", func() {
			snapshotID := uuid.New()
			Expect(gormdb.Create(&model.Snapshot{ID: snapshotID, ManagerID: managerID, UID: "100_before-upgrade", Name: "before-upgrade"}).Error).To(BeNil())

			t, p := progress(id)
			p.SnapshotID = snapshotID.String()
			t.Context = p.Encode()
			_, err := s.Task().Update(context.TODO(), *t)
			Expect(err).To(BeNil())

			api.status = &proxmox.TaskStatus{Status: proxmox.TaskStopped, ExitStatus: proxmox.TaskExitOK}
			Expect(m.Step(context.TODO(), id)).To(BeNil())

			t, p = progress(id)
			Expect(t.State).To(Equal(model.TaskStateFinished))
			Expect(t.Status).To(Equal(model.TaskStatusOk))
			Expect(t.Message).To(Equal("Snapshot deletion completed successfully."))
			Expect(p.Phase).To(Equal(task.PhaseDone))

			_, err = s.Inventory().GetSnapshot(context.TODO(), snapshotID)
			Expect(errors.Is(err, store.ErrRecordNotFound)).To(BeTrue())

			refresh := q.byHandler(queue.HandlerRefresh)
			Expect(refresh).To(HaveLen(1))
			Expect(refresh[0].Target).To(Equal(managerID.String()))
			Expect(refresh[0].Args).To(Equal([]string{"100"}))
			Expect(refresh[0].Scope).To(Equal(managerID.String() + "/100@task/" + id.String()))
			Expect(q.byHandler(queue.HandlerTaskStep)).To(BeEmpty())
		})

		It("keeps the phase on transport errors", func() {
			api.statErr = errors.New("i/o timeout")

			Expect(m.Step(context.TODO(), id)).NotTo(BeNil())
			t, p := progress(id)
			Expect(t.State).To(Equal(model.TaskStateActive))
			Expect(p.Phase).To(Equal(task.PhasePolling))
			Expect(p.UPID).To(Equal(testUPID.String()))
			Expect(q.messages).To(BeEmpty())
		})

		It("never steps a finished task again", func() {
			api.status = &proxmox.TaskStatus{Status: proxmox.TaskStopped, ExitStatus: proxmox.TaskExitOK}
			Expect(m.Step(context.TODO(), id)).To(BeNil())
			q.reset()
			polls := api.count("TaskStatus")

			Expect(m.Step(context.TODO(), id)).To(BeNil())
			Expect(api.count("TaskStatus")).To(Equal(polls))
			Expect(q.messages).To(BeEmpty())
		})
	})

	Context("queue delivery", func() {
		It("drops malformed targets", func() {
			Expect(m.Handler()(context.TODO(), queue.StepMessage("not-a-uuid"))).To(BeNil())
		})

		It("ignores unknown tasks", func() {
			Expect(m.Handler()(context.TODO(), queue.StepMessage(uuid.NewString()))).To(BeNil())
		})
	})
})
