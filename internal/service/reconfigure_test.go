package service_test

import (
	"context"
	"reflect"

	"github.com/kubev2v/proxmox-manager/internal/config"
	"github.com/kubev2v/proxmox-manager/internal/queue"
	"github.com/kubev2v/proxmox-manager/internal/service"
	"github.com/kubev2v/proxmox-manager/internal/store"
	"github.com/kubev2v/proxmox-manager/internal/store/model"
	"github.com/kubev2v/proxmox-manager/internal/task"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func ptr[T any](v T) *T { return &v }

var _ = Describe("reconfigure service", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
		remote *fakeRemote
		q      *recordingQueue
		srv    *service.ReconfigureService
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

	BeforeEach(func() {
		remote = &fakeRemote{}
		q = &recordingQueue{}
		machine := task.NewMachine(s, q, nil, task.WithLogger(zap.NewNop().Sugar()))
		srv = service.NewReconfigureService(s, q, machine, remote.connect(), zap.NewNop().Sugar())
	})

	AfterEach(func() {
		cleanup(gormdb)
	})

	Context("build spec", func() {
		vm := &model.VM{Hardware: &model.Hardware{CPUCoresPerSocket: 4}}

		It("rounds sockets up from the cpu count", func() {
			spec, err := srv.BuildSpec(vm, service.ReconfigureOptions{NumberOfCPUs: ptr(6), CoresPerSocket: ptr(4)})
			Expect(err).To(BeNil())
			Expect(spec.Cores).To(Equal(4))
			Expect(spec.Sockets).To(Equal(2))
		})

		It("keeps the current cores per socket", func() {
			spec, err := srv.BuildSpec(vm, service.ReconfigureOptions{NumberOfCPUs: ptr(9)})
			Expect(err).To(BeNil())
			Expect(spec.Cores).To(Equal(4))
			Expect(spec.Sockets).To(Equal(3))
		})

		It("falls back to one core per socket", func() {
			spec, err := srv.BuildSpec(&model.VM{}, service.ReconfigureOptions{NumberOfCPUs: ptr(3)})
			Expect(err).To(BeNil())
			Expect(spec.Cores).To(Equal(1))
			Expect(spec.Sockets).To(Equal(3))
		})

		It("maps the scalar options to config parameters", func() {
			spec, err := srv.BuildSpec(vm, service.ReconfigureOptions{
				MemoryMB:    ptr(int64(4096)),
				CPUType:     "host",
				Description: ptr("web frontend"),
				OnBoot:      ptr(true),
				BootOrder:   "order=scsi0;net0",
				Protection:  ptr(false),
			})
			Expect(err).To(BeNil())

			values := spec.Values()
			Expect(values.Get("memory")).To(Equal("4096"))
			Expect(values.Get("cpu")).To(Equal("host"))
			Expect(values.Get("description")).To(Equal("web frontend"))
			Expect(values.Get("onboot")).To(Equal("1"))
			Expect(values.Get("boot")).To(Equal("order=scsi0;net0"))
			Expect(values.Get("protection")).To(Equal("0"))
			Expect(values.Has("cores")).To(BeFalse())
		})

		DescribeTable("rejects options out of bounds",
			func(opts service.ReconfigureOptions) {
				_, err := srv.BuildSpec(vm, opts)
				Expect(reflect.TypeOf(err)).To(Equal(reflect.TypeOf(&service.ErrInvalidRequest{})))
			},
			Entry("too many cpus", service.ReconfigureOptions{NumberOfCPUs: ptr(129)}),
			Entry("no cpu", service.ReconfigureOptions{NumberOfCPUs: ptr(0)}),
			Entry("too many cores", service.ReconfigureOptions{CoresPerSocket: ptr(129)}),
			Entry("too much memory", service.ReconfigureOptions{MemoryMB: ptr(int64(service.MaxMemoryMB + 1))}),
			Entry("nameless disk", service.ReconfigureOptions{DisksResize: []service.DiskResize{{SizeMB: 1024}}}),
			Entry("empty change", service.ReconfigureOptions{}),
		)
	})

	Context("resize disk", func() {
		It("submits a resize task in whole GiB", func() {
			f := seed(gormdb, "on")

			t, err := srv.ResizeDisk(context.TODO(), f.vm.ID, "scsi0", 40*1024+1, "admin")
			Expect(err).To(BeNil())
			Expect(t.Name).To(Equal(task.OperationDiskResize))

			p, err := task.DecodeProgress(t.Context)
			Expect(err).To(BeNil())
			Expect(p.Disk).To(Equal("scsi0"))
			Expect(p.Size).To(Equal("41G"))
			Expect(p.Node).To(Equal("pve1"))
			Expect(p.VMID).To(Equal(100))
		})

		It("rejects shrinking", func() {
			f := seed(gormdb, "on")

			_, err := srv.ResizeDisk(context.TODO(), f.vm.ID, "scsi0", 32*1024, "admin")
			Expect(reflect.TypeOf(err)).To(Equal(reflect.TypeOf(&service.ErrInvalidRequest{})))
			Expect(q.messages).To(BeEmpty())
		})

		It("does not find unknown disks", func() {
			f := seed(gormdb, "on")

			_, err := srv.ResizeDisk(context.TODO(), f.vm.ID, "virtio9", 64*1024, "admin")
			Expect(reflect.TypeOf(err)).To(Equal(reflect.TypeOf(&service.ErrResourceNotFound{})))
		})
	})

	Context("reconfigure", func() {
		It("applies the config and starts one task per disk", func() {
			f := seed(gormdb, "off")

			tasks, err := srv.Reconfigure(context.TODO(), f.vm.ID, service.ReconfigureOptions{
				NumberOfCPUs: ptr(8),
				MemoryMB:     ptr(int64(8192)),
				DisksResize:  []service.DiskResize{{Disk: "scsi0", SizeMB: 64 * 1024}},
			}, "admin")
			Expect(err).To(BeNil())
			Expect(tasks).To(HaveLen(1))
			Expect(tasks[0].Name).To(Equal(task.OperationDiskResize))

			Expect(remote.configs).To(HaveLen(1))
			Expect(remote.configs[0].Get("cores")).To(Equal("4"))
			Expect(remote.configs[0].Get("sockets")).To(Equal("2"))
			Expect(remote.configs[0].Get("memory")).To(Equal("8192"))

			Expect(q.handled(queue.HandlerRefresh)).To(HaveLen(1))
			Expect(q.handled(queue.HandlerTaskStep)).To(HaveLen(1))
		})

		It("sends nothing when a resize is invalid", func() {
			f := seed(gormdb, "off")

			_, err := srv.Reconfigure(context.TODO(), f.vm.ID, service.ReconfigureOptions{
				MemoryMB:    ptr(int64(8192)),
				DisksResize: []service.DiskResize{{Disk: "scsi0", SizeMB: 1024}},
			}, "admin")
			Expect(reflect.TypeOf(err)).To(Equal(reflect.TypeOf(&service.ErrInvalidRequest{})))
			Expect(remote.configs).To(BeEmpty())
			Expect(q.messages).To(BeEmpty())
		})

		It("only resizes when no scalar change is requested", func() {
			f := seed(gormdb, "off")

			tasks, err := srv.Reconfigure(context.TODO(), f.vm.ID, service.ReconfigureOptions{
				DisksResize: []service.DiskResize{{Disk: "scsi0", SizeMB: 48 * 1024}},
			}, "admin")
			Expect(err).To(BeNil())
			Expect(tasks).To(HaveLen(1))
			Expect(remote.configs).To(BeEmpty())
		})
	})
})
