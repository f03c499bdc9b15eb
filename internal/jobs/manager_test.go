package jobs_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/conceptscan/conceptscan/internal/inference"
	"github.com/conceptscan/conceptscan/internal/jobs"
	st "github.com/conceptscan/conceptscan/internal/store"
	"github.com/conceptscan/conceptscan/internal/store/model"
)

var _ = Describe("job manager", func() {
	Context("full run", func() {
		It("processes every image and completes", func() {
			f := newFixture(3)
			f.backend.detections = []inference.Detection{
				{BBox: inference.Box{10, 10, 30, 25}, Score: 0.95},
				{BBox: inference.Box{5, 5, 15, 15}, Score: 0.55},
			}

			jobID := f.createJob(f.baseParams())
			job := f.runToCompletion(jobID)

			Expect(job.Status).To(Equal(model.JobStatusCompleted))
			Expect(job.ProcessedImages).To(Equal(3))
			Expect(job.TotalImages).To(Equal(3))
			Expect(job.StartedAt).NotTo(BeNil())
			Expect(job.FinishedAt).NotTo(BeNil())
			Expect(*job.CursorImageID).To(Equal(f.imageIDs[2] + 1))

			regions, err := f.store.Region().List(context.TODO(), st.NewRegionQueryFilter().ByJobID(jobID), st.NewRegionQueryOptions())
			Expect(err).To(BeNil())
			Expect(regions).To(HaveLen(6))
			for _, region := range regions {
				Expect(region.IsDemo).To(BeFalse())
				Expect(*region.ConceptID).To(Equal(f.conceptID))
			}
		})

		It("converts boxes to x/y/width/height", func() {
			f := newFixture(1)
			f.backend.detections = []inference.Detection{
				{BBox: inference.Box{10, 20, 30, 50}, Score: 0.9},
			}

			jobID := f.createJob(f.baseParams())
			f.runToCompletion(jobID)

			regions, err := f.store.Region().List(context.TODO(), st.NewRegionQueryFilter().ByJobID(jobID), st.NewRegionQueryOptions())
			Expect(err).To(BeNil())
			Expect(regions).To(HaveLen(1))
			Expect(regions[0].X).To(BeNumerically("~", 10))
			Expect(regions[0].Y).To(BeNumerically("~", 20))
			Expect(regions[0].Width).To(BeNumerically("~", 20))
			Expect(regions[0].Height).To(BeNumerically("~", 30))
		})

		It("truncates to the top scored detections", func() {
			f := newFixture(1)
			f.backend.detections = []inference.Detection{
				{Score: 0.4}, {Score: 0.9}, {Score: 0.6}, {Score: 0.8},
			}

			params := f.baseParams()
			two := 2
			params.MaxDetectionsPerImage = &two
			jobID := f.createJob(params)
			f.runToCompletion(jobID)

			regions, err := f.store.Region().List(context.TODO(), st.NewRegionQueryFilter().ByJobID(jobID), st.NewRegionQueryOptions())
			Expect(err).To(BeNil())
			Expect(regions).To(HaveLen(2))
			scores := []float64{regions[0].Score, regions[1].Score}
			Expect(scores).To(ConsistOf(0.9, 0.8))
		})

		It("rebuilds bucket statistics from real regions", func() {
			f := newFixture(2)
			f.backend.detections = []inference.Detection{
				{Score: 0.95},
				{Score: 0.55},
			}

			jobID := f.createJob(f.baseParams())
			f.runToCompletion(jobID)

			stats, err := f.store.JobStat().ListByJob(context.TODO(), jobID)
			Expect(err).To(BeNil())

			counts := map[string]model.JobStat{}
			for _, row := range stats {
				counts[row.BucketName] = row
			}
			// user confidence defaults to 0.5: 0.95 lands in max, 0.55 in min.
			Expect(counts["max"].CountRegions).To(Equal(2))
			Expect(counts["max"].CountImages).To(Equal(2))
			Expect(counts["min"].CountRegions).To(Equal(2))
			Expect(counts["min"].CountImages).To(Equal(2))
		})

		It("writes mask files and relative references", func() {
			f := newFixture(1)
			mask := writableMask()
			f.backend.detections = []inference.Detection{
				{BBox: inference.Box{1, 1, 5, 5}, Score: 0.9, Mask: mask},
			}

			jobID := f.createJob(f.baseParams())
			f.runToCompletion(jobID)

			regions, err := f.store.Region().List(context.TODO(), st.NewRegionQueryFilter().ByJobID(jobID), st.NewRegionQueryOptions())
			Expect(err).To(BeNil())
			Expect(regions).To(HaveLen(1))
			Expect(regions[0].MaskRef).NotTo(BeNil())

			expectedRef := filepath.Join(
				strconv.Itoa(int(jobID)),
				strconv.Itoa(int(regions[0].ImageID)),
				strconv.Itoa(int(regions[0].ID))+".png")
			Expect(*regions[0].MaskRef).To(Equal(expectedRef))

			_, err = os.Stat(filepath.Join(f.cfg.ResolveMasksDir(), expectedRef))
			Expect(err).To(BeNil())
		})

		It("persists regions in the original image dimensions", func() {
			// images are 64x48; a target long side of 32 halves the pixel
			// buffer before detection, so everything must scale back by 2
			f := newFixture(1)
			f.backend.detections = []inference.Detection{
				{BBox: inference.Box{4, 4, 8, 8}, Score: 0.9, Mask: writableMask()},
			}

			params := f.baseParams()
			target := 32
			params.TargetLongSide = &target
			jobID := f.createJob(params)
			job := f.runToCompletion(jobID)
			Expect(job.Status).To(Equal(model.JobStatusCompleted))

			regions, err := f.store.Region().List(context.TODO(), st.NewRegionQueryFilter().ByJobID(jobID), st.NewRegionQueryOptions())
			Expect(err).To(BeNil())
			Expect(regions).To(HaveLen(1))
			Expect(regions[0].X).To(BeNumerically("~", 8, 1e-9))
			Expect(regions[0].Y).To(BeNumerically("~", 8, 1e-9))
			Expect(regions[0].Width).To(BeNumerically("~", 8, 1e-9))
			Expect(regions[0].Height).To(BeNumerically("~", 8, 1e-9))

			Expect(regions[0].MaskRef).NotTo(BeNil())
			file, err := os.Open(filepath.Join(f.cfg.ResolveMasksDir(), *regions[0].MaskRef))
			Expect(err).To(BeNil())
			defer file.Close()
			mask, err := png.Decode(file)
			Expect(err).To(BeNil())
			Expect(mask.Bounds().Dx()).To(Equal(64))
			Expect(mask.Bounds().Dy()).To(Equal(48))
		})
	})

	Context("demo overlays", func() {
		It("writes synthetic regions when nothing is detected", func() {
			f := newFixture(1)
			f.backend.detections = nil

			params := f.baseParams()
			params.DemoMode = true
			params.DemoOverlays = &jobs.RawDemoOverlays{Enabled: true}
			jobID := f.createJob(params)
			f.runToCompletion(jobID)

			regions, err := f.store.Region().List(context.TODO(), st.NewRegionQueryFilter().ByJobID(jobID), st.NewRegionQueryOptions())
			Expect(err).To(BeNil())
			Expect(regions).To(HaveLen(3))
			for _, region := range regions {
				Expect(region.IsDemo).To(BeTrue())
				Expect(region.Score).To(BeZero())
				Expect(region.MaskRef).NotTo(BeNil())
			}
		})

		It("skips overlays when real detections exist", func() {
			f := newFixture(1)
			f.backend.detections = []inference.Detection{{Score: 0.9}}

			params := f.baseParams()
			params.DemoMode = true
			params.DemoOverlays = &jobs.RawDemoOverlays{Enabled: true}
			jobID := f.createJob(params)
			f.runToCompletion(jobID)

			regions, err := f.store.Region().List(context.TODO(), st.NewRegionQueryFilter().ByJobID(jobID).ExcludeDemo(), st.NewRegionQueryOptions())
			Expect(err).To(BeNil())
			Expect(regions).To(HaveLen(1))

			demos, err := f.store.Region().List(context.TODO(), st.NewRegionQueryFilter().ByJobID(jobID), st.NewRegionQueryOptions())
			Expect(err).To(BeNil())
			Expect(demos).To(HaveLen(1))
		})

		It("ignores demo regions in the statistics", func() {
			f := newFixture(1)
			f.backend.detections = nil

			params := f.baseParams()
			params.DemoMode = true
			params.DemoOverlays = &jobs.RawDemoOverlays{Enabled: true}
			jobID := f.createJob(params)
			f.runToCompletion(jobID)

			stats, err := f.store.JobStat().ListByJob(context.TODO(), jobID)
			Expect(err).To(BeNil())
			Expect(stats).To(BeEmpty())
		})
	})

	Context("cancellation and resume", func() {
		It("stops at the next image checkpoint and keeps a consistent cursor", func() {
			f := newFixture(3)
			f.backend.detections = []inference.Detection{{Score: 0.9}}
			f.backend.started = make(chan struct{})
			f.backend.gate = make(chan struct{})

			jobID := f.createJob(f.baseParams())
			Expect(f.manager.Launch(jobID)).To(Succeed())

			// wait for the first detect call, cancel, then let it finish
			<-f.backend.started
			Expect(f.manager.Cancel(jobID)).To(BeTrue())
			close(f.backend.gate)
			f.manager.Wait(jobID)

			job, err := f.store.Job().Get(context.TODO(), jobID)
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusCancelled))
			Expect(job.ProcessedImages).To(Equal(1))
			Expect(*job.CursorImageID).To(Equal(f.imageIDs[0] + 1))

			regions, err := f.store.Region().List(context.TODO(), st.NewRegionQueryFilter().ByJobID(jobID), st.NewRegionQueryOptions())
			Expect(err).To(BeNil())
			Expect(regions).To(HaveLen(1))
		})

		It("rejects a second launch while the unit is active", func() {
			f := newFixture(1)
			f.backend.detections = []inference.Detection{{Score: 0.9}}
			f.backend.started = make(chan struct{})
			f.backend.gate = make(chan struct{})

			jobID := f.createJob(f.baseParams())
			Expect(f.manager.Launch(jobID)).To(Succeed())
			<-f.backend.started

			err := f.manager.Launch(jobID)
			var active *jobs.ErrJobActive
			Expect(errors.As(err, &active)).To(BeTrue())

			close(f.backend.gate)
			f.manager.Wait(jobID)
		})

		It("resumes from the checkpoint and completes", func() {
			f := newFixture(3)
			f.backend.detections = []inference.Detection{{Score: 0.9}}
			f.backend.started = make(chan struct{})
			f.backend.gate = make(chan struct{})

			jobID := f.createJob(f.baseParams())
			Expect(f.manager.Launch(jobID)).To(Succeed())
			<-f.backend.started
			Expect(f.manager.Cancel(jobID)).To(BeTrue())
			close(f.backend.gate)
			f.manager.Wait(jobID)

			// relaunch after the cancelled unit has fully exited
			Expect(f.store.Job().UpdateStatus(context.TODO(), jobID, model.JobStatusPending, nil)).To(Succeed())
			f.backend.gate = nil
			job := f.runToCompletion(jobID)

			Expect(job.Status).To(Equal(model.JobStatusCompleted))
			Expect(*job.CursorImageID).To(Equal(f.imageIDs[2] + 1))

			// one region per image, no duplicates from the reprocessed prefix
			regions, err := f.store.Region().List(context.TODO(), st.NewRegionQueryFilter().ByJobID(jobID), st.NewRegionQueryOptions())
			Expect(err).To(BeNil())
			Expect(regions).To(HaveLen(3))

			stats, err := f.store.JobStat().ListByJob(context.TODO(), jobID)
			Expect(err).To(BeNil())
			Expect(stats).NotTo(BeEmpty())
		})

		It("reprocessing an image replaces its regions", func() {
			f := newFixture(1)
			f.backend.detections = []inference.Detection{{Score: 0.9}}

			jobID := f.createJob(f.baseParams())
			f.runToCompletion(jobID)

			// clear the cursor and run the same job again over the same image
			Expect(f.store.Job().UpdateStatus(context.TODO(), jobID, model.JobStatusPending, nil)).To(Succeed())
			Expect(f.store.Job().UpdateProgress(context.TODO(), jobID, 0, f.imageIDs[0])).To(Succeed())
			f.runToCompletion(jobID)

			regions, err := f.store.Region().List(context.TODO(), st.NewRegionQueryFilter().ByJobID(jobID), st.NewRegionQueryOptions())
			Expect(err).To(BeNil())
			Expect(regions).To(HaveLen(1))
		})
	})

	Context("failure handling", func() {
		It("fails the job when weights are missing", func() {
			f := newFixture(1)
			Expect(os.Remove(f.cfg.Inference.CheckpointPath)).To(Succeed())

			jobID := f.createJob(f.baseParams())
			job := f.runToCompletion(jobID)

			Expect(job.Status).To(Equal(model.JobStatusFailed))
			Expect(job.ErrorMessage).To(ContainSubstring("weights"))
			Expect(job.ProcessedImages).To(BeZero())
		})

		It("continues past per-concept inference errors", func() {
			f := newFixture(2)
			f.backend.err = inference.NewErrInference(inference.MethodPCSText, os.ErrInvalid)

			jobID := f.createJob(f.baseParams())
			job := f.runToCompletion(jobID)

			// inference errors are local: the job still completes
			Expect(job.Status).To(Equal(model.JobStatusCompleted))
			Expect(job.ProcessedImages).To(Equal(2))

			images, err := f.store.Image().List(context.TODO(), st.NewImageQueryFilter().ByDatasetID(f.datasetID), st.NewImageQueryOptions())
			Expect(err).To(BeNil())
			for _, img := range images {
				Expect(img.Status).To(Equal(model.ImageStatusError))
			}
		})

		It("keeps the cursor on an unreadable image", func() {
			f := newFixture(2)
			f.backend.detections = []inference.Detection{{Score: 0.9}}

			// corrupt the first image file
			images, err := f.store.Image().List(context.TODO(), st.NewImageQueryFilter().ByDatasetID(f.datasetID), st.NewImageQueryOptions())
			Expect(err).To(BeNil())
			Expect(os.WriteFile(images[0].AbsPath, []byte("not a png"), 0o644)).To(Succeed())

			jobID := f.createJob(f.baseParams())
			job := f.runToCompletion(jobID)

			Expect(job.Status).To(Equal(model.JobStatusCompleted))
			Expect(job.ProcessedImages).To(Equal(1))
			// the cursor moved past the second image, the broken one stays
			// eligible for a retry on resume
			Expect(*job.CursorImageID).To(Equal(images[1].ID + 1))

			got, err := f.store.Image().Get(context.TODO(), images[0].ID)
			Expect(err).To(BeNil())
			Expect(got.Status).To(Equal(model.ImageStatusError))
		})

		It("rolls back an image whose regions fail to persist", func() {
			f := newFixture(2)
			f.backend.detections = []inference.Detection{
				{BBox: inference.Box{1, 1, 5, 5}, Score: 0.9},
				{BBox: inference.Box{2, 2, 6, 6}, Score: 0.8},
			}

			// the second insert of the first image fails, the rest succeed
			flaky := &failingStore{
				Store:   f.store,
				regions: &failingRegionStore{Region: f.store.Region(), failCall: 2},
			}
			backends := inference.NewManager(func() inference.Backend { return f.backend }, testLogger())
			manager := jobs.NewManager(flaky, backends, f.cfg, testLogger())

			jobID := f.createJob(f.baseParams())
			Expect(manager.Launch(jobID)).To(Succeed())
			manager.Wait(jobID)

			job, err := f.store.Job().Get(context.TODO(), jobID)
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusCompleted))
			Expect(job.ProcessedImages).To(Equal(1))
			// the cursor never moved past the failed image
			Expect(*job.CursorImageID).To(Equal(f.imageIDs[1] + 1))

			// no partial region set survives the rollback
			regions, err := f.store.Region().List(context.TODO(), st.NewRegionQueryFilter().ByJobID(jobID), st.NewRegionQueryOptions())
			Expect(err).To(BeNil())
			Expect(regions).To(HaveLen(2))
			for _, region := range regions {
				Expect(region.ImageID).To(Equal(f.imageIDs[1]))
			}

			got, err := f.store.Image().Get(context.TODO(), f.imageIDs[0])
			Expect(err).To(BeNil())
			Expect(got.Status).To(Equal(model.ImageStatusError))
		})
	})

	Context("device degradation", func() {
		It("reloads on cpu once and keeps the degrade for the rest of the job", func() {
			f := newFixture(2)
			f.backend.detections = []inference.Detection{{BBox: inference.Box{1, 1, 3, 3}, Score: 0.9}}
			f.backend.errQueue = []error{
				inference.ErrDeviceOutOfMemory,
				nil,
				inference.ErrDeviceOutOfMemory,
			}

			jobID := f.createJob(f.baseParams())
			job := f.runToCompletion(jobID)

			Expect(job.Status).To(Equal(model.JobStatusCompleted))
			Expect(job.ProcessedImages).To(Equal(2))

			// one initial load, one cpu reload, no third load for the second oom
			Expect(f.backend.loadedDevices()).To(Equal([]inference.Device{
				inference.DeviceAuto,
				inference.DeviceCPU,
			}))

			// the first image recovered through the retry, the second did not
			first, err := f.store.Region().List(context.TODO(), st.NewRegionQueryFilter().ByJobID(jobID).ByImageID(f.imageIDs[0]), st.NewRegionQueryOptions())
			Expect(err).To(BeNil())
			Expect(first).To(HaveLen(1))

			second, err := f.store.Region().List(context.TODO(), st.NewRegionQueryFilter().ByJobID(jobID).ByImageID(f.imageIDs[1]), st.NewRegionQueryOptions())
			Expect(err).To(BeNil())
			Expect(second).To(BeEmpty())

			img, err := f.store.Image().Get(context.TODO(), f.imageIDs[1])
			Expect(err).To(BeNil())
			Expect(img.Status).To(Equal(model.ImageStatusError))
		})
	})

	Context("auto mask narrowing", func() {
		It("uses only the first concept", func() {
			f := newFixture(1)
			f.backend.detections = []inference.Detection{{Score: 0.9}}

			second, err := f.store.Concept().Create(context.TODO(), model.Concept{Name: "roof", Family: "ROOF", ColorHex: "#4caf50", Level: 1})
			Expect(err).To(BeNil())

			params := f.baseParams()
			params.Concepts = append(params.Concepts, jobs.ConceptPrompt{ConceptID: second.ID, PromptText: "roof"})
			params.InferenceMethod = "AUTO_MASK"
			jobID := f.createJob(params)
			f.runToCompletion(jobID)

			regions, err := f.store.Region().List(context.TODO(), st.NewRegionQueryFilter().ByJobID(jobID), st.NewRegionQueryOptions())
			Expect(err).To(BeNil())
			Expect(regions).To(HaveLen(1))
			Expect(*regions[0].ConceptID).To(Equal(f.conceptID))
		})
	})
})

func writableMask() *image.Gray {
	mask := image.NewGray(image.Rect(0, 0, 8, 8))
	for y := 2; y < 6; y++ {
		for x := 2; x < 6; x++ {
			mask.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	return mask
}

// failingStore swaps the region sub-store for one that rejects a chosen
// insert, everything else passes through.
type failingStore struct {
	st.Store
	regions *failingRegionStore
}

func (f *failingStore) Region() st.Region { return f.regions }

type failingRegionStore struct {
	st.Region
	mu       sync.Mutex
	calls    int
	failCall int
}

func (f *failingRegionStore) Create(ctx context.Context, region model.Region) (*model.Region, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if n == f.failCall {
		return nil, errors.New("region insert rejected")
	}
	return f.Region.Create(ctx, region)
}
