package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/conceptscan/conceptscan/internal/config"
	st "github.com/conceptscan/conceptscan/internal/store"
	"github.com/conceptscan/conceptscan/internal/store/model"
)

func TestStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Store Suite")
}

func newTestStore() (st.Store, *gorm.DB) {
	tmp, err := os.MkdirTemp("", "conceptscan-store-*")
	Expect(err).To(BeNil())
	DeferCleanup(func() { _ = os.RemoveAll(tmp) })

	cfg, err := config.NewDefault()
	Expect(err).To(BeNil())
	cfg.Database.Type = "sqlite"
	cfg.Database.Name = filepath.Join(tmp, "test.db")

	db, err := st.InitDB(cfg)
	Expect(err).To(BeNil())

	s := st.NewStore(db)
	Expect(s.InitialMigration()).To(Succeed())
	return s, db
}

var _ = Describe("store", Ordered, func() {
	var (
		s      st.Store
		gormdb *gorm.DB
	)

	BeforeAll(func() {
		s, gormdb = newTestStore()
	})

	AfterAll(func() {
		s.Close()
	})

	Context("dataset", func() {
		It("creates and reads back a dataset", func() {
			dataset, err := s.Dataset().Create(context.TODO(), model.Dataset{Name: "rooftops", RootPath: "/data/rooftops"})
			Expect(err).To(BeNil())
			Expect(dataset.ID).NotTo(BeZero())

			got, err := s.Dataset().Get(context.TODO(), dataset.ID)
			Expect(err).To(BeNil())
			Expect(got.Name).To(Equal("rooftops"))

			var count int
			tx := gormdb.Raw("SELECT COUNT(*) FROM datasets;").Scan(&count)
			Expect(tx.Error).To(BeNil())
			Expect(count).To(Equal(1))
		})

		It("returns ErrRecordNotFound for a missing dataset", func() {
			_, err := s.Dataset().Get(context.TODO(), 9999)
			Expect(err).To(MatchError(st.ErrRecordNotFound))
		})
	})

	Context("image", func() {
		var datasetID uint

		BeforeAll(func() {
			dataset, err := s.Dataset().Create(context.TODO(), model.Dataset{Name: "walk", RootPath: "/data/walk"})
			Expect(err).To(BeNil())
			datasetID = dataset.ID

			batch := []model.Image{
				{DatasetID: datasetID, RelPath: "a.jpg", AbsPath: "/data/walk/a.jpg", Status: model.ImageStatusReady},
				{DatasetID: datasetID, RelPath: "b.jpg", AbsPath: "/data/walk/b.jpg", Status: model.ImageStatusReady},
				{DatasetID: datasetID, RelPath: "c.jpg", AbsPath: "/data/walk/c.jpg", Status: model.ImageStatusReady},
			}
			created, err := s.Image().CreateBatch(context.TODO(), batch)
			Expect(err).To(BeNil())
			Expect(created).To(HaveLen(3))
		})

		It("lists in ascending id order", func() {
			images, err := s.Image().List(context.TODO(), st.NewImageQueryFilter().ByDatasetID(datasetID), st.NewImageQueryOptions())
			Expect(err).To(BeNil())
			Expect(images).To(HaveLen(3))
			Expect(images[0].ID).To(BeNumerically("<", images[1].ID))
			Expect(images[1].ID).To(BeNumerically("<", images[2].ID))
		})

		It("filters from a cursor", func() {
			all, err := s.Image().List(context.TODO(), st.NewImageQueryFilter().ByDatasetID(datasetID), st.NewImageQueryOptions())
			Expect(err).To(BeNil())

			fromSecond, err := s.Image().List(context.TODO(),
				st.NewImageQueryFilter().ByDatasetID(datasetID).FromID(all[1].ID),
				st.NewImageQueryOptions())
			Expect(err).To(BeNil())
			Expect(fromSecond).To(HaveLen(2))
			Expect(fromSecond[0].ID).To(Equal(all[1].ID))
		})

		It("applies a limit", func() {
			images, err := s.Image().List(context.TODO(),
				st.NewImageQueryFilter().ByDatasetID(datasetID),
				st.NewImageQueryOptions().WithLimit(2))
			Expect(err).To(BeNil())
			Expect(images).To(HaveLen(2))
		})

		It("counts dataset images", func() {
			count, err := s.Image().Count(context.TODO(), datasetID)
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(3)))
		})

		It("updates the status", func() {
			images, err := s.Image().List(context.TODO(), st.NewImageQueryFilter().ByDatasetID(datasetID), st.NewImageQueryOptions())
			Expect(err).To(BeNil())

			Expect(s.Image().UpdateStatus(context.TODO(), images[0].ID, model.ImageStatusError)).To(Succeed())
			got, err := s.Image().Get(context.TODO(), images[0].ID)
			Expect(err).To(BeNil())
			Expect(got.Status).To(Equal(model.ImageStatusError))
		})
	})

	Context("concept", func() {
		It("rejects duplicate names", func() {
			_, err := s.Concept().Create(context.TODO(), model.Concept{Name: "chimney", Family: "ROOF", ColorHex: "#aa0000", Level: 1})
			Expect(err).To(BeNil())

			_, err = s.Concept().Create(context.TODO(), model.Concept{Name: "chimney", Family: "ROOF", ColorHex: "#bb0000", Level: 1})
			Expect(err).To(MatchError(st.ErrDuplicateKey))
		})

		It("seed is idempotent", func() {
			Expect(s.Seed()).To(Succeed())
			Expect(s.Seed()).To(Succeed())

			concept, err := s.Concept().GetByName(context.TODO(), "facade")
			Expect(err).To(BeNil())
			Expect(concept.ColorHex).To(Equal("#ff9800"))

			var count int
			tx := gormdb.Raw("SELECT COUNT(*) FROM concepts WHERE name IN ('facade','roof','window');").Scan(&count)
			Expect(tx.Error).To(BeNil())
			Expect(count).To(Equal(3))
		})
	})

	Context("job", func() {
		var jobID uint

		BeforeAll(func() {
			job, err := s.Job().Create(context.TODO(), model.Job{
				JobType:   "level1",
				DatasetID: 1,
				Params:    []byte(`{"concepts":[{"concept_id":1}]}`),
				Status:    model.JobStatusPending,
			})
			Expect(err).To(BeNil())
			jobID = job.ID
		})

		It("marks started", func() {
			Expect(s.Job().MarkStarted(context.TODO(), jobID)).To(Succeed())
			job, err := s.Job().Get(context.TODO(), jobID)
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusRunning))
			Expect(job.StartedAt).NotTo(BeNil())
		})

		It("checkpoints progress", func() {
			Expect(s.Job().UpdateTotals(context.TODO(), jobID, 5)).To(Succeed())
			Expect(s.Job().UpdateProgress(context.TODO(), jobID, 2, 42)).To(Succeed())

			job, err := s.Job().Get(context.TODO(), jobID)
			Expect(err).To(BeNil())
			Expect(job.TotalImages).To(Equal(5))
			Expect(job.ProcessedImages).To(Equal(2))
			Expect(*job.CursorImageID).To(Equal(uint(42)))
		})

		It("marks finished with an error message", func() {
			message := "weights gone"
			Expect(s.Job().MarkFinished(context.TODO(), jobID, model.JobStatusFailed, &message)).To(Succeed())

			job, err := s.Job().Get(context.TODO(), jobID)
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusFailed))
			Expect(job.ErrorMessage).To(Equal("weights gone"))
			Expect(job.FinishedAt).NotTo(BeNil())
		})

		It("fails updates on missing jobs", func() {
			Expect(s.Job().MarkStarted(context.TODO(), 9999)).To(MatchError(st.ErrRecordNotFound))
		})
	})

	Context("region", func() {
		It("deletes per job and image", func() {
			conceptID := uint(1)
			for _, imageID := range []uint{10, 11} {
				_, err := s.Region().Create(context.TODO(), model.Region{
					JobID: 100, ImageID: imageID, ConceptID: &conceptID, X: 1, Y: 2, Width: 3, Height: 4, Score: 0.8,
				})
				Expect(err).To(BeNil())
			}

			Expect(s.Region().DeleteForImage(context.TODO(), 100, 10)).To(Succeed())
			// deleting again is a no-op
			Expect(s.Region().DeleteForImage(context.TODO(), 100, 10)).To(Succeed())

			remaining, err := s.Region().List(context.TODO(), st.NewRegionQueryFilter().ByJobID(100), st.NewRegionQueryOptions())
			Expect(err).To(BeNil())
			Expect(remaining).To(HaveLen(1))
			Expect(remaining[0].ImageID).To(Equal(uint(11)))
		})

		It("excludes demo regions on request", func() {
			conceptID := uint(1)
			_, err := s.Region().Create(context.TODO(), model.Region{JobID: 101, ImageID: 10, ConceptID: &conceptID, Score: 0, IsDemo: true})
			Expect(err).To(BeNil())
			_, err = s.Region().Create(context.TODO(), model.Region{JobID: 101, ImageID: 10, ConceptID: &conceptID, Score: 0.9})
			Expect(err).To(BeNil())

			real, err := s.Region().List(context.TODO(), st.NewRegionQueryFilter().ByJobID(101).ExcludeDemo(), st.NewRegionQueryOptions())
			Expect(err).To(BeNil())
			Expect(real).To(HaveLen(1))
			Expect(real[0].IsDemo).To(BeFalse())
		})

		It("stores the mask reference", func() {
			conceptID := uint(1)
			region, err := s.Region().Create(context.TODO(), model.Region{JobID: 102, ImageID: 1, ConceptID: &conceptID, Score: 0.7})
			Expect(err).To(BeNil())

			Expect(s.Region().UpdateMaskRef(context.TODO(), region.ID, "102/1/region.png")).To(Succeed())
			regions, err := s.Region().List(context.TODO(), st.NewRegionQueryFilter().ByJobID(102), st.NewRegionQueryOptions())
			Expect(err).To(BeNil())
			Expect(*regions[0].MaskRef).To(Equal("102/1/region.png"))
		})
	})

	Context("job stats", func() {
		It("replaces stats per job", func() {
			rows := []model.JobStat{
				{JobID: 200, ConceptID: 1, BucketName: "max", CountImages: 2, CountRegions: 3},
				{JobID: 200, ConceptID: 1, BucketName: "min", CountImages: 1, CountRegions: 1},
			}
			Expect(s.JobStat().CreateBatch(context.TODO(), rows)).To(Succeed())

			stats, err := s.JobStat().ListByJob(context.TODO(), 200)
			Expect(err).To(BeNil())
			Expect(stats).To(HaveLen(2))

			Expect(s.JobStat().DeleteForJob(context.TODO(), 200)).To(Succeed())
			stats, err = s.JobStat().ListByJob(context.TODO(), 200)
			Expect(err).To(BeNil())
			Expect(stats).To(BeEmpty())
		})
	})
})
