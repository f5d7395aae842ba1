//go:build e2e

package store_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"

	"procodus.dev/alertnav/internal/store"
	"procodus.dev/alertnav/internal/testinfra"
	"procodus.dev/alertnav/pkg/logger"
	"procodus.dev/alertnav/pkg/metrics"
)

var (
	pg *testinfra.Postgres
	db *gorm.DB
)

var _ = BeforeSuite(func(ctx SpecContext) {
	var err error
	pg, err = testinfra.StartPostgres(ctx, nil)
	Expect(err).NotTo(HaveOccurred())

	db, err = store.NewDB(&store.DBConfig{
		Logger:      logger.Discard(),
		Host:        pg.Host,
		Port:        pg.Port,
		User:        pg.User,
		Password:    pg.Password,
		DBName:      pg.Database,
		SSLMode:     "disable",
		AutoMigrate: true,
	})
	Expect(err).NotTo(HaveOccurred())
}, NodeTimeout(2*time.Minute))

var _ = AfterSuite(func(ctx SpecContext) {
	Expect(store.CloseDB(db, logger.Discard())).To(Succeed())
	if pg != nil {
		Expect(pg.Terminate(ctx)).To(Succeed())
	}
})

func f(v float64) *float64 { return &v }
func s(v string) *string   { return &v }

func truncate() {
	Expect(db.Exec(`TRUNCATE iot_data, users RESTART IDENTITY`).Error).To(Succeed())
}

var _ = Describe("UserStore", Label("e2e"), func() {
	var users *store.UserStore

	BeforeEach(func() {
		truncate()
		users = store.NewUserStore(db, nil)
	})

	It("creates a user on first login and reuses it for a case-differing email", func(ctx SpecContext) {
		first, err := users.UpsertLogin(ctx, "User@Example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(first.ID).NotTo(BeZero())
		Expect(first.Email).To(Equal("user@example.com"))

		time.Sleep(10 * time.Millisecond)

		second, err := users.UpsertLogin(ctx, "user@EXAMPLE.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(second.ID).To(Equal(first.ID))
		Expect(second.CreatedAt).To(BeTemporally("~", first.CreatedAt, time.Millisecond))
		Expect(second.LastLogin).To(BeTemporally(">", first.LastLogin))

		var count int64
		Expect(db.Model(&store.User{}).Count(&count).Error).To(Succeed())
		Expect(count).To(Equal(int64(1)))
	})

	It("finds users by normalised email", func(ctx SpecContext) {
		created, err := users.UpsertLogin(ctx, "ops@example.com")
		Expect(err).NotTo(HaveOccurred())

		found, err := users.UserByEmail(ctx, "OPS@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(found.ID).To(Equal(created.ID))
	})

	It("reports unknown users as not found", func(ctx SpecContext) {
		_, err := users.UserByEmail(ctx, "ghost@example.com")
		Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
	})
})

var _ = Describe("ReadingStore", Label("e2e"), func() {
	var (
		readings *store.ReadingStore
		m        *metrics.StoreMetrics
	)

	insert := func(ctx context.Context, r store.LocationReading) uint {
		Expect(readings.Create(ctx, &r)).To(Succeed())
		return r.ID
	}

	BeforeEach(func() {
		truncate()
		m = metrics.NewStoreMetrics(prometheus.NewRegistry())
		readings = store.NewReadingStore(db, m)
	})

	Describe("LatestPerDevice", func() {
		It("returns the newest positioned reading of every device", func(ctx SpecContext) {
			owner := s("ops@example.com")
			insert(ctx, store.LocationReading{DeviceID: "a", Lat: f(1), Lon: f(1), Timestamp: 100, UserEmail: owner})
			newestA := insert(ctx, store.LocationReading{DeviceID: "a", Lat: f(2), Lon: f(2), Timestamp: 200, UserEmail: owner, Event: s("Construction")})
			newestB := insert(ctx, store.LocationReading{DeviceID: "b", Lat: f(3), Lon: f(3), Timestamp: 50, UserEmail: owner})

			rows, err := readings.LatestPerDevice(ctx, "ops@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(ConsistOf(
				store.LatestReading{ID: newestA, DeviceID: "a", Latitude: 2, Longitude: 2, Timestamp: 200, Event: s("Construction")},
				store.LatestReading{ID: newestB, DeviceID: "b", Latitude: 3, Longitude: 3, Timestamp: 50},
			))
		})

		It("never returns readings without coordinates", func(ctx SpecContext) {
			positioned := insert(ctx, store.LocationReading{DeviceID: "a", Lat: f(1), Lon: f(1), Timestamp: 100})
			insert(ctx, store.LocationReading{DeviceID: "a", Lat: nil, Lon: f(1), Timestamp: 300})
			insert(ctx, store.LocationReading{DeviceID: "b", Lat: f(1), Lon: nil, Timestamp: 300})

			rows, err := readings.LatestPerDevice(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(1))
			Expect(rows[0].ID).To(Equal(positioned))
		})

		It("breaks timestamp ties by the higher id", func(ctx SpecContext) {
			insert(ctx, store.LocationReading{DeviceID: "a", Lat: f(1), Lon: f(1), Timestamp: 100})
			later := insert(ctx, store.LocationReading{DeviceID: "a", Lat: f(2), Lon: f(2), Timestamp: 100})

			rows, err := readings.LatestPerDevice(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(1))
			Expect(rows[0].ID).To(Equal(later))
		})

		It("scopes by owner when one is given", func(ctx SpecContext) {
			insert(ctx, store.LocationReading{DeviceID: "mine", Lat: f(1), Lon: f(1), Timestamp: 1, UserEmail: s("me@example.com")})
			insert(ctx, store.LocationReading{DeviceID: "theirs", Lat: f(1), Lon: f(1), Timestamp: 1, UserEmail: s("you@example.com")})
			insert(ctx, store.LocationReading{DeviceID: "nobody", Lat: f(1), Lon: f(1), Timestamp: 1})

			mine, err := readings.LatestPerDevice(ctx, "me@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(mine).To(HaveLen(1))
			Expect(mine[0].DeviceID).To(Equal("mine"))

			all, err := readings.LatestPerDevice(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(3))
		})

		It("returns an empty, non-nil slice when there is no data", func(ctx SpecContext) {
			rows, err := readings.LatestPerDevice(ctx, "me@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).NotTo(BeNil())
			Expect(rows).To(BeEmpty())
			Expect(testutil.ToFloat64(m.OperationsTotal.WithLabelValues("latest_per_device", "success"))).To(Equal(1.0))
		})
	})

	Describe("UpdateClassification", func() {
		It("changes only event and group", func(ctx SpecContext) {
			id := insert(ctx, store.LocationReading{DeviceID: "a", Lat: f(39.9), Lon: f(-83), Timestamp: 42, UserEmail: s("ops@example.com")})

			updated, err := readings.UpdateClassification(ctx, id, "Blocked Road", "north")
			Expect(err).NotTo(HaveOccurred())
			Expect(*updated.Event).To(Equal("Blocked Road"))
			Expect(*updated.Group).To(Equal("north"))
			Expect(updated.DeviceID).To(Equal("a"))

			stored, err := readings.ReadingByID(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(*stored.Lat).To(Equal(39.9))
			Expect(*stored.Lon).To(Equal(-83.0))
			Expect(stored.Timestamp).To(Equal(int64(42)))
			Expect(stored.DeviceID).To(Equal("a"))
			Expect(*stored.UserEmail).To(Equal("ops@example.com"))
			Expect(*stored.Group).To(Equal("north"))
		})

		It("reports an unknown id as not found without writing", func(ctx SpecContext) {
			insert(ctx, store.LocationReading{DeviceID: "a", Lat: f(1), Lon: f(1), Timestamp: 1})

			_, err := readings.UpdateClassification(ctx, 9999, "Construction", "x")
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())

			var touched int64
			Expect(db.Model(&store.LocationReading{}).Where("event IS NOT NULL").Count(&touched).Error).To(Succeed())
			Expect(touched).To(BeZero())
			Expect(testutil.ToFloat64(m.OperationsTotal.WithLabelValues("update_classification", "not_found"))).To(Equal(1.0))
		})
	})

	Describe("ReadingByID", func() {
		It("reports an unknown id as not found", func(ctx SpecContext) {
			_, err := readings.ReadingByID(ctx, 12345)
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("ownership backfill", func() {
		It("assigns every unowned reading and leaves owned ones alone", func(ctx SpecContext) {
			insert(ctx, store.LocationReading{DeviceID: "a", Timestamp: 1})
			insert(ctx, store.LocationReading{DeviceID: "b", Timestamp: 2})
			insert(ctx, store.LocationReading{DeviceID: "c", Timestamp: 3, UserEmail: s("other@example.com")})

			unowned, err := readings.CountUnowned(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(unowned).To(Equal(int64(2)))

			assigned, err := readings.AssignUnowned(ctx, "Ops@Example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(assigned).To(Equal(int64(2)))

			total, err := readings.CountByOwner(ctx, "ops@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal(int64(2)))

			others, err := readings.CountByOwner(ctx, "other@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(others).To(Equal(int64(1)))
		})
	})
})
