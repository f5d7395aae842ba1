package store_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/alertnav/internal/store"
	"procodus.dev/alertnav/pkg/logger"
)

var _ = Describe("NewDB", func() {
	It("rejects a nil config", func() {
		db, err := store.NewDB(nil)
		Expect(err).To(MatchError(ContainSubstring("config cannot be nil")))
		Expect(db).To(BeNil())
	})

	It("rejects a nil logger", func() {
		db, err := store.NewDB(&store.DBConfig{Host: "localhost", Port: 5432})
		Expect(err).To(MatchError(ContainSubstring("logger cannot be nil")))
		Expect(db).To(BeNil())
	})

	It("fails when nothing listens on the port", func() {
		db, err := store.NewDB(&store.DBConfig{
			Logger:          logger.Discard(),
			Host:            "127.0.0.1",
			Port:            1,
			User:            "alertnav",
			Password:        "secret",
			DBName:          "alertnav",
			SSLMode:         "disable",
			ConnMaxLifetime: time.Minute,
		})
		Expect(err).To(HaveOccurred())
		Expect(db).To(BeNil())
	})
})

var _ = Describe("DBConfig", func() {
	It("builds a libpq DSN", func() {
		cfg := &store.DBConfig{
			Host:     "db",
			Port:     5433,
			User:     "u",
			Password: "p",
			DBName:   "alertnav",
			SSLMode:  "require",
		}
		Expect(cfg.DSN()).To(Equal("host=db port=5433 user=u password=p dbname=alertnav sslmode=require"))
	})
})

var _ = Describe("CloseDB", func() {
	It("ignores a nil handle", func() {
		Expect(store.CloseDB(nil, logger.Discard())).To(Succeed())
	})
})

var _ = Describe("NormalizeEmail", func() {
	DescribeTable("lowercases and trims",
		func(in, want string) {
			Expect(store.NormalizeEmail(in)).To(Equal(want))
		},
		Entry("mixed case", "User@Example.com", "user@example.com"),
		Entry("padding", "  ops@example.com\n", "ops@example.com"),
		Entry("already normal", "a@b.c", "a@b.c"),
	)
})

var _ = Describe("Models", func() {
	It("map onto the legacy table names", func() {
		Expect(store.User{}.TableName()).To(Equal("users"))
		Expect(store.LocationReading{}.TableName()).To(Equal("iot_data"))
	})
})
