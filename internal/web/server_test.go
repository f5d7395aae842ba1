package web_test

import (
	"context"
	"time"

	"github.com/gorilla/securecookie"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/alertnav/internal/session"
	"procodus.dev/alertnav/internal/web"
	"procodus.dev/alertnav/pkg/logger"
)

var _ = Describe("NewServer", func() {
	var cfg *web.ServerConfig

	BeforeEach(func() {
		sessions, err := session.NewCookieStore(securecookie.GenerateRandomKey(32), nil, 0)
		Expect(err).NotTo(HaveOccurred())
		manager, err := session.NewManager(sessions, 0, false)
		Expect(err).NotTo(HaveOccurred())

		cfg = &web.ServerConfig{
			Logger:   logger.Discard(),
			Users:    newFakeUsers(),
			Readings: &fakeReadings{},
			Sessions: manager,
			HTTPPort: 8080,
		}
	})

	It("fills in defaults", func() {
		s, err := web.NewServer(cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Handler()).NotTo(BeNil())
		Expect(cfg.DataScope).To(Equal(web.ScopeOwner))
		Expect(cfg.Map.PollInterval).To(Equal(5 * time.Second))
		Expect(cfg.Map.Zoom).To(Equal(13))
		Expect(cfg.Map.FallbackLat).To(Equal(39.9612))
		Expect(cfg.Map.FallbackLon).To(Equal(-82.9988))
	})

	It("keeps a configured centre and fills the rest", func() {
		cfg.Map = web.MapConfig{FallbackLat: 51.5, FallbackLon: -0.12}
		_, err := web.NewServer(cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Map).To(Equal(web.MapConfig{FallbackLat: 51.5, FallbackLon: -0.12, Zoom: 13, PollInterval: 5 * time.Second}))
	})

	It("rejects a nil config", func() {
		_, err := web.NewServer(nil)
		Expect(err).To(MatchError(ContainSubstring("config cannot be nil")))
	})

	DescribeTable("rejects incomplete configuration",
		func(mutate func(*web.ServerConfig), msg string) {
			mutate(cfg)
			_, err := web.NewServer(cfg)
			Expect(err).To(MatchError(ContainSubstring(msg)))
		},
		Entry("nil logger", func(c *web.ServerConfig) { c.Logger = nil }, "logger"),
		Entry("zero port", func(c *web.ServerConfig) { c.HTTPPort = 0 }, "HTTP port"),
		Entry("negative port", func(c *web.ServerConfig) { c.HTTPPort = -1 }, "HTTP port"),
		Entry("nil users", func(c *web.ServerConfig) { c.Users = nil }, "stores"),
		Entry("nil readings", func(c *web.ServerConfig) { c.Readings = nil }, "stores"),
		Entry("nil sessions", func(c *web.ServerConfig) { c.Sessions = nil }, "session"),
		Entry("bad scope", func(c *web.ServerConfig) { c.DataScope = "public" }, "data scope"),
	)

	It("stops when its context is canceled", func() {
		cfg.HTTPPort = 18089
		s, err := web.NewServer(cfg)
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.Run(ctx) }()

		time.Sleep(100 * time.Millisecond)
		cancel()
		Eventually(done, 12*time.Second).Should(Receive(BeNil()))
	})

	It("shuts down cleanly before Run", func() {
		s, err := web.NewServer(cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Shutdown()).To(Succeed())
	})
})
