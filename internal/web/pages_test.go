package web_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"procodus.dev/alertnav/internal/store"
	"procodus.dev/alertnav/internal/web"
	"procodus.dev/alertnav/pkg/metrics"
)

var _ = Describe("Pages", func() {
	var (
		e      *env
		cookie *http.Cookie
	)

	BeforeEach(func() {
		e = newEnv()
		cookie = e.login("ops@example.com")
	})

	Describe("map", func() {
		It("shows the user and configures the poller", func() {
			rec := e.request(http.MethodGet, "/", "", cookie)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(HavePrefix("text/html"))

			body := rec.Body.String()
			Expect(body).To(ContainSubstring("AlertNAV"))
			Expect(body).To(ContainSubstring("ops@example.com"))
			Expect(body).To(ContainSubstring(`data-poll-ms="5000"`))
			Expect(body).To(ContainSubstring(`data-lat="39.9612"`))
			Expect(body).To(ContainSubstring(`data-lon="-82.9988"`))
			Expect(body).To(ContainSubstring(`data-zoom="13"`))
			Expect(body).To(ContainSubstring(`/static/map.js`))
			Expect(body).To(ContainSubstring("leaflet"))
		})

		It("honours a custom map configuration", func() {
			e = newEnv(func(c *web.ServerConfig) {
				c.Map = web.MapConfig{FallbackLat: 51.5, FallbackLon: -0.12, Zoom: 10, PollInterval: 2 * time.Second}
			})
			body := e.request(http.MethodGet, "/", "", e.login("ops@example.com")).Body.String()
			Expect(body).To(ContainSubstring(`data-poll-ms="2000"`))
			Expect(body).To(ContainSubstring(`data-lat="51.5"`))
			Expect(body).To(ContainSubstring(`data-zoom="10"`))
		})

		It("escapes the email", func() {
			cookie := e.login(`<b>x</b>@example.com`)
			body := e.request(http.MethodGet, "/", "", cookie).Body.String()
			Expect(body).NotTo(ContainSubstring("<b>x</b>"))
			Expect(body).To(ContainSubstring("&lt;b&gt;x&lt;/b&gt;@example.com"))
		})
	})

	Describe("login", func() {
		It("renders the form", func() {
			rec := e.request(http.MethodGet, "/login", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`id="login-form"`))
			Expect(rec.Body.String()).To(ContainSubstring(`/static/login.js`))
		})
	})

	Describe("edit", func() {
		It("prefills the form and keeps the position read-only", func() {
			e.readings.add(store.LocationReading{
				DeviceID: "truck-7", Lat: f64(39.961234), Lon: f64(-82.998765), Timestamp: 1,
				Event: str("Blocked Road"), Group: str("north"),
			})

			rec := e.request(http.MethodGet, "/edit/1", "", cookie)
			Expect(rec.Code).To(Equal(http.StatusOK))

			body := rec.Body.String()
			Expect(body).To(ContainSubstring(`data-id="1"`))
			Expect(body).To(ContainSubstring(`value="truck-7" readonly`))
			Expect(body).To(ContainSubstring(`value="39.961234" readonly`))
			Expect(body).To(ContainSubstring(`<option value="Blocked Road" selected>`))
			Expect(body).To(ContainSubstring(`<option value="Construction">`))
			Expect(body).To(ContainSubstring(`value="north"`))
		})

		It("keeps an unlisted event selectable", func() {
			e.readings.add(store.LocationReading{DeviceID: "d", Timestamp: 1, Event: str("Stop Sign")})
			body := e.request(http.MethodGet, "/edit/1", "", cookie).Body.String()
			Expect(body).To(ContainSubstring(`<option value="Stop Sign" selected>`))
		})

		It("is 404 for an unknown reading", func() {
			rec := e.request(http.MethodGet, "/edit/5", "", cookie)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(rec.Body.String()).To(ContainSubstring("Not found"))
		})
	})

	Describe("static assets", func() {
		DescribeTable("serves embedded files",
			func(path, contentType string) {
				rec := e.request(http.MethodGet, path, "")
				Expect(rec.Code).To(Equal(http.StatusOK))
				Expect(rec.Header().Get("Content-Type")).To(HavePrefix(contentType))
			},
			Entry("pin", "/static/icons/pin.svg", "image/svg+xml"),
			Entry("construction", "/static/icons/construction.svg", "image/svg+xml"),
			Entry("blocked road", "/static/icons/blocked-road.svg", "image/svg+xml"),
			Entry("stop sign", "/static/icons/stop-sign.svg", "image/svg+xml"),
			Entry("map script", "/static/map.js", "text/javascript"),
			Entry("stylesheet", "/static/app.css", "text/css"),
		)

		It("does not list directories", func() {
			Expect(e.request(http.MethodGet, "/static/icons/", "").Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("metrics", func() {
		It("labels requests by route pattern and records renders", func() {
			m := metrics.NewHTTPMetrics(prometheus.NewRegistry())
			e = newEnv(func(c *web.ServerConfig) { c.Metrics = m })
			cookie := e.login("ops@example.com")

			e.request(http.MethodGet, "/", "", cookie)
			e.request(http.MethodGet, "/api/data/9", "", cookie)
			e.request(http.MethodGet, "/", "")

			Expect(testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "GET /{$}", "200"))).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "GET /api/data/{id}", "404"))).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.LoginsTotal.WithLabelValues("success"))).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.GateRedirects.WithLabelValues("/login"))).To(Equal(1.0))
			Expect(testutil.CollectAndCount(m.TemplateRenderTime)).To(Equal(1))
		})

		It("sends no partial page when a render fails", func() {
			m := metrics.NewHTTPMetrics(prometheus.NewRegistry())
			e = newEnv(func(c *web.ServerConfig) { c.Metrics = m })

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			rec := e.do(httptest.NewRequest(http.MethodGet, "/login", nil).WithContext(ctx))

			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(rec.Body.String()).NotTo(ContainSubstring("<html"))
			Expect(testutil.ToFloat64(m.TemplateRenderErrors.WithLabelValues("login"))).To(Equal(1.0))
		})
	})
})
