package web_test

import (
	"cmp"
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/securecookie"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/alertnav/internal/session"
	"procodus.dev/alertnav/internal/store"
	"procodus.dev/alertnav/internal/web"
	"procodus.dev/alertnav/pkg/logger"
)

// fakeUsers is an in-memory UserStore.
type fakeUsers struct {
	mu     sync.Mutex
	byMail map[string]*store.User
	nextID uint
	err    error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byMail: map[string]*store.User{}, nextID: 1}
}

func (f *fakeUsers) UpsertLogin(_ context.Context, email string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	now := time.Now().UTC()
	email = store.NormalizeEmail(email)
	if u, ok := f.byMail[email]; ok {
		u.LastLogin = now
		cp := *u
		return &cp, nil
	}
	u := &store.User{ID: f.nextID, Email: email, CreatedAt: now, LastLogin: now}
	f.nextID++
	f.byMail[email] = u
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) UserByEmail(_ context.Context, email string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.byMail[store.NormalizeEmail(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byMail)
}

func (f *fakeUsers) remove(email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byMail, email)
}

// fakeReadings is an in-memory ReadingStore that applies the same
// latest-per-device rules as the SQL query.
type fakeReadings struct {
	mu      sync.Mutex
	rows    []store.LocationReading
	err     error
	updates int
}

func (f *fakeReadings) add(r store.LocationReading) uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = uint(len(f.rows) + 1)
	f.rows = append(f.rows, r)
	return r.ID
}

func (f *fakeReadings) LatestPerDevice(_ context.Context, owner string) ([]store.LatestReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	best := map[string]store.LocationReading{}
	for _, r := range f.rows {
		if r.Lat == nil || r.Lon == nil {
			continue
		}
		if owner != "" && (r.UserEmail == nil || *r.UserEmail != owner) {
			continue
		}
		cur, ok := best[r.DeviceID]
		if !ok || r.Timestamp > cur.Timestamp || (r.Timestamp == cur.Timestamp && r.ID > cur.ID) {
			best[r.DeviceID] = r
		}
	}
	out := make([]store.LatestReading, 0, len(best))
	for _, r := range best {
		out = append(out, store.LatestReading{
			ID: r.ID, DeviceID: r.DeviceID, Latitude: *r.Lat, Longitude: *r.Lon,
			Event: r.Event, Timestamp: r.Timestamp,
		})
	}
	slices.SortFunc(out, func(a, b store.LatestReading) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (f *fakeReadings) ReadingByID(_ context.Context, id uint) (*store.LocationReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if id == 0 || int(id) > len(f.rows) {
		return nil, store.ErrNotFound
	}
	cp := f.rows[id-1]
	return &cp, nil
}

func (f *fakeReadings) UpdateClassification(_ context.Context, id uint, event, group string) (*store.LocationReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if id == 0 || int(id) > len(f.rows) {
		return nil, store.ErrNotFound
	}
	f.updates++
	f.rows[id-1].Event = &event
	f.rows[id-1].Group = &group
	cp := f.rows[id-1]
	return &cp, nil
}

func f64(v float64) *float64 { return &v }
func str(v string) *string   { return &v }

// env wires a Server to fakes and a cookie session store.
type env struct {
	users    *fakeUsers
	readings *fakeReadings
	server   *web.Server
	handler  http.Handler
}

func newEnv(mutate ...func(*web.ServerConfig)) *env {
	sessions, err := session.NewCookieStore(securecookie.GenerateRandomKey(32), nil, 0)
	Expect(err).NotTo(HaveOccurred())
	manager, err := session.NewManager(sessions, 0, false)
	Expect(err).NotTo(HaveOccurred())

	e := &env{users: newFakeUsers(), readings: &fakeReadings{}}
	cfg := &web.ServerConfig{
		Logger:   logger.Discard(),
		Users:    e.users,
		Readings: e.readings,
		Sessions: manager,
		HTTPPort: 8080,
	}
	for _, m := range mutate {
		m(cfg)
	}

	e.server, err = web.NewServer(cfg)
	Expect(err).NotTo(HaveOccurred())
	e.handler = e.server.Handler()
	return e
}

func (e *env) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *env) request(method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return e.do(req)
}

// login signs email in and returns the session cookie.
func (e *env) login(email string) *http.Cookie {
	rec := e.request(http.MethodPost, "/api/auth/login", `{"email":"`+email+`"}`)
	Expect(rec.Code).To(Equal(http.StatusOK))
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			return c
		}
	}
	Fail("login did not set a session cookie")
	return nil
}

func decode(rec *httptest.ResponseRecorder) map[string]any {
	var body map[string]any
	Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
	return body
}
