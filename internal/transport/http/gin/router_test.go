package httpgin

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/evreg/internal/domain"
	"github.com/kirinyoku/evreg/internal/ratelimit"
	"github.com/kirinyoku/evreg/internal/repository/memory"
	"github.com/kirinyoku/evreg/internal/service"
	"github.com/kirinyoku/evreg/internal/ticket"
)

var now = time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

type memIdem struct {
	mu   sync.Mutex
	vals map[string]string
}

func newMemIdem() *memIdem { return &memIdem{vals: map[string]string{}} }

func (m *memIdem) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vals[key]; ok {
		return false, nil
	}
	m.vals[key] = "LOCK"
	return true, nil
}

func (m *memIdem) SaveResult(_ context.Context, key, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = "RES:" + payload
	return nil
}

func (m *memIdem) GetResult(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	if !ok || len(v) < 4 || v[:4] != "RES:" {
		return "", false, nil
	}
	return v[4:], true, nil
}

func (m *memIdem) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vals, key)
	return nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, int64, time.Duration, error) {
	return false, 11, 1500 * time.Millisecond, nil
}

type testServer struct {
	t      *testing.T
	engine *gin.Engine
	auth   *Authenticator
	store  *memory.Store
	svcs   *service.Services
}

func newTestServer(t *testing.T, mutate func(*service.Deps)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	clock := domain.ClockFunc(func() time.Time { return now })

	deps := service.Deps{
		Repos:  store.Repos(),
		Tx:     store,
		Signer: ticket.NewSigner("qr-secret", 0),
		Clock:  clock,
	}
	if mutate != nil {
		mutate(&deps)
	}

	svcs := service.NewServices(deps, service.Config{})
	auth := NewAuthenticator("jwt-secret")

	return &testServer{
		t:     t,
		auth:  auth,
		store: store,
		svcs:  svcs,
		engine: NewRouter(svcs, Options{
			Auth:        auth,
			Idempotency: newMemIdem(),
			Clock:       clock,
		}),
	}
}

func (s *testServer) token(sub, role string) string {
	s.t.Helper()
	tok, err := s.auth.Issue(sub, role, time.Hour)
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// setup creates a user and a published event through the admin API.
func (s *testServer) setup(capacity int) (userID, eventID string) {
	s.t.Helper()
	admin := s.token("root", RoleAdmin)

	rec := s.do(http.MethodPost, "/admin/users", admin, CreateUserRequest{
		Email:     fmt.Sprintf("u%d@example.com", time.Now().UnixNano()),
		FullName:  "Grace",
		BirthDate: "1990-04-01",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	user := decode[UserResponse](s.t, rec)

	rec = s.do(http.MethodPost, "/admin/events", admin, EventRequest{
		Title:          "GopherCon",
		Capacity:       capacity,
		StartDate:      now.Add(7 * 24 * time.Hour),
		EndDate:        now.Add(7*24*time.Hour + 8*time.Hour),
		BasePriceCents: 5000,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	ev := decode[EventResponse](s.t, rec)
	assert.Equal(s.t, string(domain.EventDraft), ev.Status)

	rec = s.do(http.MethodPost, "/admin/events/"+ev.ID+"/publish", admin, nil)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())

	return user.ID, ev.ID
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegistrationLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	userID, eventID := s.setup(10)
	user := s.token(userID, RoleUser)
	staff := s.token("scanner-1", RoleStaff)

	rec := s.do(http.MethodPost, "/events/"+eventID+"/registrations", user, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[RegisterResponse](t, rec)
	assert.False(t, created.AlreadyRegistered)
	assert.Equal(t, "confirmed", created.Registration.Status)
	assert.Equal(t, int64(5000), created.Registration.PriceCents)
	require.NotEmpty(t, created.Registration.QRPayload)

	rec = s.do(http.MethodPost, "/events/"+eventID+"/registrations", user, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	again := decode[RegisterResponse](t, rec)
	assert.True(t, again.AlreadyRegistered)
	assert.Equal(t, created.Registration.ID, again.Registration.ID)

	rec = s.do(http.MethodGet, "/events/"+eventID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ev := decode[EventResponse](t, rec)
	assert.Equal(t, 1, ev.RegisteredCount)
	assert.Equal(t, 9, ev.AvailableSeats)

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	rec = s.do(http.MethodGet, "/events/"+eventID, "", nil, "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, rec.Code)

	rec = s.do(http.MethodGet, "/me/registrations", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]RegistrationResponse](t, rec), 1)

	rec = s.do(http.MethodPost, "/checkin", staff, CheckInRequest{Code: created.Registration.QRPayload})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	scanned := decode[CheckInResponse](t, rec)
	assert.Equal(t, "attended", scanned.Registration.Status)
	assert.Equal(t, "GopherCon", scanned.EventTitle)

	rec = s.do(http.MethodPost, "/checkin", staff, CheckInRequest{Code: created.Registration.TicketCode})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_attended", decode[ErrorResponse](t, rec).Code)

	rec = s.do(http.MethodDelete, "/registrations/"+created.Registration.ID, user, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_attended", decode[ErrorResponse](t, rec).Code)

	rec = s.do(http.MethodGet, "/admin/events/"+eventID+"/reconcile", s.token("root", RoleAdmin), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[ReconcileResponse](t, rec).Consistent)
}

func TestCancelThenCheckIn(t *testing.T) {
	s := newTestServer(t, nil)
	userID, eventID := s.setup(1)
	user := s.token(userID, RoleUser)

	rec := s.do(http.MethodPost, "/events/"+eventID+"/registrations", user, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	reg := decode[RegisterResponse](t, rec).Registration

	rec = s.do(http.MethodDelete, "/registrations/"+reg.ID, s.token("someone-else", RoleUser), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodDelete, "/registrations/"+reg.ID, user, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "canceled", decode[RegistrationResponse](t, rec).Status)

	rec = s.do(http.MethodPost, "/checkin", s.token("scanner", RoleStaff), CheckInRequest{Code: reg.TicketCode})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_canceled", decode[ErrorResponse](t, rec).Code)

	rec = s.do(http.MethodGet, "/events/"+eventID+"/availability", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[AvailabilityResponse](t, rec).Available)
}

func TestRegister_Errors(t *testing.T) {
	s := newTestServer(t, nil)
	userID, eventID := s.setup(1)

	rec := s.do(http.MethodPost, "/events/missing/registrations", s.token(userID, RoleUser), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/events/"+eventID+"/registrations", s.token(userID, RoleUser), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	admin := s.token("root", RoleAdmin)
	rec = s.do(http.MethodPost, "/admin/users", admin, CreateUserRequest{
		Email: "second@example.com", BirthDate: "1985-02-03",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	second := decode[UserResponse](t, rec)

	rec = s.do(http.MethodPost, "/events/"+eventID+"/registrations", s.token(second.ID, RoleUser), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "full", body.Code)
	assert.Equal(t, domain.ErrFull.Error(), body.Error)
}

func TestRegister_AgeIneligible(t *testing.T) {
	s := newTestServer(t, nil)
	admin := s.token("root", RoleAdmin)

	rec := s.do(http.MethodPost, "/admin/users", admin, CreateUserRequest{
		Email: "teen@example.com", BirthDate: now.AddDate(-16, 0, 0).Format(dateLayout),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	teen := decode[UserResponse](t, rec)

	minAge := 18
	rec = s.do(http.MethodPost, "/admin/events", admin, EventRequest{
		Title:     "Wine tasting",
		Capacity:  5,
		StartDate: now.Add(48 * time.Hour),
		EndDate:   now.Add(50 * time.Hour),
		MinAge:    &minAge,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	ev := decode[EventResponse](t, rec)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/admin/events/"+ev.ID+"/publish", admin, nil).Code)

	rec = s.do(http.MethodPost, "/events/"+ev.ID+"/registrations", s.token(teen.ID, RoleUser), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "too_young", decode[ErrorResponse](t, rec).Code)
}

func TestRegister_Idempotency(t *testing.T) {
	s := newTestServer(t, nil)
	userID, eventID := s.setup(5)
	user := s.token(userID, RoleUser)

	first := s.do(http.MethodPost, "/events/"+eventID+"/registrations", user, nil, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, "k-1", first.Header().Get("Idempotency-Key"))

	replay := s.do(http.MethodPost, "/events/"+eventID+"/registrations", user, nil, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, replay.Code)
	assert.JSONEq(t, first.Body.String(), replay.Body.String())
}

func TestRegister_RateLimited(t *testing.T) {
	s := newTestServer(t, func(d *service.Deps) { d.RegisterLimiter = denyLimiter{} })
	userID, eventID := s.setup(5)

	rec := s.do(http.MethodPost, "/events/"+eventID+"/registrations", s.token(userID, RoleUser), nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}

type keyLimiter struct {
	mu   sync.Mutex
	keys []string
}

func (l *keyLimiter) Allow(_ context.Context, key string) (bool, int64, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return true, int64(len(l.keys)), 0, nil
}

func TestRegister_RateKeyIgnoresUntrustedForwarding(t *testing.T) {
	limiter := &keyLimiter{}
	s := newTestServer(t, func(d *service.Deps) { d.RegisterLimiter = limiter })
	userID, eventID := s.setup(5)
	token := s.token(userID, RoleUser)

	// httptest requests come from 192.0.2.1
	rec := s.do(http.MethodPost, "/events/"+eventID+"/registrations", token, nil, "X-Forwarded-For", "203.0.113.7")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	s.engine = NewRouter(s.svcs, Options{
		Auth:           s.auth,
		Clock:          domain.ClockFunc(func() time.Time { return now }),
		TrustedProxies: []string{"192.0.2.0/24"},
	})
	rec = s.do(http.MethodPost, "/events/"+eventID+"/registrations", token, nil, "X-Forwarded-For", "203.0.113.7")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, []string{"ip:192.0.2.1", "ip:203.0.113.7"}, limiter.keys)
}

func TestAuthorization(t *testing.T) {
	s := newTestServer(t, nil)
	user := s.token("u1", RoleUser)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/me/registrations", "", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/me/registrations", "not-a-jwt", http.StatusUnauthorized},
		{"foreign signature", http.MethodGet, "/me/registrations", mustForeignToken(t), http.StatusUnauthorized},
		{"user on admin", http.MethodPost, "/admin/events", user, http.StatusForbidden},
		{"user on checkin", http.MethodPost, "/checkin", user, http.StatusForbidden},
		{"staff on admin", http.MethodGet, "/admin/events/x/reconcile", s.token("s1", RoleStaff), http.StatusForbidden},
		{"admin on staff route", http.MethodGet, "/events/missing/registrations", s.token("a1", RoleAdmin), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, tt.token, nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func mustForeignToken(t *testing.T) string {
	t.Helper()
	tok, err := NewAuthenticator("other").Issue("u1", RoleAdmin, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestRespondErr(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name  string
		err   error
		want  int
		retry string
	}{
		{"conflict", fmt.Errorf("op:%w: %w", domain.ErrTransactionConflict, errors.New("40001")), http.StatusServiceUnavailable, "1"},
		{"limited", fmt.Errorf("op:%w", &ratelimit.Error{RetryAfter: 3 * time.Second}), http.StatusTooManyRequests, "3"},
		{"window", domain.ErrEventOver, http.StatusConflict, ""},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)

			respondErr(c, tt.err)

			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, tt.retry, rec.Header().Get("Retry-After"))
			assert.NotContains(t, rec.Body.String(), "40001")
		})
	}
}

func TestHub(t *testing.T) {
	h := NewHub()

	ch, unsubscribe := h.Subscribe("e1")
	other, unsubscribeOther := h.Subscribe("e2")
	defer unsubscribeOther()

	h.Notify(context.Background(), "e1")
	h.Notify(context.Background(), "e1")

	select {
	case <-ch:
	default:
		t.Fatal("expected a signal")
	}
	select {
	case <-ch:
		t.Fatal("signals should coalesce")
	default:
	}
	select {
	case <-other:
		t.Fatal("unrelated event signalled")
	default:
	}

	unsubscribe()
	assert.Equal(t, 0, h.subscribers("e1"))
	assert.Equal(t, 1, h.subscribers("e2"))
}

func TestAvailabilityStream_EndsOnShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	store := memory.New()
	require.NoError(t, store.Repos().Events().Create(ctx, &domain.Event{
		ID:        "e1",
		Capacity:  10,
		Status:    domain.EventPublished,
		StartDate: now.Add(24 * time.Hour),
		EndDate:   now.Add(26 * time.Hour),
	}))

	svcs := service.NewServices(service.Deps{Repos: store.Repos(), Tx: store}, service.Config{})
	hub := NewHub()
	srv := &http.Server{Handler: NewRouter(svcs, Options{Auth: NewAuthenticator("jwt-secret"), Hub: hub})}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/events/e1/availability/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event:availability\n", line)
	assert.Equal(t, 1, hub.subscribers("e1"))

	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(shutdownCtx))
	assert.Equal(t, 0, hub.subscribers("e1"))

	// Streams opened after Close are refused.
	rec := httptest.NewRecorder()
	NewRouter(svcs, Options{Auth: NewAuthenticator("jwt-secret"), Hub: hub}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/e1/availability/stream", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestETagMatches(t *testing.T) {
	assert.True(t, etagMatches(`W/"abc"`, `W/"abc"`))
	assert.True(t, etagMatches(`"abc"`, `W/"abc"`))
	assert.True(t, etagMatches(`"x", W/"abc"`, `W/"abc"`))
	assert.True(t, etagMatches(`*`, `"abc"`))
	assert.False(t, etagMatches(``, `"abc"`))
	assert.False(t, etagMatches(`"abd"`, `"abc"`))
}
