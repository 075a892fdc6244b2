package httpgin

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/kirinyoku/evreg/internal/domain"
	"github.com/kirinyoku/evreg/internal/metrics"
	"github.com/kirinyoku/evreg/internal/ratelimit"
	"github.com/kirinyoku/evreg/internal/service"
	"github.com/kirinyoku/evreg/internal/service/admin"
	"github.com/kirinyoku/evreg/internal/service/query"
)

// IdempotencyStore is satisfied by the Redis idempotency store.
type IdempotencyStore interface {
	AcquireLock(ctx context.Context, key string, lockTTL time.Duration) (bool, error)
	SaveResult(ctx context.Context, key string, jsonPayload string) error
	GetResult(ctx context.Context, key string) (string, bool, error)
	Release(ctx context.Context, key string) error
}

type Options struct {
	Auth        *Authenticator
	Idempotency IdempotencyStore
	Hub         *Hub
	Clock       domain.Clock
	Logger      *slog.Logger
	// TrustedProxies may set X-Forwarded-For. Empty means the client IP is
	// always the remote address.
	TrustedProxies []string
}

func NewRouter(svcs *service.Services, opts Options, middlewares ...gin.HandlerFunc) *gin.Engine {
	if opts.Clock == nil {
		opts.Clock = domain.SystemClock
	}
	if opts.Hub == nil {
		opts.Hub = NewHub()
	}

	r := gin.New()

	if err := r.SetTrustedProxies(opts.TrustedProxies); err != nil {
		_ = r.SetTrustedProxies(nil)
		if opts.Logger != nil {
			opts.Logger.Warn("invalid trusted proxies, forwarding headers ignored", slog.String("error", err.Error()))
		}
	}

	r.Use(gin.Recovery(), RequestIDMiddleware(), LoggingMiddleware(opts.Logger), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public API
	r.GET("/events", handleListEvents(svcs, opts.Clock))
	r.GET("/events/:id", handleGetEvent(svcs, opts.Clock))
	r.GET("/events/:id/availability", handleGetAvailability(svcs))
	r.GET("/events/:id/availability/stream", handleAvailabilityStream(svcs, opts.Hub))

	authed := r.Group("/", opts.Auth.Middleware())
	{
		authed.POST("/events/:id/registrations", handleRegister(svcs, opts.Idempotency, opts.Clock))
		authed.GET("/me/registrations", handleListMyRegistrations(svcs, opts.Clock))
		authed.DELETE("/registrations/:id", handleCancelRegistration(svcs))
	}

	staff := authed.Group("/", RequireRole(RoleStaff, RoleAdmin))
	{
		staff.POST("/checkin", handleCheckIn(svcs))
		staff.GET("/events/:id/registrations", handleListEventRegistrations(svcs))
	}

	adm := authed.Group("/admin", RequireRole(RoleAdmin))
	{
		adm.POST("/users", handleCreateUser(svcs))
		adm.POST("/events", handleCreateEvent(svcs, opts.Clock))
		adm.PUT("/events/:id", handleUpdateEvent(svcs, opts.Clock))
		adm.POST("/events/:id/publish", handlePublishEvent(svcs, opts.Clock))
		adm.POST("/events/:id/cancel", handleCancelEvent(svcs, opts.Clock))
		adm.GET("/events/:id/reconcile", handleReconcile(svcs))
		adm.POST("/registrations/:id/approve", handleApproveRegistration(svcs))
		adm.DELETE("/registrations/:id", handleAdminCancelRegistration(svcs))
	}

	return r
}

// --- Helpers ---

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

// errStatuses is matched top to bottom; sub-kinds come before their parent.
var errStatuses = []struct {
	target error
	status int
}{
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrInvalidCode, http.StatusNotFound},
	{domain.ErrAgeIneligible, http.StatusUnprocessableEntity},
	{domain.ErrCapacityUnavailable, http.StatusConflict},
	{domain.ErrAlreadyCanceled, http.StatusConflict},
	{domain.ErrAlreadyAttended, http.StatusConflict},
	{domain.ErrNotPending, http.StatusConflict},
	{domain.ErrEventStarted, http.StatusConflict},
	{domain.ErrCheckInNotYetOpen, http.StatusConflict},
	{domain.ErrEventOver, http.StatusConflict},
	{domain.ErrTransactionConflict, http.StatusServiceUnavailable},
	{admin.ErrInvalidEvent, http.StatusBadRequest},
	{admin.ErrInvalidUser, http.StatusBadRequest},
	{query.ErrInvalidFilter, http.StatusBadRequest},
	{admin.ErrCapacityBelowRegistered, http.StatusConflict},
	{admin.ErrInvalidTransition, http.StatusConflict},
	{admin.ErrConflict, http.StatusConflict},
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var limited *ratelimit.Error
	if errors.As(err, &limited) {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(limited.RetryAfter.Seconds()))))
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited", Code: "rate_limited"})
		return
	}

	for _, e := range errStatuses {
		if !errors.Is(err, e.target) {
			continue
		}
		if e.status == http.StatusServiceUnavailable {
			c.Header("Retry-After", "1")
			c.JSON(e.status, ErrorResponse{Error: e.target.Error(), Code: metrics.Outcome(err)})
			return
		}
		c.JSON(e.status, ErrorResponse{Error: publicMessage(err, e.target), Code: metrics.Outcome(err)})
		return
	}

	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

// publicMessage drops the operation prefixes from err, starting the message
// at the matched kind.
func publicMessage(err, target error) string {
	msg := err.Error()
	if i := strings.Index(msg, target.Error()); i >= 0 {
		return msg[i:]
	}
	return target.Error()
}
