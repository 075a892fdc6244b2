package httpgin

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kirinyoku/evreg/internal/domain"
	redisrepo "github.com/kirinyoku/evreg/internal/repository/redis"
	"github.com/kirinyoku/evreg/internal/service"
	"github.com/kirinyoku/evreg/internal/service/registration"
)

// --- Handlers with Swagger annotations ---

// @Summary  List events
// @Param    status  query  string  false  "stored status filter"
// @Param    limit   query  int     false  "page size"
// @Param    offset  query  int     false  "offset"
// @Success  200  {array}   EventResponse
// @Failure  400  {object}  ErrorResponse
// @Router   /events [get]
func handleListEvents(svcs *service.Services, clock domain.Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := svcs.Query.ListEvents(
			c.Request.Context(),
			domain.EventStatus(c.Query("status")),
			parseIntDefault(c.Query("limit"), 0),
			parseIntDefault(c.Query("offset"), 0),
		)
		if err != nil {
			respondErr(c, err)
			return
		}

		now := clock.Now()
		out := make([]EventResponse, 0, len(events))
		for i := range events {
			out = append(out, toEventResponse(&events[i], now))
		}
		writeJSONWithCache(c, http.StatusOK, out, "public, max-age=15", true)
	}
}

// @Summary  Get event
// @Param    id  path  string  true  "Event ID"
// @Success  200  {object}  EventResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id} [get]
func handleGetEvent(svcs *service.Services, clock domain.Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		e, err := svcs.Query.GetEvent(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 60s
		writeJSONWithCache(c, http.StatusOK, toEventResponse(e, clock.Now()), "public, max-age=60", true)
	}
}

// @Summary  Get seat availability
// @Param    id  path  string  true  "Event ID"
// @Success  200  {object}  AvailabilityResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id}/availability [get]
func handleGetAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		av, err := svcs.Query.Availability(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, toAvailabilityResponse(av), "public, max-age=5", true)
	}
}

// @Summary  Register for an event (idempotent)
// @Security BearerAuth
// @Param    id  path  string  true  "Event ID"
// @Param    Idempotency-Key  header  string  false  "client retry key"
// @Success  201 {object} RegisterResponse "registered"
// @Success  200 {object} RegisterResponse "already registered"
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "capacity unavailable / idem in progress"
// @Failure  422 {object} ErrorResponse "age ineligible"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Failure  503 {object} ErrorResponse "transaction conflict, retry"
// @Router   /events/{id}/registrations [post]
func handleRegister(svcs *service.Services, idem IdempotencyStore, clock domain.Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		eventID := c.Param("id")
		userID := callerID(c)

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemRegistration(userID, eventID, idemKey)

			if replayed := replayIdempotent(c, idem, idemStorageKey, idemKey); replayed {
				return
			}

			locked, err := idem.AcquireLock(ctx, idemStorageKey, 60*time.Second)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if replayed := replayIdempotent(c, idem, idemStorageKey, idemKey); replayed {
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
				return
			}
		}

		res, err := svcs.Registration.Register(ctx, registration.RegisterInput{
			UserID:  userID,
			EventID: eventID,
			RateKey: "ip:" + c.ClientIP(),
		})
		if err != nil {
			if idemStorageKey != "" {
				_ = idem.Release(ctx, idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		resp := RegisterResponse{
			Registration:      withQR(svcs, res.Registration, clock.Now()),
			AlreadyRegistered: !res.Created,
		}

		status := http.StatusCreated
		if !res.Created {
			status = http.StatusOK
		}

		if idemStorageKey != "" {
			if res.Created {
				b, _ := json.Marshal(resp)
				_ = idem.SaveResult(ctx, idemStorageKey, string(b))
			} else {
				_ = idem.Release(ctx, idemStorageKey)
			}
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(status, resp)
	}
}

func replayIdempotent(c *gin.Context, idem IdempotencyStore, key, idemKey string) bool {
	payload, ok, _ := idem.GetResult(c.Request.Context(), key)
	if !ok {
		return false
	}

	c.Header("Idempotency-Key", idemKey)
	c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
	return true
}

// withQR attaches a signed QR payload for tickets that can still be scanned.
func withQR(svcs *service.Services, r *domain.Registration, now time.Time) RegistrationResponse {
	resp := toRegistrationResponse(r)
	if svcs.Signer == nil || r.Status.Terminal() {
		return resp
	}

	if qr, err := svcs.Signer.Sign(r.TicketCode, r.EventID, now); err == nil {
		resp.QRPayload = qr
	}
	return resp
}

// @Summary  List my registrations
// @Security BearerAuth
// @Success  200 {array} RegistrationResponse
// @Router   /me/registrations [get]
func handleListMyRegistrations(svcs *service.Services, clock domain.Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		regs, err := svcs.Registration.ListByUser(c.Request.Context(), callerID(c))
		if err != nil {
			respondErr(c, err)
			return
		}

		now := clock.Now()
		out := make([]RegistrationResponse, 0, len(regs))
		for i := range regs {
			out = append(out, withQR(svcs, &regs[i], now))
		}
		c.JSON(http.StatusOK, out)
	}
}

// @Summary  Cancel my registration
// @Security BearerAuth
// @Param    id  path  string  true  "Registration ID"
// @Success  200 {object} RegistrationResponse
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "already canceled / attended / event started"
// @Router   /registrations/{id} [delete]
func handleCancelRegistration(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		reg, err := svcs.Registration.Cancel(c.Request.Context(), c.Param("id"), callerID(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toRegistrationResponse(reg))
	}
}

// @Summary  Check in a ticket
// @Security BearerAuth
// @Param    req body  CheckInRequest true "ticket code or signed QR payload"
// @Success  200 {object} CheckInResponse
// @Failure  404 {object} ErrorResponse "invalid code"
// @Failure  409 {object} ErrorResponse "already attended / canceled / outside window"
// @Router   /checkin [post]
func handleCheckIn(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CheckInRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		res, err := svcs.CheckIn.CheckIn(c.Request.Context(), req.Code, "device:"+callerID(c))
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, CheckInResponse{
			Registration: toRegistrationResponse(res.Registration),
			EventTitle:   res.Event.Title,
		})
	}
}

// @Summary  List registrations of an event
// @Security BearerAuth
// @Param    id  path  string  true  "Event ID"
// @Success  200 {array} RegistrationResponse
// @Failure  404 {object} ErrorResponse
// @Router   /events/{id}/registrations [get]
func handleListEventRegistrations(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		regs, err := svcs.Registration.ListByEvent(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}

		out := make([]RegistrationResponse, 0, len(regs))
		for i := range regs {
			out = append(out, toRegistrationResponse(&regs[i]))
		}
		c.JSON(http.StatusOK, out)
	}
}

// @Summary  Create user
// @Security BearerAuth
// @Param    req body  CreateUserRequest true "payload"
// @Success  201 {object} UserResponse
// @Failure  409 {object} ErrorResponse
// @Router   /admin/users [post]
func handleCreateUser(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		birth, err := parseDate(req.BirthDate)
		if err != nil {
			badRequest(c, "invalid birth_date (YYYY-MM-DD)")
			return
		}

		u, err := svcs.Admin.CreateUser(c.Request.Context(), req.Email, req.FullName, birth)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, UserResponse{
			ID:        u.ID,
			Email:     u.Email,
			FullName:  u.FullName,
			BirthDate: u.BirthDate.Format(dateLayout),
		})
	}
}

// @Summary  Create event (draft)
// @Security BearerAuth
// @Param    req body  EventRequest true "payload"
// @Success  201 {object} EventResponse
// @Failure  400 {object} ErrorResponse
// @Router   /admin/events [post]
func handleCreateEvent(svcs *service.Services, clock domain.Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		e, err := svcs.Admin.CreateEvent(c.Request.Context(), req.input())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, toEventResponse(e, clock.Now()))
	}
}

// @Summary  Update event
// @Security BearerAuth
// @Param    id  path  string  true  "Event ID"
// @Param    req body  EventRequest true "payload"
// @Success  200 {object} EventResponse
// @Failure  409 {object} ErrorResponse "capacity below registered / cancelled"
// @Router   /admin/events/{id} [put]
func handleUpdateEvent(svcs *service.Services, clock domain.Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		e, err := svcs.Admin.UpdateEvent(c.Request.Context(), c.Param("id"), req.input())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toEventResponse(e, clock.Now()))
	}
}

// @Summary  Publish event
// @Security BearerAuth
// @Param    id  path  string  true  "Event ID"
// @Success  200 {object} EventResponse
// @Failure  409 {object} ErrorResponse
// @Router   /admin/events/{id}/publish [post]
func handlePublishEvent(svcs *service.Services, clock domain.Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		e, err := svcs.Admin.Publish(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toEventResponse(e, clock.Now()))
	}
}

// @Summary  Cancel event
// @Security BearerAuth
// @Param    id  path  string  true  "Event ID"
// @Success  200 {object} EventResponse
// @Failure  409 {object} ErrorResponse
// @Router   /admin/events/{id}/cancel [post]
func handleCancelEvent(svcs *service.Services, clock domain.Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		e, err := svcs.Admin.CancelEvent(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toEventResponse(e, clock.Now()))
	}
}

// @Summary  Seat counter reconciliation report
// @Security BearerAuth
// @Param    id  path  string  true  "Event ID"
// @Success  200 {object} ReconcileResponse
// @Router   /admin/events/{id}/reconcile [get]
func handleReconcile(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		rep, err := svcs.Admin.Reconcile(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, ReconcileResponse{
			EventID:    rep.EventID,
			Capacity:   rep.Capacity,
			Stored:     rep.Stored,
			Actual:     rep.Actual,
			Consistent: rep.Consistent(),
		})
	}
}

// @Summary  Approve pending registration
// @Security BearerAuth
// @Param    id  path  string  true  "Registration ID"
// @Success  200 {object} RegistrationResponse
// @Failure  409 {object} ErrorResponse "not pending"
// @Router   /admin/registrations/{id}/approve [post]
func handleApproveRegistration(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		reg, err := svcs.Registration.Approve(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toRegistrationResponse(reg))
	}
}

// @Summary  Cancel any registration
// @Security BearerAuth
// @Param    id  path  string  true  "Registration ID"
// @Success  200 {object} RegistrationResponse
// @Failure  409 {object} ErrorResponse
// @Router   /admin/registrations/{id} [delete]
func handleAdminCancelRegistration(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		reg, err := svcs.Registration.CancelAsAdmin(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toRegistrationResponse(reg))
	}
}
