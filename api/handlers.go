/*
handlers.go - HTTP API handlers for lesson booking

PURPOSE:
  Exposes booking.Service over REST. Handlers decode the request, take the
  actor from the bearer token, call the service and render the result.
  Business rules and write authorization live in the service; handlers
  only restrict what an actor may read.

ENDPOINTS:
  Bookings:
    POST   /api/bookings                     Create a booking
    GET    /api/bookings                     List bookings (filters in query)
    GET    /api/bookings/{id}                Get one booking
    GET    /api/bookings/{id}/history        Status history
    GET    /api/bookings/{id}/trial          Trial mirror
    POST   /api/bookings/{id}/status         Change status
    POST   /api/bookings/{id}/change-time    Move to another slot
    POST   /api/bookings/{id}/memo           Submit teacher memo
    POST   /api/bookings/{id}/best-memo      Mark or unmark best memo
    POST   /api/bookings/{id}/unit           Change unit
    POST   /api/bookings/{id}/recommendation Trial recommendation letter

  Operations:
    POST   /api/absent-periods               Cancel lessons over a leave
    GET    /api/packages/{id}                Package with ledger
    GET    /api/teachers/{id}/stats          Teacher counters
    POST   /api/catalog                      Import a JSON catalog (staff)
    POST   /api/jobs/{name}                  Run a scheduled job now (admin)

ERROR HANDLING:
  Domain errors map by kind:
  - 400: validation_error
  - 404: not_found
  - 409: conflict, illegal_transition
  - 422: inactive, entitlement_exhausted
  - 500: internal (logged, message hidden)

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/warp/lesson-booking/booking"
	"github.com/warp/lesson-booking/factory"
	"github.com/warp/lesson-booking/generic"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the handlers need beyond the service.
type Store interface {
	generic.TxStore
	Ping(ctx context.Context) error
	Reset(ctx context.Context) error
}

// QueueMonitor reports the outbound event backlog.
type QueueMonitor interface {
	Depth(ctx context.Context) (int64, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *booking.Service
	Store   Store
	Catalog *factory.CatalogFactory

	scheduler *Scheduler
	queue     QueueMonitor
	clock     generic.Clock
	log       *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

type HandlerOption func(*Handler)

func WithScheduler(s *Scheduler) HandlerOption       { return func(h *Handler) { h.scheduler = s } }
func WithQueueMonitor(q QueueMonitor) HandlerOption  { return func(h *Handler) { h.queue = q } }
func WithHandlerClock(c generic.Clock) HandlerOption { return func(h *Handler) { h.clock = c } }
func WithHandlerLogger(l *zap.Logger) HandlerOption  { return func(h *Handler) { h.log = l } }

func NewHandler(svc *booking.Service, store Store, opts ...HandlerOption) *Handler {
	h := &Handler{
		Service: svc,
		Store:   store,
		Catalog: factory.NewCatalogFactory(),
		clock:   generic.SystemClock{},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// =============================================================================
// BOOKINGS
// =============================================================================

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)

	var req CreateBookingRequest
	if !decode(w, r, &req) {
		return
	}

	status, ok := parseOptionalStatus(w, r, "status", req.Status)
	if !ok {
		return
	}
	source := generic.Source(req.Source)
	switch source {
	case "", generic.SourceStudent:
		source = generic.SourceStudent
	case generic.SourceAdmin, generic.SourceCronjob:
		if !actor.IsStaff() {
			writeStatus(w, r, http.StatusForbidden, "forbidden", "only staff may book with source "+req.Source)
			return
		}
	default:
		writeStatus(w, r, http.StatusBadRequest, "invalid_source", "unknown source "+req.Source)
		return
	}

	b, err := h.Service.CreateBooking(r.Context(), booking.CreateRequest{
		StudentID:              generic.StudentID(req.StudentID),
		TeacherID:              generic.TeacherID(req.TeacherID),
		CalendarID:             generic.CalendarID(req.CalendarID),
		StartTime:              req.StartTime,
		EndTime:                req.EndTime,
		CourseID:               generic.CourseID(req.CourseID),
		UnitID:                 generic.UnitID(req.UnitID),
		PackageID:              generic.PackageID(req.PackageID),
		IsRegularBooking:       req.IsRegularBooking,
		Source:                 source,
		Status:                 status,
		SubstituteForTeacherID: generic.TeacherID(req.SubstituteForTeacherID),
		Actor:                  actor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toBookingDTO(*b))
}

// ListBookings filters by student_id, teacher_id, package_id, status
// (comma separated), from, to, best_memo, limit and offset. Students and
// teachers only see their own lessons.
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	q := r.URL.Query()

	var f generic.BookingFilter
	ints := []struct {
		name string
		dst  *int64
	}{
		{"from", &f.From},
		{"to", &f.To},
	}
	for _, p := range ints {
		if v := q.Get(p.name); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				writeStatus(w, r, http.StatusBadRequest, "invalid_query", p.name+" must be an integer")
				return
			}
			*p.dst = n
		}
	}

	var ok bool
	var id int64
	if id, ok = queryID(w, r, "student_id"); !ok {
		return
	}
	f.StudentID = generic.StudentID(id)
	if id, ok = queryID(w, r, "teacher_id"); !ok {
		return
	}
	f.TeacherID = generic.TeacherID(id)
	if id, ok = queryID(w, r, "package_id"); !ok {
		return
	}
	f.PackageID = generic.PackageID(id)

	if v := q.Get("status"); v != "" {
		for _, name := range strings.Split(v, ",") {
			s, err := generic.ParseStatus(name)
			if err != nil {
				writeStatus(w, r, http.StatusBadRequest, "unknown_status", err.Error())
				return
			}
			f.Statuses = append(f.Statuses, s)
		}
	}
	if v := q.Get("best_memo"); v != "" {
		best, err := strconv.ParseBool(v)
		if err != nil {
			writeStatus(w, r, http.StatusBadRequest, "invalid_query", "best_memo must be a boolean")
			return
		}
		f.BestMemo = &best
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeStatus(w, r, http.StatusBadRequest, "invalid_query", "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeStatus(w, r, http.StatusBadRequest, "invalid_query", "offset must be a non-negative integer")
			return
		}
		f.Offset = n
	}

	switch actor.Role {
	case generic.RoleStudent:
		f.StudentID = generic.StudentID(actor.ID)
	case generic.RoleTeacher:
		f.TeacherID = generic.TeacherID(actor.ID)
	}

	bookings, err := h.Service.ListBookings(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toBookingDTOs(bookings))
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, ok := h.visibleBooking(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, toBookingDTO(*b))
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	b, ok := h.visibleBooking(w, r)
	if !ok {
		return
	}
	events, err := h.Service.History(r.Context(), b.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toStatusEventDTOs(events))
}

func (h *Handler) GetTrial(w http.ResponseWriter, r *http.Request) {
	b, ok := h.visibleBooking(w, r)
	if !ok {
		return
	}
	tb, err := h.Service.GetTrialBooking(r.Context(), b.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toTrialDTO(*tb))
}

func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req ChangeStatusRequest
	if !decode(w, r, &req) {
		return
	}
	to, err := generic.ParseStatus(req.Status)
	if err != nil {
		writeStatus(w, r, http.StatusBadRequest, "unknown_status", err.Error())
		return
	}
	expected, ok := parseOptionalStatus(w, r, "expected_status", req.ExpectedStatus)
	if !ok {
		return
	}

	b, err := h.Service.ChangeStatus(r.Context(), booking.StatusRequest{
		BookingID:      generic.BookingID(id),
		To:             to,
		Reason:         req.Reason,
		ExpectedStatus: expected,
		Actor:          actorOf(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toBookingDTO(*b))
}

// ChangeTime returns the successor booking.
func (h *Handler) ChangeTime(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req ChangeTimeRequest
	if !decode(w, r, &req) {
		return
	}

	b, err := h.Service.ChangeTime(r.Context(), booking.ChangeTimeRequest{
		BookingID:  generic.BookingID(id),
		TeacherID:  generic.TeacherID(req.TeacherID),
		CalendarID: generic.CalendarID(req.CalendarID),
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Reason:     req.Reason,
		Actor:      actorOf(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toBookingDTO(*b))
}

func (h *Handler) SubmitMemo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req MemoRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.Service.SubmitMemo(r.Context(), booking.MemoRequest{
		BookingID: generic.BookingID(id),
		Memo:      req.Memo,
		Actor:     actorOf(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, MemoResultDTO{Booking: toBookingDTO(*res.Booking), LateMemo: res.LateMemo})
}

func (h *Handler) MarkBestMemo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req BestMemoRequest
	if !decode(w, r, &req) {
		return
	}

	b, err := h.Service.MarkBestMemo(r.Context(), generic.BookingID(id), req.Best, actorOf(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toBookingDTO(*b))
}

func (h *Handler) EditUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req UnitRequest
	if !decode(w, r, &req) {
		return
	}

	b, err := h.Service.EditUnit(r.Context(), generic.BookingID(id), generic.UnitID(req.UnitID), actorOf(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toBookingDTO(*b))
}

func (h *Handler) SetRecommendation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req RecommendationRequest
	if !decode(w, r, &req) {
		return
	}

	tb, err := h.Service.SetRecommendationLink(r.Context(), generic.BookingID(id), req.Link, actorOf(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toTrialDTO(*tb))
}

// =============================================================================
// OPERATIONS
// =============================================================================

func (h *Handler) CancelAbsentPeriod(w http.ResponseWriter, r *http.Request) {
	var req AbsentPeriodRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.Service.CancelAbsentPeriod(r.Context(), booking.AbsentPeriodRequest{
		StudentID: generic.StudentID(req.StudentID),
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Reason:    req.Reason,
		Actor:     actorOf(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.Err != nil {
		h.log.Warn("absent period partially failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int("failed", len(res.Failed)),
			zap.Error(res.Err),
		)
	}
	writeJSON(w, r, http.StatusOK, toBatchDTO(res))
}

func (h *Handler) GetPackage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	view, err := h.Service.Package(r.Context(), generic.PackageID(id))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	actor := actorOf(r)
	if !actor.IsStaff() && !actor.IsStudent(view.Package.StudentID) {
		writeStatus(w, r, http.StatusForbidden, "forbidden", "package belongs to another student")
		return
	}
	writeJSON(w, r, http.StatusOK, toPackageDTO(*view))
}

func (h *Handler) GetTeacherStats(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	actor := actorOf(r)
	if !actor.IsStaff() && !actor.IsTeacher(generic.TeacherID(id)) {
		writeStatus(w, r, http.StatusForbidden, "forbidden", "stats belong to another teacher")
		return
	}

	st, err := h.Service.TeacherStats(r.Context(), generic.TeacherID(id))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, TeacherStatsDTO{
		TeacherID:        id,
		CompletedLessons: st.CompletedLessons,
		TaughtHours:      st.TaughtHours.Value.StringFixed(2),
		UpdatedAt:        st.UpdatedAt,
	})
}

// ImportCatalog seeds teachers, students, courses, packages and slots.
func (h *Handler) ImportCatalog(w http.ResponseWriter, r *http.Request) {
	if !actorOf(r).IsStaff() {
		writeStatus(w, r, http.StatusForbidden, "forbidden", "only staff may import catalogs")
		return
	}
	var cj factory.CatalogJSON
	if !decode(w, r, &cj) {
		return
	}
	catalog, err := h.Catalog.FromJSON(cj)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := catalog.Seed(r.Context(), h.Store, generic.Ms(h.clock.Now())); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]int{
		"teachers": len(catalog.Teachers),
		"students": len(catalog.Students),
		"courses":  len(catalog.Courses),
		"units":    len(catalog.Units),
		"packages": len(catalog.Packages),
		"slots":    len(catalog.Slots),
	})
}

// RunJob runs one scheduled job synchronously.
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	if actorOf(r).Role != generic.RoleAdmin {
		writeStatus(w, r, http.StatusForbidden, "forbidden", "only admins may run jobs")
		return
	}
	if h.scheduler == nil {
		writeStatus(w, r, http.StatusServiceUnavailable, "scheduler_disabled", "scheduler is not configured")
		return
	}
	res, err := h.scheduler.Run(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toBatchDTO(res))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthDTO{Status: "ok", Storage: "ok"}
	status := http.StatusOK

	if err := h.Store.Ping(r.Context()); err != nil {
		resp.Status, resp.Storage, resp.Error = "degraded", "down", err.Error()
		status = http.StatusServiceUnavailable
	}
	if h.queue != nil {
		if depth, err := h.queue.Depth(r.Context()); err != nil {
			resp.Status, resp.Error = "degraded", err.Error()
			status = http.StatusServiceUnavailable
		} else {
			resp.QueueDepth = &depth
		}
	}
	writeJSON(w, r, status, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

// visibleBooking loads {id} and checks the actor may read it.
func (h *Handler) visibleBooking(w http.ResponseWriter, r *http.Request) (*generic.Booking, bool) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return nil, false
	}
	b, err := h.Service.GetBooking(r.Context(), generic.BookingID(id))
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	actor := actorOf(r)
	if !actor.IsStaff() && !actor.IsStudent(b.StudentID) && !actor.IsTeacher(b.TeacherID) {
		writeStatus(w, r, http.StatusForbidden, "forbidden", "booking belongs to someone else")
		return nil, false
	}
	return b, true
}

func actorOf(r *http.Request) generic.Actor {
	actor, _ := ActorFrom(r.Context())
	return actor
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		writeStatus(w, r, http.StatusBadRequest, "invalid_body", "failed to decode request: "+err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeStatus(w, r, http.StatusBadRequest, "invalid_id", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

// queryID returns 0 when the parameter is absent.
func queryID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		writeStatus(w, r, http.StatusBadRequest, "invalid_query", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func parseOptionalStatus(w http.ResponseWriter, r *http.Request, field, v string) (generic.Status, bool) {
	if v == "" {
		return 0, true
	}
	s, err := generic.ParseStatus(v)
	if err != nil {
		writeStatus(w, r, http.StatusBadRequest, "unknown_status", field+": "+err.Error())
		return 0, false
	}
	return s, true
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	render.Status(r, status)
	render.JSON(w, r, data)
}

func writeStatus(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, r, status, ErrorResponse{Error: http.StatusText(status), Code: code, Message: message})
}

// HTTPStatus maps an error kind to its response status.
func HTTPStatus(kind generic.Kind) int {
	switch kind {
	case generic.KindValidation:
		return http.StatusBadRequest
	case generic.KindNotFound:
		return http.StatusNotFound
	case generic.KindConflict, generic.KindIllegalTransition:
		return http.StatusConflict
	case generic.KindInactive, generic.KindEntitlementExhausted:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := generic.KindOf(err)
	status := HTTPStatus(kind)

	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeStatus(w, r, status, string(generic.KindInternal), "internal error")
		return
	}

	code := string(kind)
	if e, ok := generic.AsError(err); ok && e.Code != "" {
		code = e.Code
	}
	writeJSON(w, r, status, ErrorResponse{Error: string(kind), Code: code, Message: err.Error()})
}
