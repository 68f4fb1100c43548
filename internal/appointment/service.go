package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-appointment-scheduling/internal/observability/metrics"
	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
	"github.com/hackgods/clinic-appointment-scheduling/pkg/logging"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventSeriesCreated        = "SERIES_CREATED"
	EventAppointmentUpdated   = "APPOINTMENT_UPDATED"
	EventSeriesUpdated        = "SERIES_UPDATED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentDeleted   = "APPOINTMENT_DELETED"
	EventSeriesDeleted        = "SERIES_DELETED"
)

var (
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrScheduleBusy            = errors.New("doctor schedule is being modified, please retry")
)

// CreateRequest describes a new appointment. A nil Recurrence books a single
// appointment.
type CreateRequest struct {
	DoctorID   int64
	PatientID  int64
	Date       Date
	StartTime  string
	EndTime    string
	Notes      string
	Room       string
	Recurrence Recurrence
}

// CreateResult reports what was booked. Truncated means the instance cap
// ended a series before its end date.
type CreateResult struct {
	Appointments []Appointment `json:"appointments"`
	SkippedDates []Date        `json:"skipped_dates"`
	Truncated    bool          `json:"truncated"`
}

type Service struct {
	repo      Repository
	validator *Validator
	locker    redisclient.Locker
	events    EventRecorder
	metrics   *metrics.SchedulingMetrics
	logger    *logging.Logger
	now       func() time.Time
	strict    bool
	workers   int
}

type Option func(*Service)

func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithEventRecorder(r EventRecorder) Option {
	return func(s *Service) { s.events = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithStrictTransitions enforces scheduled -> confirmed -> completed and
// scheduled|confirmed -> cancelled on every status change.
func WithStrictTransitions(strict bool) Option {
	return func(s *Service) { s.strict = strict }
}

// WithValidationConcurrency bounds the per-instance validation fan-out.
func WithValidationConcurrency(n int) Option {
	return func(s *Service) { s.workers = n }
}

func NewService(repo Repository, locker redisclient.Locker, opts ...Option) *Service {
	if repo == nil {
		panic("appointment: repository required")
	}
	s := &Service{
		repo:      repo,
		validator: NewValidator(repo),
		locker:    locker,
		now:       time.Now,
		workers:   8,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = redisclient.NopLocker{}
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	if s.workers < 1 {
		s.workers = 1
	}
	return s
}

// Today is the reference day for skipping past recurrence dates.
func (s *Service) Today() Date {
	return DateOf(s.now())
}

// Validator exposes the slot validator for pre-submission feedback.
func (s *Service) Validator() *Validator {
	return s.validator
}

// List returns the clinic's appointments matching f. The filter is passed
// to the repository and applied again here, so either side may honor it.
func (s *Service) List(ctx context.Context, clinic string, f Filters) ([]Appointment, error) {
	all, err := s.repo.ListByClinic(ctx, clinic, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return f.Filter(all), nil
}

func (s *Service) ListByDoctor(ctx context.Context, clinic string, doctorID int64) ([]Appointment, error) {
	out, err := s.repo.ListByDoctor(ctx, clinic, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return out, nil
}

func (s *Service) ListByPatient(ctx context.Context, clinic string, patientID int64) ([]Appointment, error) {
	out, err := s.repo.ListByPatient(ctx, clinic, patientID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, clinic string, id int64) (*Appointment, error) {
	a, err := s.repo.Get(ctx, clinic, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

// Preview expands req without touching the repository. Template errors
// (missing fields, bad times, hours, duration) are reported as a batch.
func (s *Service) Preview(req CreateRequest) (Expansion, error) {
	template, errs := prepareTemplate(req)
	if len(errs) > 0 {
		return Expansion{}, validationFailed(errs)
	}
	return Expand(template, req.Recurrence, s.Today()), nil
}

// Create validates and books a single appointment or a whole series. For a
// series every instance is validated before anything is written, and the
// batch is submitted in one repository call.
func (s *Service) Create(ctx context.Context, clinic string, req CreateRequest) (*CreateResult, error) {
	template, errs := prepareTemplate(req)
	if len(errs) > 0 {
		return nil, s.fail(errs)
	}

	exp := Expand(template, req.Recurrence, s.Today())
	if len(exp.Instances) == 0 {
		return nil, s.fail([]ValidationError{{
			Message: "recurrence produced no dates on or after today",
			Field:   "recurrence",
			Code:    CodeEmptySeries,
		}})
	}
	recurring := req.Recurrence != nil && req.Recurrence.Type() != RecurrenceNone

	var created []Appointment
	err := s.locker.WithDoctorLock(ctx, clinic, template.DoctorID, func(lockCtx context.Context) error {
		verrs, err := s.validateInstances(lockCtx, clinic, exp.Instances, recurring)
		if err != nil {
			return err
		}
		if len(verrs) > 0 {
			return s.fail(verrs)
		}

		if !recurring {
			appt, err := s.repo.Create(lockCtx, clinic, exp.Instances[0])
			if err != nil {
				return fmt.Errorf("create appointment: %w", err)
			}
			created = []Appointment{*appt}
			return nil
		}

		seriesID := uuid.New()
		for i := range exp.Instances {
			exp.Instances[i].Series.SeriesID = seriesID
		}
		batch, err := s.repo.CreateBatch(lockCtx, clinic, exp.Instances)
		if err != nil {
			return fmt.Errorf("create appointment series: %w", err)
		}
		created = batch
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrScheduleBusy
		}
		return nil, err
	}

	if recurring {
		s.metrics.ObserveCreated("series", len(created))
		s.logger.Info("appointment series created",
			"clinic", clinic,
			"doctor_id", template.DoctorID,
			"instances", len(created),
			"skipped_dates", len(exp.SkippedDates),
			"truncated", exp.Truncated,
		)
		if len(created) > 0 {
			s.logEvent(ctx, clinic, created[0].ID, EventSeriesCreated, map[string]any{
				"series_id": seriesIDOf(created[0]),
				"instances": len(created),
				"type":      req.Recurrence.Type(),
			})
		}
	} else {
		s.metrics.ObserveCreated("single", len(created))
		s.logger.Info("appointment created",
			"clinic", clinic,
			"appointment_id", created[0].ID,
			"doctor_id", created[0].DoctorID,
			"date", created[0].Date.String(),
		)
		s.logEvent(ctx, clinic, created[0].ID, EventAppointmentCreated, map[string]any{
			"doctor_id":  created[0].DoctorID,
			"patient_id": created[0].PatientID,
			"date":       created[0].Date.String(),
			"start_time": created[0].StartTime,
		})
	}

	return &CreateResult{Appointments: created, SkippedDates: exp.SkippedDates, Truncated: exp.Truncated}, nil
}

// Update merges p into the appointment and re-validates the slot when the
// doctor, date or times change. With updateAll the patch targets every
// instance of the appointment's series.
func (s *Service) Update(ctx context.Context, clinic string, id int64, p Patch, updateAll bool) ([]Appointment, error) {
	existing, err := s.repo.Get(ctx, clinic, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	series := updateAll && existing.Series != nil
	p, errs := normalizePatch(p)
	if series && p.Date != nil {
		errs = append(errs, ValidationError{
			Message: "date cannot be changed for a whole series",
			Field:   "date",
			Code:    CodeInvalidSeriesUpdate,
		})
	}
	checkStatus := false
	if p.Status != nil {
		if !p.Status.Valid() {
			errs = append(errs, ValidationError{
				Message: fmt.Sprintf("unknown status %q", *p.Status),
				Field:   "status",
				Code:    CodeInvalidStatus,
			})
		} else {
			checkStatus = s.strict
		}
	}
	if len(errs) > 0 {
		return nil, s.fail(errs)
	}

	// A series-wide status change must be legal for every instance, not
	// just the one addressed.
	if checkStatus {
		targets, err := s.updateTargets(ctx, clinic, existing, series)
		if err != nil {
			return nil, err
		}
		for _, t := range targets {
			if !CanTransition(t.Status, *p.Status) {
				return nil, fmt.Errorf("%w: appointment %d %s -> %s",
					ErrInvalidStatusTransition, t.ID, t.Status, *p.Status)
			}
		}
	}

	write := func(ctx context.Context) ([]Appointment, error) {
		if series {
			out, err := s.repo.UpdateSeries(ctx, clinic, id, p)
			if err != nil {
				return nil, fmt.Errorf("update appointment series: %w", err)
			}
			return out, nil
		}
		out, err := s.repo.Update(ctx, clinic, id, p)
		if err != nil {
			return nil, fmt.Errorf("update appointment: %w", err)
		}
		return []Appointment{*out}, nil
	}

	var updated []Appointment
	if !p.Temporal() {
		updated, err = write(ctx)
		if err != nil {
			return nil, err
		}
	} else {
		doctorID := p.Apply(*existing).DoctorID
		err = s.locker.WithDoctorLock(ctx, clinic, doctorID, func(lockCtx context.Context) error {
			targets, err := s.updateTargets(lockCtx, clinic, existing, series)
			if err != nil {
				return err
			}

			verrs, err := s.validateMerged(lockCtx, clinic, targets, p, series)
			if err != nil {
				return err
			}
			if len(verrs) > 0 {
				return s.fail(verrs)
			}

			updated, err = write(lockCtx)
			return err
		})
		if err != nil {
			if errors.Is(err, redisclient.ErrLockNotAcquired) {
				return nil, ErrScheduleBusy
			}
			return nil, err
		}
	}

	event := EventAppointmentUpdated
	if series {
		event = EventSeriesUpdated
	}
	s.logger.Info("appointment updated",
		"clinic", clinic,
		"appointment_id", id,
		"series", series,
		"instances", len(updated),
	)
	s.logEvent(ctx, clinic, id, event, map[string]any{
		"instances": len(updated),
		"temporal":  p.Temporal(),
	})
	return updated, nil
}

// Delete removes one appointment, or its whole series when cascade is set.
func (s *Service) Delete(ctx context.Context, clinic string, id int64, cascade bool) error {
	existing, err := s.repo.Get(ctx, clinic, id)
	if err != nil {
		return fmt.Errorf("load appointment: %w", err)
	}

	event := EventAppointmentDeleted
	if cascade && existing.Series != nil {
		if err := s.repo.DeleteSeries(ctx, clinic, id); err != nil {
			return fmt.Errorf("delete appointment series: %w", err)
		}
		event = EventSeriesDeleted
	} else {
		if err := s.repo.Delete(ctx, clinic, id); err != nil {
			return fmt.Errorf("delete appointment: %w", err)
		}
	}

	s.logger.Info("appointment deleted", "clinic", clinic, "appointment_id", id, "cascade", cascade)
	s.logEvent(ctx, clinic, id, event, map[string]any{"cascade": cascade})
	return nil
}

func (s *Service) Confirm(ctx context.Context, clinic string, id int64) (*Appointment, error) {
	return s.transition(ctx, clinic, id, StatusConfirmed, EventAppointmentConfirmed)
}

func (s *Service) Cancel(ctx context.Context, clinic string, id int64) (*Appointment, error) {
	return s.transition(ctx, clinic, id, StatusCancelled, EventAppointmentCancelled)
}

func (s *Service) Complete(ctx context.Context, clinic string, id int64) (*Appointment, error) {
	return s.transition(ctx, clinic, id, StatusCompleted, EventAppointmentCompleted)
}

// transition issues a status-only update. Times and conflicts are not
// re-validated.
func (s *Service) transition(ctx context.Context, clinic string, id int64, to AppointmentStatus, event string) (*Appointment, error) {
	if s.strict {
		current, err := s.repo.Get(ctx, clinic, id)
		if err != nil {
			return nil, fmt.Errorf("load appointment: %w", err)
		}
		if !CanTransition(current.Status, to) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, current.Status, to)
		}
	}

	updated, err := s.repo.Update(ctx, clinic, id, Patch{Status: &to})
	if err != nil {
		return nil, fmt.Errorf("set appointment status %s: %w", to, err)
	}

	s.metrics.ObserveTransition(string(to))
	s.logger.Info("appointment status changed", "clinic", clinic, "appointment_id", id, "status", to)
	s.logEvent(ctx, clinic, id, event, map[string]any{"status": to})
	return updated, nil
}

// CanTransition reports whether the lifecycle allows from -> to.
func CanTransition(from, to AppointmentStatus) bool {
	switch from {
	case StatusScheduled:
		return to == StatusConfirmed || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusCompleted || to == StatusCancelled
	}
	return false
}

func (s *Service) validateInstances(ctx context.Context, clinic string, instances []Draft, tagDates bool) ([]ValidationError, error) {
	results := make([][]ValidationError, len(instances))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, inst := range instances {
		g.Go(func() error {
			errs, err := s.validator.Validate(gctx, clinic, inst.Slot(), 0)
			if err != nil {
				return err
			}
			results[i] = errs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []ValidationError
	for i, errs := range results {
		for _, ve := range errs {
			if tagDates {
				ve.Date = instances[i].Date.String()
			}
			out = append(out, ve)
		}
	}
	return out, nil
}

// updateTargets returns the appointments an update touches: existing alone,
// or every instance of its series.
func (s *Service) updateTargets(ctx context.Context, clinic string, existing *Appointment, series bool) ([]Appointment, error) {
	if !series {
		return []Appointment{*existing}, nil
	}
	f := Filters{SeriesID: existing.Series.SeriesID}
	siblings, err := s.repo.ListByClinic(ctx, clinic, f)
	if err != nil {
		return nil, fmt.Errorf("load appointment series: %w", err)
	}
	return f.Filter(siblings), nil
}

func (s *Service) validateMerged(ctx context.Context, clinic string, targets []Appointment, p Patch, tagDates bool) ([]ValidationError, error) {
	var out []ValidationError
	for _, t := range targets {
		if t.Status == StatusCancelled {
			continue
		}
		merged := p.Apply(t)
		errs, err := s.validator.Validate(ctx, clinic, merged.Slot(), t.ID)
		if err != nil {
			return nil, err
		}
		for _, ve := range errs {
			if tagDates {
				ve.Date = merged.Date.String()
			}
			out = append(out, ve)
		}
	}
	return out, nil
}

func (s *Service) fail(errs []ValidationError) error {
	for _, ve := range errs {
		s.metrics.ObserveValidationFailure(string(ve.Code))
	}
	return validationFailed(errs)
}

func (s *Service) logEvent(ctx context.Context, clinic string, appointmentID int64, eventType string, payload map[string]any) {
	if s.events == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", "event_type", eventType, "error", err)
		data = nil
	}

	apptID := appointmentID
	ev := EventLog{
		EventType:     eventType,
		ClinicSlug:    clinic,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.events.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to insert event log",
			"event_type", eventType,
			"appointment_id", appointmentID,
			"error", err,
		)
	}
}

// prepareTemplate checks required fields and normalizes the times, then
// runs the I/O-free slot checks once for the whole request.
func prepareTemplate(req CreateRequest) (Draft, []ValidationError) {
	var errs []ValidationError
	missing := func(field string) {
		errs = append(errs, ValidationError{
			Message: field + " is required",
			Field:   field,
			Code:    CodeMissingRequiredField,
		})
	}
	if req.DoctorID == 0 {
		missing("doctor_id")
	}
	if req.PatientID == 0 {
		missing("patient_id")
	}
	if req.Date.IsZero() {
		missing("date")
	}
	if req.StartTime == "" {
		missing("start_time")
	}
	if req.EndTime == "" {
		missing("end_time")
	}
	if len(errs) > 0 {
		return Draft{}, errs
	}

	template := Draft{
		DoctorID:  req.DoctorID,
		PatientID: req.PatientID,
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Status:    StatusScheduled,
		Notes:     req.Notes,
		Room:      req.Room,
	}
	slot, errs := CheckSlot(template.Slot())
	if len(errs) > 0 {
		return Draft{}, errs
	}
	template.StartTime = slot.StartTime
	template.EndTime = slot.EndTime
	return template, nil
}

func normalizePatch(p Patch) (Patch, []ValidationError) {
	var errs []ValidationError
	if p.StartTime != nil {
		v, err := NormalizeTime(*p.StartTime)
		if err != nil {
			errs = append(errs, ValidationError{Message: err.Error(), Field: "start_time", Code: CodeInvalidTimeFormat})
		} else {
			p.StartTime = &v
		}
	}
	if p.EndTime != nil {
		v, err := NormalizeTime(*p.EndTime)
		if err != nil {
			errs = append(errs, ValidationError{Message: err.Error(), Field: "end_time", Code: CodeInvalidTimeFormat})
		} else {
			p.EndTime = &v
		}
	}
	return p, errs
}

func seriesIDOf(a Appointment) string {
	if a.Series == nil {
		return ""
	}
	return a.Series.SeriesID.String()
}
