package appointment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgxpool.Pool the repository uses.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DBTX
}

func NewPgRepository(db DBTX) *PgRepository {
	return &PgRepository{db: db}
}

const appointmentColumns = `
	a.id, a.clinic_slug, a.doctor_id, a.patient_id, a.date, a.start_time, a.end_time,
	a.status, a.notes, a.room,
	a.series_id, a.recurrence_type, a.recurrence_interval, a.recurrence_end_date,
	a.recurrence_days, a.series_sequence, a.series_total, a.anchor_date,
	a.created_at, a.updated_at, d.name, p.name`

const appointmentJoins = `
	LEFT JOIN doctors d ON d.id = a.doctor_id
	LEFT JOIN patients p ON p.id = a.patient_id`

const insertAppointmentSQL = `
	WITH a AS (
		INSERT INTO appointments (
			clinic_slug, doctor_id, patient_id, date, start_time, end_time, status, notes, room,
			series_id, recurrence_type, recurrence_interval, recurrence_end_date,
			recurrence_days, series_sequence, series_total, anchor_date,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now(), now())
		RETURNING *
	)
	SELECT ` + appointmentColumns + `
	FROM a` + appointmentJoins

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a           Appointment
		date        time.Time
		status      string
		seriesID    *uuid.UUID
		recType     *string
		interval    *int32
		endDate     *time.Time
		days        string
		sequence    *int32
		total       *int32
		anchor      *time.Time
		doctorName  *string
		patientName *string
	)

	err := row.Scan(
		&a.ID,
		&a.ClinicSlug,
		&a.DoctorID,
		&a.PatientID,
		&date,
		&a.StartTime,
		&a.EndTime,
		&status,
		&a.Notes,
		&a.Room,
		&seriesID,
		&recType,
		&interval,
		&endDate,
		&days,
		&sequence,
		&total,
		&anchor,
		&a.CreatedAt,
		&a.UpdatedAt,
		&doctorName,
		&patientName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = DateOf(date)
	a.Status = AppointmentStatus(status)

	if seriesID != nil {
		info := &SeriesInfo{
			SeriesID:            *seriesID,
			IsRecurringInstance: true,
			DaysOfWeek:          parseDays(days),
		}
		if recType != nil {
			info.Type = RecurrenceType(*recType)
		}
		if interval != nil {
			info.Interval = int(*interval)
		}
		if endDate != nil {
			d := DateOf(*endDate)
			info.EndDate = &d
		}
		if sequence != nil {
			info.Sequence = int(*sequence)
		}
		if total != nil {
			info.Total = int(*total)
		}
		if anchor != nil {
			info.AnchorDate = DateOf(*anchor)
		}
		a.Series = info
	}

	if doctorName != nil {
		a.Doctor = &Doctor{ID: a.DoctorID, Name: *doctorName}
	}
	if patientName != nil {
		a.Patient = &Patient{ID: a.PatientID, Name: *patientName}
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	result := make([]Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func insertArgs(clinic string, d Draft) []any {
	status := d.Status
	if status == "" {
		status = StatusScheduled
	}
	args := []any{
		clinic, d.DoctorID, d.PatientID, d.Date.Time, d.StartTime, d.EndTime,
		string(status), d.Notes, d.Room,
	}

	if d.Series == nil {
		return append(args, nil, nil, nil, nil, "", nil, nil, nil)
	}

	s := d.Series
	var endDate *time.Time
	if s.EndDate != nil {
		t := s.EndDate.Time
		endDate = &t
	}
	return append(args,
		s.SeriesID,
		string(s.Type),
		int32(s.Interval),
		endDate,
		formatDays(s.DaysOfWeek),
		int32(s.Sequence),
		int32(s.Total),
		s.AnchorDate.Time,
	)
}

func formatDays(days []int) string {
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.Itoa(d))
	}
	return strings.Join(parts, ",")
}

func parseDays(s string) []int {
	if s == "" {
		return nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

func patchArgs(p Patch) []any {
	var date *time.Time
	if p.Date != nil {
		t := p.Date.Time
		date = &t
	}
	var status *string
	if p.Status != nil {
		s := string(*p.Status)
		status = &s
	}
	return []any{p.DoctorID, p.PatientID, date, p.StartTime, p.EndTime, status, p.Notes, p.Room}
}

const patchSetClause = `
	doctor_id  = COALESCE($3, doctor_id),
	patient_id = COALESCE($4, patient_id),
	date       = COALESCE($5, date),
	start_time = COALESCE($6, start_time),
	end_time   = COALESCE($7, end_time),
	status     = COALESCE($8, status),
	notes      = COALESCE($9, notes),
	room       = COALESCE($10, room),
	updated_at = now()`

// Interface methods

func (r *PgRepository) ListByClinic(ctx context.Context, clinic string, f Filters) ([]Appointment, error) {
	var (
		where = []string{"a.clinic_slug = $1"}
		args  = []any{clinic}
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.DoctorID != 0 {
		add("a.doctor_id = $%d", f.DoctorID)
	}
	if f.PatientID != 0 {
		add("a.patient_id = $%d", f.PatientID)
	}
	if f.Status != "" {
		add("a.status = $%d", string(f.Status))
	}
	if f.From != nil {
		add("a.date >= $%d", f.From.Time)
	}
	if f.To != nil {
		add("a.date <= $%d", f.To.Time)
	}
	if f.SeriesID != uuid.Nil {
		add("a.series_id = $%d", f.SeriesID)
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a`+appointmentJoins+`
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY a.date, a.start_time, a.id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByDoctor(ctx context.Context, clinic string, doctorID int64) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a`+appointmentJoins+`
		WHERE a.clinic_slug = $1 AND a.doctor_id = $2
		ORDER BY a.date, a.start_time, a.id
	`, clinic, doctorID)
	if err != nil {
		return nil, fmt.Errorf("query doctor appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByPatient(ctx context.Context, clinic string, patientID int64) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a`+appointmentJoins+`
		WHERE a.clinic_slug = $1 AND a.patient_id = $2
		ORDER BY a.date, a.start_time, a.id
	`, clinic, patientID)
	if err != nil {
		return nil, fmt.Errorf("query patient appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) Get(ctx context.Context, clinic string, id int64) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a`+appointmentJoins+`
		WHERE a.clinic_slug = $1 AND a.id = $2
	`, clinic, id)
	return scanAppointment(row)
}

func (r *PgRepository) Create(ctx context.Context, clinic string, d Draft) (*Appointment, error) {
	return insertAppointment(ctx, r.db, clinic, d)
}

func insertAppointment(ctx context.Context, q queryRower, clinic string, d Draft) (*Appointment, error) {
	a, err := scanAppointment(q.QueryRow(ctx, insertAppointmentSQL, insertArgs(clinic, d)...))
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return a, nil
}

// CreateBatch inserts every draft in one transaction.
func (r *PgRepository) CreateBatch(ctx context.Context, clinic string, ds []Draft) ([]Appointment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}

	out := make([]Appointment, 0, len(ds))
	for _, d := range ds {
		a, err := insertAppointment(ctx, tx, clinic, d)
		if err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}
		out = append(out, *a)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return out, nil
}

func (r *PgRepository) Update(ctx context.Context, clinic string, id int64, p Patch) (*Appointment, error) {
	args := append([]any{clinic, id}, patchArgs(p)...)
	row := r.db.QueryRow(ctx, `
		WITH a AS (
			UPDATE appointments SET`+patchSetClause+`
			WHERE clinic_slug = $1 AND id = $2
			RETURNING *
		)
		SELECT `+appointmentColumns+`
		FROM a`+appointmentJoins, args...)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateSeries(ctx context.Context, clinic string, id int64, p Patch) ([]Appointment, error) {
	current, err := r.Get(ctx, clinic, id)
	if err != nil {
		return nil, err
	}
	if current.Series == nil {
		a, err := r.Update(ctx, clinic, id, p)
		if err != nil {
			return nil, err
		}
		return []Appointment{*a}, nil
	}

	args := append([]any{clinic, current.Series.SeriesID}, patchArgs(p)...)
	rows, err := r.db.Query(ctx, `
		WITH a AS (
			UPDATE appointments SET`+patchSetClause+`
			WHERE clinic_slug = $1 AND series_id = $2
			RETURNING *
		)
		SELECT `+appointmentColumns+`
		FROM a`+appointmentJoins+`
		ORDER BY a.date, a.start_time, a.id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("update appointment series: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) Delete(ctx context.Context, clinic string, id int64) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM appointments
		WHERE clinic_slug = $1 AND id = $2
	`, clinic, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

// DeleteSeries removes id and every appointment sharing its series.
func (r *PgRepository) DeleteSeries(ctx context.Context, clinic string, id int64) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM appointments
		WHERE clinic_slug = $1
		  AND (id = $2 OR series_id = (
			SELECT series_id FROM appointments WHERE clinic_slug = $1 AND id = $2
		  ))
	`, clinic, id)
	if err != nil {
		return fmt.Errorf("delete appointment series: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, clinic_slug, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.ClinicSlug, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

// EnsureClinic creates the clinic row if it is missing.
func (r *PgRepository) EnsureClinic(ctx context.Context, slug, name string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO clinics (slug, name)
		VALUES ($1, $2)
		ON CONFLICT (slug) DO NOTHING
	`, slug, name)
	if err != nil {
		return fmt.Errorf("ensure clinic: %w", err)
	}
	return nil
}

func (r *PgRepository) CreateDoctor(ctx context.Context, clinic string, d Doctor) (*Doctor, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO doctors (clinic_slug, name, email, specialty)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, clinic, d.Name, d.Email, d.Specialty).Scan(&d.ID)
	if err != nil {
		return nil, fmt.Errorf("insert doctor: %w", err)
	}
	return &d, nil
}

func (r *PgRepository) CreatePatient(ctx context.Context, clinic string, p Patient) (*Patient, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO patients (clinic_slug, name, email)
		VALUES ($1, $2, $3)
		RETURNING id
	`, clinic, p.Name, p.Email).Scan(&p.ID)
	if err != nil {
		return nil, fmt.Errorf("insert patient: %w", err)
	}
	return &p, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
