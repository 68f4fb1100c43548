package appointment

import (
	"context"
	"errors"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository is the persistence collaborator. Every call is scoped to one
// clinic; implementations must never return another clinic's rows.
type Repository interface {
	AppointmentLookup

	ListByClinic(ctx context.Context, clinic string, f Filters) ([]Appointment, error)
	ListByPatient(ctx context.Context, clinic string, patientID int64) ([]Appointment, error)
	Get(ctx context.Context, clinic string, id int64) (*Appointment, error)

	// Creation and updates
	Create(ctx context.Context, clinic string, d Draft) (*Appointment, error)
	// CreateBatch persists all drafts or none of them.
	CreateBatch(ctx context.Context, clinic string, ds []Draft) ([]Appointment, error)
	Update(ctx context.Context, clinic string, id int64, p Patch) (*Appointment, error)
	// UpdateSeries applies p to every instance sharing id's series.
	UpdateSeries(ctx context.Context, clinic string, id int64, p Patch) ([]Appointment, error)

	Delete(ctx context.Context, clinic string, id int64) error
	DeleteSeries(ctx context.Context, clinic string, id int64) error
}

// EventRecorder stores lifecycle events. Optional.
type EventRecorder interface {
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Directory seeds the reference rows appointments point at.
type Directory interface {
	EnsureClinic(ctx context.Context, slug, name string) error
	CreateDoctor(ctx context.Context, clinic string, d Doctor) (*Doctor, error)
	CreatePatient(ctx context.Context, clinic string, p Patient) (*Patient, error)
}
