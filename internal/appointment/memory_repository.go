package appointment

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps appointments in process memory, keyed per clinic.
// It backs REPOSITORY_BACKEND=memory and the service tests.
type MemoryRepository struct {
	mu        sync.RWMutex
	nextID    int64
	nextDirID int64
	rows      map[string]map[int64]Appointment
	doctors   map[string]map[int64]Doctor
	patients  map[string]map[int64]Patient
	events    []EventLog
	now       func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rows:     make(map[string]map[int64]Appointment),
		doctors:  make(map[string]map[int64]Doctor),
		patients: make(map[string]map[int64]Patient),
		now:      time.Now,
	}
}

// AddDoctor registers a doctor so listings can carry its display copy.
func (r *MemoryRepository) AddDoctor(clinic string, d Doctor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doctors[clinic] == nil {
		r.doctors[clinic] = make(map[int64]Doctor)
	}
	r.doctors[clinic][d.ID] = d
}

func (r *MemoryRepository) AddPatient(clinic string, p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.patients[clinic] == nil {
		r.patients[clinic] = make(map[int64]Patient)
	}
	r.patients[clinic][p.ID] = p
}

func (r *MemoryRepository) EnsureClinic(context.Context, string, string) error {
	return nil
}

func (r *MemoryRepository) CreateDoctor(_ context.Context, clinic string, d Doctor) (*Doctor, error) {
	r.mu.Lock()
	r.nextDirID++
	d.ID = r.nextDirID
	r.mu.Unlock()
	r.AddDoctor(clinic, d)
	return &d, nil
}

func (r *MemoryRepository) CreatePatient(_ context.Context, clinic string, p Patient) (*Patient, error) {
	r.mu.Lock()
	r.nextDirID++
	p.ID = r.nextDirID
	r.mu.Unlock()
	r.AddPatient(clinic, p)
	return &p, nil
}

func (r *MemoryRepository) ListByClinic(_ context.Context, clinic string, f Filters) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(clinic, f.Matches), nil
}

func (r *MemoryRepository) ListByDoctor(_ context.Context, clinic string, doctorID int64) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(clinic, func(a Appointment) bool { return a.DoctorID == doctorID }), nil
}

func (r *MemoryRepository) ListByPatient(_ context.Context, clinic string, patientID int64) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(clinic, func(a Appointment) bool { return a.PatientID == patientID }), nil
}

func (r *MemoryRepository) Get(_ context.Context, clinic string, id int64) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.rows[clinic][id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a = r.decorate(clinic, a)
	return &a, nil
}

func (r *MemoryRepository) Create(_ context.Context, clinic string, d Draft) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.insert(clinic, d)
	return &a, nil
}

func (r *MemoryRepository) CreateBatch(_ context.Context, clinic string, ds []Draft) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Appointment, 0, len(ds))
	for _, d := range ds {
		out = append(out, r.insert(clinic, d))
	}
	return out, nil
}

func (r *MemoryRepository) Update(_ context.Context, clinic string, id int64, p Patch) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[clinic][id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a = p.Apply(a)
	a.UpdatedAt = r.now()
	r.rows[clinic][id] = a
	a = r.decorate(clinic, a)
	return &a, nil
}

func (r *MemoryRepository) UpdateSeries(_ context.Context, clinic string, id int64, p Patch) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[clinic][id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Series == nil {
		a = p.Apply(a)
		a.UpdatedAt = r.now()
		r.rows[clinic][id] = a
		return []Appointment{r.decorate(clinic, a)}, nil
	}

	seriesID := a.Series.SeriesID
	now := r.now()
	for rid, row := range r.rows[clinic] {
		if row.Series == nil || row.Series.SeriesID != seriesID {
			continue
		}
		row = p.Apply(row)
		row.UpdatedAt = now
		r.rows[clinic][rid] = row
	}
	return r.collect(clinic, func(row Appointment) bool {
		return row.Series != nil && row.Series.SeriesID == seriesID
	}), nil
}

func (r *MemoryRepository) Delete(_ context.Context, clinic string, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[clinic][id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(r.rows[clinic], id)
	return nil
}

func (r *MemoryRepository) DeleteSeries(_ context.Context, clinic string, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[clinic][id]
	if !ok {
		return ErrAppointmentNotFound
	}
	if a.Series == nil {
		delete(r.rows[clinic], id)
		return nil
	}
	for rid, row := range r.rows[clinic] {
		if row.Series != nil && row.Series.SeriesID == a.Series.SeriesID {
			delete(r.rows[clinic], rid)
		}
	}
	return nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EventLog, len(r.events))
	copy(out, r.events)
	return out
}

// insert must be called with mu held.
func (r *MemoryRepository) insert(clinic string, d Draft) Appointment {
	if r.rows[clinic] == nil {
		r.rows[clinic] = make(map[int64]Appointment)
	}
	r.nextID++
	now := r.now()
	status := d.Status
	if status == "" {
		status = StatusScheduled
	}
	a := Appointment{
		ID:         r.nextID,
		ClinicSlug: clinic,
		DoctorID:   d.DoctorID,
		PatientID:  d.PatientID,
		Date:       d.Date,
		StartTime:  d.StartTime,
		EndTime:    d.EndTime,
		Status:     status,
		Notes:      d.Notes,
		Room:       d.Room,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if d.Series != nil {
		series := *d.Series
		a.Series = &series
	}
	r.rows[clinic][a.ID] = a
	return r.decorate(clinic, a)
}

// collect must be called with mu held.
func (r *MemoryRepository) collect(clinic string, keep func(Appointment) bool) []Appointment {
	out := make([]Appointment, 0)
	for _, a := range r.rows[clinic] {
		a = r.decorate(clinic, a)
		if keep(a) {
			out = append(out, a)
		}
	}
	sortAppointments(out)
	return out
}

func (r *MemoryRepository) decorate(clinic string, a Appointment) Appointment {
	if d, ok := r.doctors[clinic][a.DoctorID]; ok {
		a.Doctor = &d
	}
	if p, ok := r.patients[clinic][a.PatientID]; ok {
		a.Patient = &p
	}
	return a
}

func sortAppointments(in []Appointment) {
	sort.Slice(in, func(i, j int) bool {
		if !in[i].Date.Equal(in[j].Date) {
			return in[i].Date.Before(in[j].Date)
		}
		if in[i].StartTime != in[j].StartTime {
			return in[i].StartTime < in[j].StartTime
		}
		return in[i].ID < in[j].ID
	})
}
