package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
	"github.com/hackgods/clinic-appointment-scheduling/pkg/logging"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

type seedConfig struct {
	Clinic       string
	ClinicName   string
	Doctors      int
	Patients     int
	Appointments int
	SeriesRatio  float64
}

type store interface {
	appointment.Repository
	appointment.Directory
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel).With("service", "seed")

	sc := seedConfig{
		Clinic:       getEnv("SEED_CLINIC", "sunrise"),
		ClinicName:   getEnv("SEED_CLINIC_NAME", "Sunrise Family Clinic"),
		Doctors:      getInt("SEED_DOCTORS", 12),
		Patients:     getInt("SEED_PATIENTS", 500),
		Appointments: getInt("SEED_APPOINTMENTS", 400),
		SeriesRatio:  getFloat("SEED_SERIES_RATIO", 0.1),
	}
	logger.Info("seed starting", "clinic", sc.Clinic, "backend", cfg.Backend)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var repo store
	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		repo = appointment.NewPgRepository(pool)
	case config.BackendMemory:
		repo = appointment.NewMemoryRepository()
	default:
		logger.Error("seed needs a postgres or memory backend", "backend", cfg.Backend)
		os.Exit(1)
	}

	gofakeit.Seed(time.Now().UnixNano())

	if err := repo.EnsureClinic(ctx, sc.Clinic, sc.ClinicName); err != nil {
		logger.Error("ensure clinic", "error", err)
		os.Exit(1)
	}

	doctors, err := seedDoctors(ctx, repo, sc.Clinic, sc.Doctors)
	if err != nil {
		logger.Error("seed doctors", "error", err)
		os.Exit(1)
	}
	logger.Info("doctors seeded", "count", len(doctors))

	patients, err := seedPatients(ctx, repo, sc.Clinic, sc.Patients)
	if err != nil {
		logger.Error("seed patients", "error", err)
		os.Exit(1)
	}
	logger.Info("patients seeded", "count", len(patients))

	svc := appointment.NewService(repo, redisclient.NopLocker{},
		appointment.WithLogger(logging.Discard()),
	)

	booked, rejected, err := seedAppointments(ctx, svc, sc, doctors, patients)
	if err != nil {
		logger.Error("seed appointments", "error", err)
		os.Exit(1)
	}
	logger.Info("seed complete", "appointments", booked, "rejected", rejected)
}

func seedDoctors(ctx context.Context, dir appointment.Directory, clinic string, count int) ([]int64, error) {
	ids := make([]int64, 0, count)
	for i := 0; i < count; i++ {
		d, err := dir.CreateDoctor(ctx, clinic, appointment.Doctor{
			Name:      "Dr. " + gofakeit.Name(),
			Email:     gofakeit.Email(),
			Specialty: gofakeit.RandomString(specialties),
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func seedPatients(ctx context.Context, dir appointment.Directory, clinic string, count int) ([]int64, error) {
	ids := make([]int64, 0, count)
	for i := 0; i < count; i++ {
		p, err := dir.CreatePatient(ctx, clinic, appointment.Patient{
			Name:  gofakeit.Name(),
			Email: gofakeit.Email(),
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// seedAppointments books random half-hour visits over the next four weeks.
// Conflicting picks are counted and skipped.
func seedAppointments(ctx context.Context, svc *appointment.Service, sc seedConfig, doctors, patients []int64) (booked, rejected int, err error) {
	if len(doctors) == 0 || len(patients) == 0 {
		return 0, 0, nil
	}
	today := svc.Today()

	for i := 0; i < sc.Appointments; i++ {
		date := today.AddDays(gofakeit.Number(1, 28))
		startMin := 8*60 + 30*gofakeit.Number(0, 18)
		req := appointment.CreateRequest{
			DoctorID:  doctors[gofakeit.Number(0, len(doctors)-1)],
			PatientID: patients[gofakeit.Number(0, len(patients)-1)],
			Date:      date,
			StartTime: hhmm(startMin),
			EndTime:   hhmm(startMin + 30),
			Notes:     gofakeit.Sentence(6),
			Room:      fmt.Sprintf("Room %d", gofakeit.Number(1, 8)),
		}
		if gofakeit.Float64Range(0, 1) < sc.SeriesRatio {
			end := date.AddDays(7 * gofakeit.Number(2, 8))
			req.Recurrence = appointment.WeeklyRecurrence{Interval: 1, EndDate: &end}
		}

		res, err := svc.Create(ctx, sc.Clinic, req)
		var vf *appointment.ValidationFailedError
		switch {
		case errors.As(err, &vf):
			rejected++
		case err != nil:
			return booked, rejected, err
		default:
			booked += len(res.Appointments)
		}
	}
	return booked, rejected, nil
}

func hhmm(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
