package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/pkg/logging"
)

type SimConfig struct {
	APIBaseURL      string
	Clinic          string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	SeriesRatio     float64
	TransitionRatio float64
	ReadRatio       float64
	Doctors         int
	Patients        int
	HorizonDays     int
	PostgresDSN     string
}

type DataPool struct {
	Doctors      []int64
	Patients     []int64
	mu           sync.RWMutex
	appointments []int64
}

func (dp *DataPool) AddAppointment(ids ...int64) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, ids...)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (int64, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return 0, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, pct int) int {
	idx := n * pct / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking       OperationMetrics
	SeriesBooking OperationMetrics
	Transition    OperationMetrics
	ReadByID      OperationMetrics
	ListByDoctor  OperationMetrics
	ListByPatient OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  *logging.Logger
}

func main() {
	_ = godotenv.Load()
	logger := logging.New(getEnv("LOG_LEVEL", "info")).With("service", "simulate")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger.Info("simulator starting",
		"duration", cfg.Duration.String(), "workers", cfg.Workers,
		"booking", cfg.BookingRatio, "transition", cfg.TransitionRatio, "read", cfg.ReadRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dataPool, err := loadDataPool(ctx, cfg)
	if err != nil {
		logger.Error("load data pool", "error", err)
		os.Exit(1)
	}
	logger.Info("data pool loaded", "doctors", len(dataPool.Doctors), "patients", len(dataPool.Patients))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:      strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Clinic:          getEnv("SIM_CLINIC", "sunrise"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.4),
		SeriesRatio:     getFloat("SIM_SERIES_RATIO", 0.1),
		TransitionRatio: getFloat("SIM_TRANSITION_RATIO", 0.2),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.4),
		Doctors:         getInt("SIM_DOCTORS", 12),
		Patients:        getInt("SIM_PATIENTS", 500),
		HorizonDays:     getInt("SIM_HORIZON_DAYS", 28),
		PostgresDSN:     os.Getenv("POSTGRES_DSN"),
	}

	total := cfg.BookingRatio + cfg.TransitionRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.TransitionRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.HorizonDays <= 0 {
		return fmt.Errorf("SIM_HORIZON_DAYS must be > 0")
	}
	return nil
}

// loadDataPool reads doctor and patient ids from Postgres when a DSN is set,
// otherwise it assumes the sequential ids cmd/seed hands out.
func loadDataPool(ctx context.Context, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	if cfg.PostgresDSN == "" {
		for i := 1; i <= cfg.Doctors; i++ {
			dataPool.Doctors = append(dataPool.Doctors, int64(i))
		}
		for i := 1; i <= cfg.Patients; i++ {
			dataPool.Patients = append(dataPool.Patients, int64(i))
		}
	} else {
		pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
		if err != nil {
			return nil, err
		}
		defer pool.Close()

		if dataPool.Doctors, err = loadIDs(ctx, pool, `SELECT id FROM doctors WHERE clinic_slug = $1 LIMIT $2`, cfg.Clinic, cfg.Doctors); err != nil {
			return nil, fmt.Errorf("load doctors: %w", err)
		}
		if dataPool.Patients, err = loadIDs(ctx, pool, `SELECT id FROM patients WHERE clinic_slug = $1 LIMIT $2`, cfg.Clinic, cfg.Patients); err != nil {
			return nil, fmt.Errorf("load patients: %w", err)
		}
	}

	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded")
	}
	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	return dataPool, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query, clinic string, limit int) ([]int64, error) {
	rows, err := pool.Query(ctx, query, clinic, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.TransitionRatio:
				s.doTransition(ctx, rng)
			default:
				switch rng.Intn(3) {
				case 0:
					s.doReadByID(ctx, rng)
				case 1:
					s.doListByDoctor(ctx, rng)
				case 2:
					s.doListByPatient(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) clinicURL(format string, args ...any) string {
	return s.config.APIBaseURL + "/clinics/" + s.config.Clinic + fmt.Sprintf(format, args...)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	date := time.Now().UTC().AddDate(0, 0, 1+rng.Intn(s.config.HorizonDays))
	startMin := 8*60 + 30*rng.Intn(19)

	body := map[string]any{
		"doctor_id":  s.pool.Doctors[rng.Intn(len(s.pool.Doctors))],
		"patient_id": s.pool.Patients[rng.Intn(len(s.pool.Patients))],
		"date":       date.Format("2006-01-02"),
		"start_time": fmt.Sprintf("%02d:%02d", startMin/60, startMin%60),
		"end_time":   fmt.Sprintf("%02d:%02d", (startMin+30)/60, (startMin+30)%60),
	}

	om := &s.metrics.Booking
	if rng.Float64() < s.config.SeriesRatio {
		om = &s.metrics.SeriesBooking
		body["recurrence"] = map[string]any{
			"type":     "weekly",
			"interval": 1,
			"end_date": date.AddDate(0, 0, 7*(2+rng.Intn(6))).Format("2006-01-02"),
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		s.logger.Warn("encode booking", "error", err)
		om.Record(0, false, false)
		return
	}
	req, err := s.newRequest(ctx, http.MethodPost, s.clinicURL("/appointments"), bytes.NewReader(payload))
	if err != nil {
		om.Record(0, false, false)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		om.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		var created struct {
			Appointments []struct {
				ID int64 `json:"id"`
			} `json:"appointments"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&created); err == nil {
			for _, a := range created.Appointments {
				s.pool.AddAppointment(a.ID)
			}
		}
		om.Record(latency, true, false)
	case http.StatusUnprocessableEntity, http.StatusConflict:
		om.Record(latency, false, true)
	default:
		om.Record(latency, false, false)
	}
}

func (s *Simulator) doTransition(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	action := [...]string{"confirm", "cancel", "complete"}[rng.Intn(3)]

	s.record(ctx, &s.metrics.Transition, http.MethodPost, s.clinicURL("/appointments/%d/%s", id, action))
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	s.record(ctx, &s.metrics.ReadByID, http.MethodGet, s.clinicURL("/appointments/%d", id))
}

func (s *Simulator) doListByDoctor(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	s.record(ctx, &s.metrics.ListByDoctor, http.MethodGet, s.clinicURL("/doctors/%d/appointments", doctorID))
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	s.record(ctx, &s.metrics.ListByPatient, http.MethodGet, s.clinicURL("/patients/%d/appointments", patientID))
}

func (s *Simulator) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		s.logger.Warn("build request", "method", method, "url", url, "error", err)
		return nil, err
	}
	return req, nil
}

// record sends a bodiless request and classifies 409 responses as conflicts.
func (s *Simulator) record(ctx context.Context, om *OperationMetrics, method, url string) {
	req, err := s.newRequest(ctx, method, url, nil)
	if err != nil {
		om.Record(0, false, false)
		return
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		om.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()

	om.Record(latency, resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusConflict)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Clinic: %s\n", s.config.Clinic)
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Series booking", &s.metrics.SeriesBooking)
	printOperationReport("Status transition", &s.metrics.Transition)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Doctor", &s.metrics.ListByDoctor)
	printOperationReport("List by Patient", &s.metrics.ListByPatient)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
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
