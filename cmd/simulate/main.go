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

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/access"
	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	StatusRatio     float64
	RescheduleRatio float64
	ReadRatio       float64
	DoctorLimit     int
	PatientLimit    int
	SlotDays        int
	JWTSecret       string
	PostgresDSN     string
	Location        *time.Location
}

type DataPool struct {
	Doctors      []uuid.UUID
	Patients     []uuid.UUID
	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

// OperationMetrics counts outcomes per operation. Rejected covers business
// rejections (409 and 400), which are expected under contention.
type OperationMetrics struct {
	Total     int64
	Success   int64
	Rejected  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, ok int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status == ok:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict || status == http.StatusBadRequest:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	lo = latencies[0]
	hi = latencies[len(latencies)-1]
	p50 = latencies[min(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]

	return avg, lo, hi, p50, p95
}

type Metrics struct {
	Booking      OperationMetrics
	StatusChange OperationMetrics
	Reschedule   OperationMetrics
	ReadByID     OperationMetrics
	ListByDoctor OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	tokens  map[access.Role]string
	day0    time.Time
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	base, err := config.Load()
	if err != nil {
		logging.New("simulate", "prod").Fatal().Err(err).Msg("failed to load base config")
	}

	log := logging.New("simulate", base.Env)

	cfg := loadConfig(base)
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("status", cfg.StatusRatio).
		Float64("reschedule", cfg.RescheduleRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}
	log.Info().Int("doctors", len(dataPool.Doctors)).Int("patients", len(dataPool.Patients)).Msg("data pool loaded")

	tokens, err := issueTokens(cfg.JWTSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("issue tokens")
	}

	tomorrow := time.Now().In(cfg.Location).AddDate(0, 0, 1)
	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		tokens: tokens,
		day0:   time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 8, 0, 0, 0, cfg.Location),
		log:    log,
	}

	sim.Run()
	sim.PrintReport()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelVerify()

	overlaps, err := findOverlaps(verifyCtx, pgPool)
	if err != nil {
		log.Fatal().Err(err).Msg("verify calendars")
	}
	if len(overlaps) > 0 {
		for _, o := range overlaps {
			log.Error().Str("doctor_id", o.doctorID.String()).Str("first", o.first.String()).Str("second", o.second.String()).Msg("double booking")
		}
		log.Fatal().Int("overlaps", len(overlaps)).Msg("calendar invariant violated")
	}
	log.Info().Msg("no double bookings found")
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:"+base.HTTPPort),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.5),
		StatusRatio:     getFloat("SIM_STATUS_RATIO", 0.15),
		RescheduleRatio: getFloat("SIM_RESCHEDULE_RATIO", 0.1),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.25),
		DoctorLimit:     getInt("SIM_DOCTOR_LIMIT", 20),
		PatientLimit:    getInt("SIM_PATIENT_LIMIT", 4000),
		SlotDays:        getInt("SIM_SLOT_DAYS", 2),
		JWTSecret:       base.JWTSecret,
		PostgresDSN:     base.PostgresDSN,
		Location:        base.ClinicLocation,
	}

	total := cfg.BookingRatio + cfg.StatusRatio + cfg.RescheduleRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.StatusRatio /= total
		cfg.RescheduleRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.SlotDays <= 0 {
		return fmt.Errorf("SIM_SLOT_DAYS must be > 0")
	}
	return nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	doctors, err := loadIDs(ctx, pool, `SELECT id FROM doctors ORDER BY id LIMIT $1`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	patients, err := loadIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}

	if len(doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded, run cmd/seed first")
	}
	if len(patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run cmd/seed first")
	}

	return &DataPool{Doctors: doctors, Patients: patients}, nil
}

func issueTokens(secret string) (map[access.Role]string, error) {
	tokens := make(map[access.Role]string)
	for _, role := range []access.Role{access.RoleAdmin, access.RoleDoctor, access.RoleNurse} {
		subject := strings.ToLower(string(role)) + "-" + gofakeit.Username()
		tok, err := api.IssueToken([]byte(secret), subject, string(role), 2*time.Hour)
		if err != nil {
			return nil, err
		}
		tokens[role] = tok
	}
	return tokens, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.StatusRatio:
			s.doStatusChange(ctx, rng)
		case r < s.config.BookingRatio+s.config.StatusRatio+s.config.RescheduleRatio:
			s.doReschedule(ctx, rng)
		default:
			if rng.Intn(2) == 0 {
				s.doReadByID(ctx, rng)
			} else {
				s.doListByDoctor(ctx, rng)
			}
		}
	}
}

// randomSlot picks a start on a 15 minute grid between 08:00 and 16:00 so
// that many requests land on partially overlapping slots.
func (s *Simulator) randomSlot(rng *rand.Rand) time.Time {
	day := rng.Intn(s.config.SlotDays)
	quarter := rng.Intn(32)
	return s.day0.AddDate(0, 0, day).Add(time.Duration(quarter) * 15 * time.Minute)
}

func (s *Simulator) call(ctx context.Context, method, path string, role access.Role, body any) (int, []byte, time.Duration) {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, nil, 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.tokens[role])
	req.Header.Set("User-Agent", "clinic-simulator")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, nil, latency
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data, latency
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	role := access.RoleAdmin
	if rng.Intn(2) == 0 {
		role = access.RoleDoctor
	}

	duration := 30
	status, body, latency := s.call(ctx, http.MethodPost, "/appointments", role, api.CreateAppointmentRequest{
		PatientID:       s.pool.Patients[rng.Intn(len(s.pool.Patients))].String(),
		DoctorID:        s.pool.Doctors[rng.Intn(len(s.pool.Doctors))].String(),
		ScheduledAt:     s.randomSlot(rng).Format(time.RFC3339),
		DurationMinutes: &duration,
		Notes:           gofakeit.Sentence(6),
	})
	if ctx.Err() != nil {
		return
	}

	if status == http.StatusCreated {
		var appt api.AppointmentResponse
		if err := json.Unmarshal(body, &appt); err == nil && appt.ID != uuid.Nil {
			s.pool.AddAppointment(appt.ID)
		}
	}

	s.metrics.Booking.Record(latency, status, http.StatusCreated)
}

func (s *Simulator) doStatusChange(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	next := []string{"CONFIRMED", "IN_PROGRESS", "COMPLETED", "CANCELLED"}[rng.Intn(4)]
	status, _, latency := s.call(ctx, http.MethodPatch, "/appointments/"+id.String()+"/status", access.RoleNurse,
		api.ChangeStatusRequest{Status: next})
	if ctx.Err() != nil {
		return
	}

	s.metrics.StatusChange.Record(latency, status, http.StatusOK)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	status, _, latency := s.call(ctx, http.MethodPut, "/appointments/"+id.String(), access.RoleDoctor,
		api.UpdateAppointmentRequest{ScheduledAt: s.randomSlot(rng).Format(time.RFC3339)})
	if ctx.Err() != nil {
		return
	}

	s.metrics.Reschedule.Record(latency, status, http.StatusOK)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	status, _, latency := s.call(ctx, http.MethodGet, "/appointments/"+id.String(), access.RoleNurse, nil)
	if ctx.Err() != nil {
		return
	}

	s.metrics.ReadByID.Record(latency, status, http.StatusOK)
}

func (s *Simulator) doListByDoctor(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]

	status, _, latency := s.call(ctx, http.MethodGet,
		fmt.Sprintf("/appointments?doctor_id=%s&limit=20&offset=0", doctorID), access.RoleNurse, nil)
	if ctx.Err() != nil {
		return
	}

	s.metrics.ListByDoctor.Record(latency, status, http.StatusOK)
}

type overlap struct {
	doctorID      uuid.UUID
	first, second uuid.UUID
}

// findOverlaps scans every doctor's occupying appointments in start order
// and reports neighbours whose slots intersect.
func findOverlaps(ctx context.Context, pool *pgxpool.Pool) ([]overlap, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, doctor_id, scheduled_at, ends_at
		FROM appointments
		WHERE status IN ('SCHEDULED', 'CONFIRMED', 'IN_PROGRESS')
		ORDER BY doctor_id, scheduled_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		found   []overlap
		prevID  uuid.UUID
		prevDoc uuid.UUID
		prevEnd time.Time
	)
	for rows.Next() {
		var id, doctorID uuid.UUID
		var start, end time.Time
		if err := rows.Scan(&id, &doctorID, &start, &end); err != nil {
			return nil, err
		}

		if doctorID == prevDoc && start.Before(prevEnd) {
			found = append(found, overlap{doctorID: doctorID, first: prevID, second: id})
		}
		if doctorID != prevDoc || end.After(prevEnd) {
			prevID, prevEnd = id, end
		}
		prevDoc = doctorID
	}

	return found, rows.Err()
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Doctors: %d\n", len(s.pool.Doctors))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Status change", &s.metrics.StatusChange)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Doctor", &s.metrics.ListByDoctor)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	rejected := atomic.LoadInt64(&om.Rejected)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if rejected > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", rejected, float64(rejected)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
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
