package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/hackgods/insured-appointments/internal/appointment"
	"github.com/hackgods/insured-appointments/pkg/logging"
)

// SimConfig drives a load run against a running api-server. A small insured
// pool makes concurrent bookings for the same insured collide, exercising
// both the 201 and the 409 path.
type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	Insureds      int
	BookingRatio  float64
	CompleteRatio float64
	CancelRatio   float64
	ReadRatio     float64
}

type DataPool struct {
	Insureds []string

	mu           sync.RWMutex
	appointments []string
}

func (dp *DataPool) AddAppointment(id string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(f *gofakeit.Faker) (string, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return "", false
	}
	return dp.appointments[f.Number(0, len(dp.appointments)-1)], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, worst time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.Latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	at := func(pct int) time.Duration {
		idx := len(latencies) * pct / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return sum / time.Duration(len(latencies)), at(50), at(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Booking       OperationMetrics
	Complete      OperationMetrics
	Cancel        OperationMetrics
	ReadByID      OperationMetrics
	ListByInsured OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  *logging.Logger
	metrics Metrics
}

func main() {
	logger := logging.New(getEnv("LOG_LEVEL", "info"), getEnv("APP_ENV", "dev")).Named("simulate")
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	logger.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Int("insureds", cfg.Insureds),
	)

	sim := &Simulator{
		config: cfg,
		pool:   newDataPool(cfg.Insureds),
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:    strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		Insureds:      getInt("SIM_INSUREDS", 50),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.5),
		CompleteRatio: getFloat("SIM_COMPLETE_RATIO", 0.1),
		CancelRatio:   getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.3),
	}

	total := cfg.BookingRatio + cfg.CompleteRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CompleteRatio /= total
		cfg.CancelRatio /= total
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
	if cfg.Insureds <= 0 {
		return fmt.Errorf("SIM_INSUREDS must be > 0")
	}
	return nil
}

func newDataPool(n int) *DataPool {
	seen := make(map[string]struct{}, n)
	pool := &DataPool{Insureds: make([]string, 0, n)}
	for len(pool.Insureds) < n && len(seen) < 100000 {
		id := gofakeit.Numerify("#####")
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		pool.Insureds = append(pool.Insureds, id)
	}
	return pool
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, gofakeit.New(uint64(time.Now().UnixNano())+uint64(workerID)))
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, f *gofakeit.Faker) {
	for ctx.Err() == nil {
		r := f.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, f)
		case r < s.config.BookingRatio+s.config.CompleteRatio:
			s.doTransition(ctx, f, "complete", &s.metrics.Complete)
		case r < s.config.BookingRatio+s.config.CompleteRatio+s.config.CancelRatio:
			s.doTransition(ctx, f, "cancel", &s.metrics.Cancel)
		case f.Bool():
			s.doReadByID(ctx, f)
		default:
			s.doListByInsured(ctx, f)
		}
	}
}

// send performs one request and returns the status, or 0 on transport error.
func (s *Simulator) send(ctx context.Context, method, path string, body any, out any) int {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Debug("request failed", zap.String("path", path), zap.Error(err))
		}
		return 0
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func (s *Simulator) doBooking(ctx context.Context, f *gofakeit.Faker) {
	countries := appointment.Countries()
	req := appointment.CreateRequest{
		InsuredID:   s.pool.Insureds[f.Number(0, len(s.pool.Insureds)-1)],
		ScheduleID:  f.Numerify("sch-####"),
		CountryCode: string(countries[f.Number(0, len(countries)-1)]),
	}

	var created struct {
		ID string `json:"appointmentId"`
	}
	start := time.Now()
	status := s.send(ctx, http.MethodPost, "/appointments", req, &created)
	s.metrics.Booking.Record(time.Since(start), status)

	if status == http.StatusCreated && created.ID != "" {
		s.pool.AddAppointment(created.ID)
	}
}

func (s *Simulator) doTransition(ctx context.Context, f *gofakeit.Faker, action string, om *OperationMetrics) {
	id, ok := s.pool.RandomAppointment(f)
	if !ok {
		return
	}
	start := time.Now()
	status := s.send(ctx, http.MethodPost, fmt.Sprintf("/appointments/%s/%s", id, action), nil, nil)
	om.Record(time.Since(start), status)
}

func (s *Simulator) doReadByID(ctx context.Context, f *gofakeit.Faker) {
	id, ok := s.pool.RandomAppointment(f)
	if !ok {
		return
	}
	start := time.Now()
	status := s.send(ctx, http.MethodGet, "/appointments/"+id, nil, nil)
	s.metrics.ReadByID.Record(time.Since(start), status)
}

func (s *Simulator) doListByInsured(ctx context.Context, f *gofakeit.Faker) {
	insured := s.pool.Insureds[f.Number(0, len(s.pool.Insureds)-1)]
	start := time.Now()
	status := s.send(ctx, http.MethodGet, "/insureds/"+insured+"/appointments", nil, nil)
	s.metrics.ListByInsured.Record(time.Since(start), status)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Insureds: %d\n", len(s.pool.Insureds))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Complete", &s.metrics.Complete)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Insured", &s.metrics.ListByInsured)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, worst := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), worst.Round(time.Millisecond))
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
