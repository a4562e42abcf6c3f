// Package processor runs the engine: transports in, ingest pool, alert
// coordinator, notification pool, and the operations HTTP server.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"roomwatch/internal/alerts"
	"roomwatch/internal/config"
	"roomwatch/internal/handlers"
	"roomwatch/internal/kafka"
	"roomwatch/internal/logger"
	"roomwatch/internal/metrics"
	"roomwatch/internal/middleware"
	"roomwatch/internal/models"
	"roomwatch/internal/notify"
	"roomwatch/internal/worker"
)

// Source is an inbound pub/sub transport.
type Source interface {
	Start(ctx context.Context, handle func(ctx context.Context, topic string, payload []byte)) error
	Stop() error
}

// FeedStats reports alert feed delivery counters.
type FeedStats interface {
	Stats() kafka.ProducerStats
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators the processor runs. Notifier, Source and Feed are optional.
type Deps struct {
	Normalizer  *models.Normalizer
	Coordinator *alerts.Coordinator
	Notifier    *notify.Service
	Source      Source
	Feed        FeedStats
	Checks      map[string]HealthCheck
	// Closers are closed last, after every pool has drained
	Closers []io.Closer
}

// Processor wires transports to the alert pipeline.
type Processor struct {
	cfg         *config.Config
	normalizer  *models.Normalizer
	coordinator *alerts.Coordinator
	notifier    *notify.Service
	source      Source
	feed        FeedStats
	checks      map[string]HealthCheck
	closers     []io.Closer

	ingest     *worker.Pool[models.SensorReading]
	httpServer *http.Server
	listener   net.Listener

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once

	received    atomic.Uint64
	parseErrors atomic.Uint64
	rejected    atomic.Uint64
}

// New constructs a Processor with given config.
func New(cfg *config.Config, deps Deps) *Processor {
	p := &Processor{
		cfg:         cfg,
		normalizer:  deps.Normalizer,
		coordinator: deps.Coordinator,
		notifier:    deps.Notifier,
		source:      deps.Source,
		feed:        deps.Feed,
		checks:      deps.Checks,
		closers:     deps.Closers,
		stop:        make(chan struct{}),
	}

	p.ingest = worker.NewPool(worker.Config[models.SensorReading]{
		Name:          "ingest_pool",
		Workers:       cfg.Engine.WorkerPoolSize,
		QueueSize:     cfg.Engine.QueueSize,
		Policy:        cfg.Engine.BackpressurePolicy,
		SubmitTimeout: cfg.Engine.SubmitTimeout,
		Key:           func(r models.SensorReading) string { return r.SensorID },
		Handle: func(ctx context.Context, r models.SensorReading) {
			p.coordinator.Process(ctx, r)
		},
	})
	return p
}

// Run starts the processor and blocks until ctx is cancelled, then shuts down.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	lg := logger.WithComponent("processor")
	lg.Info().Msg("shutdown signal received")
	return p.Shutdown()
}

// Start launches the pools, the HTTP server and the transport.
func (p *Processor) Start(ctx context.Context) error {
	log := logger.WithComponent("processor")
	log.Info().
		Str("transport", p.cfg.Transport.Kind).
		Int("workers", p.cfg.Engine.WorkerPoolSize).
		Str("backpressure", p.cfg.Engine.BackpressurePolicy).
		Msg("processor starting")

	if p.notifier != nil {
		p.notifier.Start()
	}
	p.ingest.Start()

	ln, err := net.Listen("tcp", p.cfg.HTTPAddr)
	if err != nil {
		p.stopPools()
		return err
	}
	p.listener = ln
	p.httpServer = &http.Server{
		Handler:      p.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Info().Str("addr", ln.Addr().String()).Msg("starting HTTP server")
		if err := p.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	if p.source != nil {
		if err := p.source.Start(ctx, p.handleMessage); err != nil {
			_ = p.httpServer.Close()
			p.stopPools()
			return err
		}
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reportStats()
	}()

	return nil
}

func (p *Processor) stopPools() {
	p.ingest.Stop()
	if p.notifier != nil {
		p.notifier.Stop(p.cfg.Engine.ShutdownTimeout)
	}
}

// Addr returns the address the HTTP server listens on, once started.
func (p *Processor) Addr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Submit normalizes one transport message and queues its readings. Malformed
// messages are logged, counted and returned as a *models.ParseError. Every
// reading is offered to the ingest pool; when some are refused the readings
// already queued stay queued and the joined pool errors are returned.
func (p *Processor) Submit(ctx context.Context, topic string, payload []byte) error {
	p.received.Add(1)

	readings, err := p.normalizer.NormalizeAll(topic, payload)
	if err != nil {
		p.parseErrors.Add(1)
		reason := models.ReasonPayload
		var pe *models.ParseError
		if errors.As(err, &pe) {
			reason = pe.Reason
		}
		metrics.ParseErrors.WithLabelValues(reason).Inc()
		lg := logger.WithComponent("processor")
		lg.Warn().
			Err(err).
			Str("topic", topic).
			Int("payload_size", len(payload)).
			Msg("dropping malformed message")
		return err
	}

	var errs []error
	for _, r := range readings {
		if err := p.ingest.Submit(r); err != nil {
			lg := logger.WithSensor("processor", r.SensorID)
			lg.Warn().
				Err(err).
				Str("parameter", r.Parameter).
				Msg("reading rejected by ingest pool")
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	p.rejected.Add(1)
	return fmt.Errorf("%d of %d readings queued: %w", len(readings)-len(errs), len(readings), errors.Join(errs...))
}

func (p *Processor) handleMessage(ctx context.Context, topic string, payload []byte) {
	// already logged and counted
	_ = p.Submit(ctx, topic, payload)
}

// Router builds the operations and bridge HTTP routes.
func (p *Processor) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logging, middleware.Recovery)

	r.Get("/health", p.healthHandler)
	r.Get("/stats", p.statsHandler)
	r.Handle("/metrics", promhttp.Handler())
	r.Method(http.MethodPost, "/v1/telemetry", handlers.NewTelemetryHandler(handlers.TelemetryConfig{
		Submitter: p,
	}))
	return r
}

// Shutdown stops intake, drains both pools and closes sinks.
func (p *Processor) Shutdown() error {
	log := logger.WithComponent("processor")
	log.Info().Msg("initiating graceful shutdown")
	p.stopOnce.Do(func() { close(p.stop) })

	// 1. Stop the transport
	if p.source != nil {
		if err := p.source.Stop(); err != nil {
			log.Error().Err(err).Msg("transport stop error")
		}
	}

	// 2. Stop accepting HTTP requests
	if p.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.httpServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
		cancel()
	}

	// 3. Drain readings, then the notifications they produced
	timeout := p.cfg.Engine.ShutdownTimeout
	if !p.ingest.StopWithTimeout(timeout) {
		log.Warn().Msg("ingest pool drain timed out")
	}
	if p.notifier != nil && !p.notifier.Stop(timeout) {
		log.Warn().Msg("notification pool drain timed out")
	}

	// 4. Close sinks
	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}

	p.wg.Wait()
	log.Info().Msg("processor stopped gracefully")
	return nil
}

// reportStats periodically logs statistics and sweeps idle cool-down entries
func (p *Processor) reportStats() {
	log := logger.WithComponent("processor")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			s := p.Stats()
			swept := p.coordinator.SweepCooldowns()
			log.Info().
				Uint64("received", s.Received).
				Uint64("parse_errors", s.ParseErrors).
				Uint64("processed", s.Coordinator.Processed).
				Uint64("degraded", s.Coordinator.Degraded).
				Uint64("fired", s.Coordinator.Fired).
				Uint64("suppressed", s.Coordinator.Suppressed).
				Int("queued", s.Ingest.Queued).
				Uint64("dropped", s.Ingest.Dropped).
				Int("cooldowns_swept", swept).
				Msg("stats")
		}
	}
}

// Stats is the processor snapshot served on /stats
type Stats struct {
	Received    uint64               `json:"received"`
	ParseErrors uint64               `json:"parse_errors"`
	Rejected    uint64               `json:"rejected"`
	Ingest      worker.Stats         `json:"ingest"`
	Notify      *worker.Stats        `json:"notify,omitempty"`
	Feed        *kafka.ProducerStats `json:"feed,omitempty"`
	Coordinator alerts.Stats         `json:"coordinator"`
}

// Stats returns current statistics
func (p *Processor) Stats() Stats {
	s := Stats{
		Received:    p.received.Load(),
		ParseErrors: p.parseErrors.Load(),
		Rejected:    p.rejected.Load(),
		Ingest:      p.ingest.Stats(),
		Coordinator: p.coordinator.Stats(),
	}
	if p.notifier != nil {
		ns := p.notifier.Stats()
		s.Notify = &ns
	}
	if p.feed != nil {
		fs := p.feed.Stats()
		s.Feed = &fs
	}
	return s
}

// healthHandler runs every dependency check
func (p *Processor) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(p.checks))
	for name, check := range p.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statsHandler returns current statistics
func (p *Processor) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(p.Stats())
}
