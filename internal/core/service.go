// Package core wires parsing, consolidation, planning, execution, archiving
// and the run ledger into the operations exposed by the CLI.
package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dispensecore/internal/archive"
	"dispensecore/internal/consolidate"
	"dispensecore/internal/device"
	"dispensecore/internal/labware"
	"dispensecore/internal/observability"
	"dispensecore/internal/planner"
	"dispensecore/internal/transferlist"
	"dispensecore/pkg/domain"
)

// Artifact names stored under runs/<id>/.
const (
	ArtifactTransfers = "transfers.csv"
	ArtifactWorklist  = "worklist.csv"
	ArtifactCommands  = "commands.json"
)

// DefaultRunName is used when Execute is called without a name.
const DefaultRunName = "cherrypick"

// DeviceFactory returns the device a plan is executed on.
type DeviceFactory func(plan planner.Plan) device.Device

// CommandLogger is implemented by devices that keep a command log worth
// archiving with the run.
type CommandLogger interface {
	Commands() []device.Command
}

// Prepared is a parsed, consolidated and planned transfer list.
type Prepared struct {
	Requests []domain.TransferRequest
	Batches  []domain.TransferBatch
	Summary  consolidate.Summary
	Plan     planner.Plan
}

// Service runs transfer lists end to end.
type Service struct {
	store   domain.RunStore
	archive archive.Store
	deck    *labware.Deck
	options planner.Options
	devices DeviceFactory
	logger  *zap.Logger
	tracer  observability.Tracer
	metrics observability.MetricsRecorder
	now     func() time.Time
	newID   func() string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger. Nil keeps the no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracer sets the tracer used for each operation.
func WithTracer(t observability.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithMetrics sets the metrics recorder. Recorders implementing
// observability.RunObserver also receive every finished run.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithArchive sets the artifact store.
func WithArchive(a archive.Store) Option {
	return func(s *Service) {
		if a != nil {
			s.archive = a
		}
	}
}

// WithDeck sets the deck layout plans are resolved against.
func WithDeck(d *labware.Deck) Option {
	return func(s *Service) {
		if d != nil {
			s.deck = d
		}
	}
}

// WithPlannerOptions sets the distribute settings.
func WithPlannerOptions(o planner.Options) Option {
	return func(s *Service) { s.options = o }
}

// WithDeviceFactory replaces the simulator.
func WithDeviceFactory(f DeviceFactory) Option {
	return func(s *Service) {
		if f != nil {
			s.devices = f
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// SimulatorFactory builds a fresh simulator sized for the plan's pipette and
// the working volumes of its labware.
func SimulatorFactory(plan planner.Plan) device.Device {
	sim := device.NewSimulator(plan.Pipette.MaxVolume)
	for name, v := range plan.WellVolumes {
		sim.SetWellVolume(name, v)
	}
	return sim
}

// NewService returns a service recording runs in store. Without options it
// plans against the default cherry-pick deck, archives in memory and
// executes on a simulator.
func NewService(store domain.RunStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		archive: archive.NewMemory(),
		deck:    labware.DefaultCherrypickDeck(),
		options: planner.DefaultOptions(),
		devices: SimulatorFactory,
		logger:  zap.NewNop(),
		tracer:  observability.NoopTracer(),
		metrics: observability.NoopMetrics(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the run ledger.
func (s *Service) Store() domain.RunStore { return s.store }

// Archive returns the artifact store.
func (s *Service) Archive() archive.Store { return s.archive }

// Deck returns the deck layout.
func (s *Service) Deck() *labware.Deck { return s.deck }

func (s *Service) observe(ctx context.Context, op string, start time.Time, err error) {
	s.metrics.Observe(ctx, op, err == nil, s.now().Sub(start))
}

// Consolidate parses and groups a transfer list without planning it.
func (s *Service) Consolidate(ctx context.Context, r io.Reader) (batches []domain.TransferBatch, err error) {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, "consolidate")
	defer func() {
		span.End(err)
		s.observe(ctx, "consolidate", start, err)
	}()
	requests, err := transferlist.Parse(r)
	if err != nil {
		return nil, err
	}
	return consolidate.Consolidate(requests), nil
}

// Prepare parses, consolidates, validates against the deck and plans r.
func (s *Service) Prepare(ctx context.Context, r io.Reader) (p Prepared, err error) {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, "prepare")
	defer func() {
		span.End(err)
		s.observe(ctx, "prepare", start, err)
	}()

	p.Requests, err = transferlist.Parse(r)
	if err != nil {
		return Prepared{}, fmt.Errorf("parse transfer list: %w", err)
	}
	p.Batches = consolidate.Consolidate(p.Requests)
	p.Summary = consolidate.Summarize(p.Batches)
	s.logger.Debug("consolidated transfer list",
		zap.Int("requests", len(p.Requests)),
		zap.Int("batches", len(p.Batches)),
		zap.Float64("total_volume", p.Summary.TotalVolume))

	if err := s.deck.ValidateBatches(p.Batches); err != nil {
		return Prepared{}, fmt.Errorf("validate deck: %w", err)
	}
	p.Plan, err = planner.Build(p.Batches, s.deck, s.options)
	if err != nil {
		return Prepared{}, fmt.Errorf("plan: %w", err)
	}
	tot := p.Plan.Totals()
	s.logger.Debug("planned distributions",
		zap.String("pipette", p.Plan.Pipette.Model),
		zap.Int("tips", tot.Tips),
		zap.Int("aspirates", tot.Aspirates))
	return p, nil
}

// Execute prepares r, archives its artifacts, executes the plan on a fresh
// device and records the run. A run is recorded for every attempt, including
// ones that fail to parse; the returned error is the cause of failure.
func (s *Service) Execute(ctx context.Context, name string, r io.Reader) (run domain.Run, err error) {
	if name == "" {
		name = DefaultRunName
	}
	run = domain.Run{
		ID:             s.newID(),
		Name:           name,
		Pipette:        s.options.Pipette.Model,
		DisposalVolume: s.options.DisposalVolume,
		StartedAt:      s.now().UTC(),
	}
	ctx, span := s.tracer.Start(ctx, "execute")
	logger := s.logger.With(zap.String("run_id", run.ID), zap.String("run", name))
	defer func() {
		span.End(err)
		s.metrics.Observe(ctx, "execute", err == nil, run.Duration())
		if ro, ok := s.metrics.(observability.RunObserver); ok {
			ro.ObserveRun(ctx, run)
		}
	}()

	execErr := s.execute(ctx, &run, r, logger)
	run.FinishedAt = s.now().UTC()
	run.Status = domain.RunStatusSucceeded
	if execErr != nil {
		run.Status = domain.RunStatusFailed
		run.Error = execErr.Error()
		logger.Error("run failed", zap.Error(execErr))
	} else {
		logger.Info("run succeeded",
			zap.Int("batches", run.Batches),
			zap.Int("dispenses", run.Dispenses),
			zap.Float64("total_volume", run.TotalVolume),
			zap.Duration("duration", run.Duration()))
	}
	if saveErr := s.store.SaveRun(ctx, run); saveErr != nil {
		return run, errors.Join(execErr, fmt.Errorf("save run %s: %w", run.ID, saveErr))
	}
	return run, execErr
}

func (s *Service) execute(ctx context.Context, run *domain.Run, r io.Reader, logger *zap.Logger) error {
	p, err := s.Prepare(ctx, r)
	if err != nil {
		return err
	}
	run.Pipette = p.Plan.Pipette.Model
	run.Requests = len(p.Requests)
	run.Batches = len(p.Batches)

	var transfers, worklist bytes.Buffer
	if err := transferlist.Write(&transfers, p.Requests); err != nil {
		return fmt.Errorf("render transfers: %w", err)
	}
	if err := transferlist.WriteBatches(&worklist, p.Batches); err != nil {
		return fmt.Errorf("render worklist: %w", err)
	}
	if err := s.put(ctx, run, ArtifactTransfers, transfers.Bytes(), "text/csv"); err != nil {
		return err
	}
	if err := s.put(ctx, run, ArtifactWorklist, worklist.Bytes(), "text/csv"); err != nil {
		return err
	}

	dev := s.devices(p.Plan)
	rep, execErr := device.NewExecutor(dev, logger).Execute(ctx, p.Plan)
	run.Cycles = rep.Cycles
	run.Dispenses = rep.Dispenses
	run.TotalVolume = rep.Delivered
	if execErr == nil {
		run.PlateVolumes = p.Summary.PlateVolumes
	}

	if cl, ok := dev.(CommandLogger); ok {
		data, err := json.MarshalIndent(cl.Commands(), "", "  ")
		if err != nil {
			return errors.Join(execErr, fmt.Errorf("encode commands: %w", err))
		}
		if err := s.put(ctx, run, ArtifactCommands, data, "application/json"); err != nil {
			return errors.Join(execErr, err)
		}
	}
	if execErr != nil {
		return fmt.Errorf("execute: %w", execErr)
	}
	return nil
}

func (s *Service) put(ctx context.Context, run *domain.Run, name string, data []byte, contentType string) error {
	key := archive.RunKey(run.ID, name)
	md := map[string]string{"run-id": run.ID, "run-name": run.Name}
	if _, err := archive.PutBytes(ctx, s.archive, key, data, contentType, md); err != nil {
		return fmt.Errorf("archive %s: %w", key, err)
	}
	run.Artifacts = append(run.Artifacts, key)
	return nil
}

// GetRun returns a recorded run.
func (s *Service) GetRun(ctx context.Context, id string) (domain.Run, error) {
	return s.store.GetRun(ctx, id)
}

// ListRuns returns every recorded run, newest first.
func (s *Service) ListRuns(ctx context.Context) ([]domain.Run, error) {
	return s.store.ListRuns(ctx)
}

// Artifact reads an archived artifact of a run.
func (s *Service) Artifact(ctx context.Context, runID, name string) ([]byte, error) {
	data, _, err := archive.ReadAll(ctx, s.archive, archive.RunKey(runID, name))
	return data, err
}

// DeleteRun removes a run and its archived artifacts. It reports whether the
// run existed.
func (s *Service) DeleteRun(ctx context.Context, id string) (bool, error) {
	run, err := s.store.GetRun(ctx, id)
	var nf domain.ErrRunNotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, key := range run.Artifacts {
		if _, err := s.archive.Delete(ctx, key); err != nil {
			return false, fmt.Errorf("delete artifact %s: %w", key, err)
		}
	}
	return s.store.DeleteRun(ctx, id)
}
