package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/lox/forecastbot/internal/chart"
	"github.com/lox/forecastbot/internal/delivery"
)

// ErrUnknownSchedule is returned by RunOnce for a name that is not configured.
var ErrUnknownSchedule = errors.New("unknown schedule")

// Schedule is a periodic chart delivery for one identity.
type Schedule struct {
	Name     string `yaml:"name" validate:"required"`
	Cron     string `yaml:"cron" validate:"required"`
	Timezone string `yaml:"timezone" validate:"omitempty,timezone"`
	Kind     string `yaml:"kind" validate:"omitempty,oneof=hourly weekly daily absolute_humidity soil_moisture"`
	Domain   string `yaml:"domain" validate:"required"`
	Owner    string `yaml:"owner" validate:"required"`
	Target   string `yaml:"target" validate:"required"`
}

// Expr is the cron expression with the schedule's zone applied.
func (s Schedule) Expr() string {
	if s.Timezone == "" {
		return s.Cron
	}
	return "CRON_TZ=" + s.Timezone + " " + s.Cron
}

func (s Schedule) request() (delivery.Request, error) {
	kind := chart.KindHourly
	if s.Kind != "" {
		k, err := chart.ParseKind(s.Kind)
		if err != nil {
			return delivery.Request{}, err
		}
		kind = k
	}
	return delivery.Request{
		Domain:  s.Domain,
		Owner:   s.Owner,
		Kind:    kind,
		Target:  s.Target,
		Trigger: "schedule",
	}, nil
}

// Deliverer runs the delivery pipeline.
type Deliverer interface {
	Deliver(ctx context.Context, req delivery.Request) (*delivery.Result, error)
}

// JobInfo describes a scheduled job.
type JobInfo struct {
	Name    string
	Expr    string
	NextRun time.Time
	LastRun time.Time
}

// Scheduler runs configured deliveries on their cron schedules. Jobs run
// concurrently; a schedule that is still running when it fires again runs
// twice.
type Scheduler struct {
	cron      *gocron.Scheduler
	deliverer Deliverer
	schedules map[string]Schedule
	jobs      map[string]*gocron.Job
	timeout   time.Duration
	log       *zap.Logger
}

func New(schedules []Schedule, deliverer Deliverer, timeout time.Duration, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	byName := make(map[string]Schedule, len(schedules))
	for _, s := range schedules {
		byName[s.Name] = s
	}
	return &Scheduler{
		cron:      gocron.NewScheduler(time.UTC),
		deliverer: deliverer,
		schedules: byName,
		jobs:      make(map[string]*gocron.Job),
		timeout:   timeout,
		log:       log,
	}
}

// Start registers every schedule and starts the scheduler.
func (s *Scheduler) Start() error {
	if len(s.schedules) == 0 {
		s.log.Info("scheduler: no schedules configured; nothing to schedule")
		return nil
	}

	for name, sched := range s.schedules {
		if _, err := sched.request(); err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
		job, err := s.cron.Cron(sched.Expr()).Tag(name).Do(s.run, name)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
		s.jobs[name] = job
		s.log.Info("scheduler: registered schedule",
			zap.String("name", name),
			zap.String("cron", sched.Expr()),
			zap.String("target", sched.Target))
	}

	s.cron.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Jobs lists the registered jobs ordered by name.
func (s *Scheduler) Jobs() []JobInfo {
	out := make([]JobInfo, 0, len(s.jobs))
	for name, job := range s.jobs {
		out = append(out, JobInfo{
			Name:    name,
			Expr:    s.schedules[name].Expr(),
			NextRun: job.NextRun(),
			LastRun: job.LastRun(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunOnce delivers the named schedule immediately.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (*delivery.Result, error) {
	sched, ok := s.schedules[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchedule, name)
	}
	req, err := sched.request()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.deliverer.Deliver(ctx, req)
}

func (s *Scheduler) run(name string) {
	s.log.Info("scheduler: running schedule", zap.String("name", name))
	res, err := s.RunOnce(context.Background(), name)
	if err != nil {
		// The pipeline records and reports the failure itself.
		s.log.Warn("scheduler: schedule failed", zap.String("name", name), zap.Error(err))
		return
	}
	s.log.Info("scheduler: schedule delivered",
		zap.String("name", name),
		zap.String("run_id", res.RunID),
		zap.String("target", res.Target))
}
