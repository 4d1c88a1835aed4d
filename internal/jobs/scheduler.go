package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Func is a job body. The returned error is logged, never retried.
type Func func(ctx context.Context) error

// Scheduler runs named jobs on cron specs. A job never overlaps with its own
// previous run.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger *zerolog.Logger

	mu   sync.Mutex
	jobs map[string]Func
}

// cronLogger adapts zerolog to the cron.Logger interface.
type cronLogger struct {
	logger *zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

func NewScheduler(logger *zerolog.Logger) *Scheduler {
	l := logger.With().Str("component", "jobs").Logger()
	cl := cronLogger{logger: &l}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx:    ctx,
		cancel: cancel,
		logger: &l,
		jobs:   make(map[string]Func),
	}
}

// Add registers fn under name. An empty spec leaves the job runnable through
// RunNow only.
func (s *Scheduler) Add(name, spec string, fn Func) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %q already registered", name)
	}
	if spec != "" {
		if _, err := s.cron.AddFunc(spec, func() { s.run(name, fn) }); err != nil {
			return fmt.Errorf("schedule job %q with spec %q: %w", name, spec, err)
		}
	}
	s.jobs[name] = fn
	s.logger.Info().Str("job", name).Str("spec", spec).Msg("job registered")
	return nil
}

// RunNow executes a registered job synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	fn, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return fn(ctx)
}

// Names lists registered jobs in name order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Scheduler) run(name string, fn Func) {
	started := time.Now()
	log := s.logger.With().Str("job", name).Logger()
	if err := fn(s.ctx); err != nil {
		log.Error().Err(err).Dur("took", time.Since(started)).Msg("job failed")
		return
	}
	log.Debug().Dur("took", time.Since(started)).Msg("job finished")
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
