// Package scheduler runs the coordinator jobs on UTC wall-clock schedules.
// Each job is single-flight: a tick that fires while the previous run is
// still going is dropped, not queued.
package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/AquaToken/aqua-bribes/metrics"
)

// Schedule yields the next fire time strictly after the given instant.
type Schedule interface {
	Next(after time.Time) time.Time
}

type every struct{ interval time.Duration }

// Every fires at a fixed interval.
func Every(interval time.Duration) Schedule {
	return every{interval: interval}
}

func (s every) Next(after time.Time) time.Time {
	return after.Add(s.interval)
}

type hourlyAt struct{ minute int }

// HourlyAt fires once an hour at the given minute.
func HourlyAt(minute int) Schedule {
	return hourlyAt{minute: minute}
}

func (s hourlyAt) Next(after time.Time) time.Time {
	after = after.UTC()
	next := time.Date(after.Year(), after.Month(), after.Day(), after.Hour(), s.minute, 0, 0, time.UTC)
	if !next.After(after) {
		next = next.Add(time.Hour)
	}
	return next
}

type daily struct{ hour, minute int }

// Daily fires once a day at the given UTC time.
func Daily(hour, minute int) Schedule {
	return daily{hour: hour, minute: minute}
}

func (s daily) Next(after time.Time) time.Time {
	after = after.UTC()
	next := time.Date(after.Year(), after.Month(), after.Day(), s.hour, s.minute, 0, 0, time.UTC)
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

type weekly struct {
	day          time.Weekday
	hour, minute int
}

// Weekly fires once a week at the given UTC weekday and time.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return weekly{day: day, hour: hour, minute: minute}
}

func (s weekly) Next(after time.Time) time.Time {
	after = after.UTC()
	next := time.Date(after.Year(), after.Month(), after.Day(), s.hour, s.minute, 0, 0, time.UTC)
	next = next.AddDate(0, 0, (int(s.day)-int(next.Weekday())+7)%7)
	if !next.After(after) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

type dailyRandomized struct {
	startHour, endHour int
	rng                *rand.Rand
	mu                 sync.Mutex
}

// DailyRandomized fires once a day at a random time within [startHour,
// endHour), so load spreads instead of piling on a fixed minute.
func DailyRandomized(startHour, endHour int) Schedule {
	return &dailyRandomized{
		startHour: startHour,
		endHour:   endHour,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *dailyRandomized) Next(after time.Time) time.Time {
	s.mu.Lock()
	offset := time.Duration(s.rng.Int63n(int64(s.endHour-s.startHour) * int64(time.Hour)))
	s.mu.Unlock()

	after = after.UTC()
	day := time.Date(after.Year(), after.Month(), after.Day(), s.startHour, 0, 0, 0, time.UTC)
	next := day.Add(offset)
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

type job struct {
	name     string
	schedule Schedule
	timeout  time.Duration
	run      func(context.Context) error
	running  atomic.Bool
}

// Scheduler owns the job set and their timers.
type Scheduler struct {
	jobs    []*job
	logger  *zap.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// New returns an empty scheduler.
func New(logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	return &Scheduler{logger: logger, metrics: m}
}

// Add registers a job. The timeout bounds each run; zero means no bound
// beyond the scheduler context.
func (s *Scheduler) Add(name string, schedule Schedule, timeout time.Duration, run func(context.Context) error) {
	s.jobs = append(s.jobs, &job{name: name, schedule: schedule, timeout: timeout, run: run})
}

// Start launches one timer loop per job and returns. Stop by canceling the
// context, then Wait.
func (s *Scheduler) Start(ctx context.Context) {
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
}

// Wait blocks until all job loops have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()
	timer := time.NewTimer(0)
	defer timer.Stop()

	next := j.schedule.Next(time.Now().UTC())
	timer.Reset(time.Until(next))
	s.logger.Info("job scheduled", zap.String("job", j.name), zap.Time("next", next))

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if j.running.CompareAndSwap(false, true) {
			s.runOnce(ctx, j)
			j.running.Store(false)
		} else {
			s.logger.Warn("job still running, tick dropped", zap.String("job", j.name))
		}

		next = j.schedule.Next(time.Now().UTC())
		timer.Reset(time.Until(next))
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j *job) {
	runCtx := ctx
	if j.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	started := time.Now()
	err := j.run(runCtx)
	elapsed := time.Since(started)

	s.metrics.JobRuns.WithLabelValues(j.name).Inc()
	s.metrics.JobDuration.WithLabelValues(j.name).Observe(elapsed.Seconds())
	if err != nil {
		s.metrics.JobFailures.WithLabelValues(j.name).Inc()
		s.logger.Error("job failed",
			zap.String("job", j.name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return
	}
	s.logger.Debug("job finished",
		zap.String("job", j.name),
		zap.Duration("elapsed", elapsed))
}
