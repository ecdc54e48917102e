package job

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// RoomSweeper removes empty rooms and ended calls from live state.
type RoomSweeper interface {
	SweepRooms(ctx context.Context) (int, error)
}

// RoomSweepJob drops rooms left empty by missed leaves and resets the
// room and call gauges from the live state.
type RoomSweepJob struct {
	sweeper RoomSweeper
	timeout time.Duration
	logger  *zap.Logger
}

func NewRoomSweepJob(sweeper RoomSweeper, logger *zap.Logger) *RoomSweepJob {
	return &RoomSweepJob{
		sweeper: sweeper,
		timeout: 10 * time.Second,
		logger:  logger.With(zap.String("job", "room_sweep")),
	}
}

// Run executes one sweep. It implements cron.Job.
func (j *RoomSweepJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	removed, err := j.sweeper.SweepRooms(ctx)
	if err != nil {
		j.logger.Error("Room sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		j.logger.Info("Room sweep completed", zap.Int("removed", removed))
		return
	}
	j.logger.Debug("Room sweep found nothing to remove")
}

// Scheduler runs maintenance jobs on cron schedules.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	cronLogger := zapCronLogger{logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		logger: logger,
	}
}

// Add registers job under schedule, e.g. "@every 1m" or "*/5 * * * *".
func (s *Scheduler) Add(schedule string, job cron.Job) error {
	if _, err := s.cron.AddJob(schedule, job); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop waits for running jobs up to ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out")
	}
}

type zapCronLogger struct {
	log *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
