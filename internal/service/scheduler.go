package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Task периодическая фоновая задача планировщика
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Scheduler запускает периодические фоновые задачи: автообновление
// кеша и сверку пространственного индекса. Каждая задача работает в
// своей горутине и останавливается по Stop вместе с остальными.
type Scheduler struct {
	tasks  []Task
	logger *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// newTicker подменяется в тестах ручным каналом тиков
	newTicker func(d time.Duration) (<-chan time.Time, func())
}

// NewScheduler создает планировщик фоновых задач
func NewScheduler(logger *logrus.Entry) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// Add регистрирует задачу. Вызывается до Start.
func (s *Scheduler) Add(name string, interval time.Duration, run func(ctx context.Context)) {
	s.tasks = append(s.tasks, Task{
		Name:     name,
		Interval: interval,
		Run:      run,
	})
}

// Start запускает все зарегистрированные задачи
func (s *Scheduler) Start() {
	for i := range s.tasks {
		task := s.tasks[i]
		s.wg.Add(1)
		go s.runTask(task)
	}

	s.logger.WithField("tasks", len(s.tasks)).Info("Started background scheduler")
}

// Stop останавливает задачи и дожидается завершения текущих запусков
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Background scheduler stopped")
}

// runTask крутит цикл одной задачи до остановки планировщика
func (s *Scheduler) runTask(task Task) {
	defer s.wg.Done()

	tick, stop := s.newTicker(task.Interval)
	defer stop()

	for {
		select {
		case <-tick:
			s.safeRun(task)
		case <-s.ctx.Done():
			return
		}
	}
}

// safeRun выполняет задачу, не давая панике уронить процесс
func (s *Scheduler) safeRun(task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"task":  task.Name,
				"panic": r,
			}).Error("Background task panicked")
		}
	}()

	start := time.Now()
	task.Run(s.ctx)
	s.logger.WithFields(logrus.Fields{
		"task":     task.Name,
		"duration": time.Since(start),
	}).Debug("Background task completed")
}
