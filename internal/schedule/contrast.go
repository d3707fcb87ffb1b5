// Package schedule changes display settings at fixed times using cron
// expressions.
package schedule

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"midiboy/internal/config"
	appLog "midiboy/internal/log"
)

// ContrastSetter is the part of the display the schedule drives.
type ContrastSetter interface {
	SetContrast(v byte) error
}

// Contrast applies config.ContrastStep entries to a display.
type Contrast struct {
	c   *cron.Cron
	dev ContrastSetter
}

// NewContrast registers one cron job per step. The schedule is not running
// until Start is called. An invalid cron expression fails the whole
// schedule.
func NewContrast(dev ContrastSetter, steps []config.ContrastStep, opts ...cron.Option) (*Contrast, error) {
	if dev == nil {
		return nil, errors.New("schedule: nil display")
	}
	opts = append([]cron.Option{cron.WithLogger(cronLogger{})}, opts...)
	s := &Contrast{c: cron.New(opts...), dev: dev}

	for i, step := range steps {
		step := step
		if _, err := s.c.AddFunc(step.Cron, func() { s.apply(step) }); err != nil {
			return nil, fmt.Errorf("schedule: contrast step %d %q: %w", i, step.Cron, err)
		}
	}
	return s, nil
}

func (s *Contrast) apply(step config.ContrastStep) {
	if err := s.dev.SetContrast(step.Contrast); err != nil {
		appLog.Error("scheduled contrast change failed", err, "cron", step.Cron, "contrast", step.Contrast)
		return
	}
	appLog.Info("scheduled contrast applied", "cron", step.Cron, "contrast", step.Contrast)
}

// Start runs the schedule in its own goroutine.
func (s *Contrast) Start() {
	s.c.Start()
}

// Stop stops the schedule. The returned context is done once a running job
// has finished.
func (s *Contrast) Stop() context.Context {
	return s.c.Stop()
}

// Entries returns the registered jobs.
func (s *Contrast) Entries() []cron.Entry {
	return s.c.Entries()
}

// cronLogger routes cron's own messages to the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}
