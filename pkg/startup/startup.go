// Package startup sequences service boot. Dependencies declare what must be
// running before them; the whole set is retried with fibonacci backoff until
// it comes up or the attempt budget is spent.
package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
)

// Dependency is one boot step. DependsOn names steps that must be started
// first; Stop runs in reverse start order during shutdown.
type Dependency interface {
	GetName() string
	DependsOn() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type status int

const (
	statusPending status = iota
	statusStarted
	statusStopped
	statusFailed
)

// Sequencer starts registered dependencies in declaration order, honoring
// DependsOn edges.
type Sequencer struct {
	order       []string
	deps        map[string]Dependency
	statuses    map[string]status
	logger      ectologger.Logger
	maxAttempts int
}

func New(logger ectologger.Logger, maxAttempts int) *Sequencer {
	return &Sequencer{
		deps:        make(map[string]Dependency),
		statuses:    make(map[string]status),
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

func (s *Sequencer) AddDependency(dep Dependency) {
	if _, exists := s.deps[dep.GetName()]; !exists {
		s.order = append(s.order, dep.GetName())
	}
	s.deps[dep.GetName()] = dep
}

// Start brings every dependency up. A failure anywhere retries the whole
// set; already-started dependencies are not restarted.
func (s *Sequencer) Start(ctx context.Context) error {
	var lastErr error

	a, b := 1, 1
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		s.logger.WithField("attempt", attempt).Infof("Beginning startup attempt %d", attempt)

		lastErr = nil
		for _, name := range s.order {
			if err := s.startDependency(ctx, s.deps[name]); err != nil {
				s.logger.WithError(err).Errorf("Startup dependency '%s' attempt %d failed", name, attempt)
				lastErr = err
				break
			}
		}
		if lastErr == nil {
			return nil
		}
		if attempt == s.maxAttempts {
			break
		}

		s.logger.Infof("Retrying in %d seconds (attempt %d/%d)", a, attempt, s.maxAttempts)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(a) * time.Second):
		}
		a, b = b, a+b
	}

	return fmt.Errorf("startup failed after %d attempts: %w", s.maxAttempts, lastErr)
}

func (s *Sequencer) startDependency(ctx context.Context, dep Dependency) error {
	name := dep.GetName()
	if s.statuses[name] == statusStarted {
		return nil
	}

	for _, upstream := range dep.DependsOn() {
		if s.statuses[upstream] != statusStarted {
			if err := s.startDependency(ctx, s.deps[upstream]); err != nil {
				return err
			}
		}
	}

	s.logger.WithField("dependency", name).Infof("Starting dependency '%s'", name)
	s.statuses[name] = statusPending
	if err := dep.Start(ctx); err != nil {
		s.statuses[name] = statusFailed
		return err
	}
	s.statuses[name] = statusStarted
	return nil
}

// Stop shuts dependencies down in reverse declaration order. Dependencies
// that never started are still offered a Stop; steps guard their own state.
func (s *Sequencer) Stop(ctx context.Context) error {
	for i := len(s.order) - 1; i >= 0; i-- {
		if err := s.stopDependency(ctx, s.deps[s.order[i]]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sequencer) stopDependency(ctx context.Context, dep Dependency) error {
	name := dep.GetName()
	if s.statuses[name] == statusStopped {
		return nil
	}

	s.logger.WithField("dependency", name).Infof("Stopping dependency '%s'", name)
	if err := dep.Stop(ctx); err != nil {
		s.logger.WithError(err).WithField("dependency", name).Errorf("Failed to stop dependency '%s'", name)
		return err
	}
	s.statuses[name] = statusStopped
	return nil
}
