package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Supervisor coordinates the hand-off between cache versions. At most
// one version is active and at most one newer version is waiting; the
// waiting version takes over either immediately (when nothing is active
// yet) or when skip-waiting is signalled by the host page.
type Supervisor struct {
	logger  zerolog.Logger
	mu      sync.Mutex
	active  *Controller
	waiting *Controller
}

// NewSupervisor creates an empty supervisor.
func NewSupervisor(logger zerolog.Logger) *Supervisor {
	return &Supervisor{logger: logger}
}

// Register installs a new version. If installation fails, the previous
// version stays active and the error is returned. If no version is
// active yet, the new one activates immediately; otherwise it waits for
// SkipWaiting.
func (s *Supervisor) Register(ctx context.Context, c *Controller) error {
	s.mu.Lock()
	if s.active != nil && s.active.Version() == c.Version() {
		s.mu.Unlock()
		s.logger.Debug().Str("version", c.Version()).Msg("Version already active, skipping install")
		return nil
	}
	s.mu.Unlock()

	if err := c.Install(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		if err := c.Activate(ctx); err != nil {
			return err
		}
		s.active = c
		return nil
	}

	if s.waiting != nil {
		s.logger.Info().
			Str("replaced", s.waiting.Version()).
			Str("version", c.Version()).
			Msg("Replacing waiting version")
	}
	s.waiting = c
	s.logger.Info().Str("version", c.Version()).Msg("Version installed, waiting to activate")
	return nil
}

// SkipWaiting promotes the waiting version: stale partitions are purged,
// the old version is superseded, and the new one starts serving. With no
// waiting version it is a no-op.
func (s *Supervisor) SkipWaiting(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.waiting == nil {
		return nil
	}

	next := s.waiting
	if err := next.Activate(ctx); err != nil {
		return fmt.Errorf("activate %s: %w", next.Version(), err)
	}

	if s.active != nil {
		s.active.Supersede()
	}
	s.active = next
	s.waiting = nil

	s.logger.Info().Str("version", next.Version()).Msg("Skip-waiting hand-off complete")
	return nil
}

// Active returns the currently active controller, nil when none.
func (s *Supervisor) Active() *Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Waiting returns the installed-but-waiting controller, nil when none.
func (s *Supervisor) Waiting() *Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting
}
