// Package supervisor composes the monitor's long-running cooperating
// tasks — in cmd/sla-monitor, the reconciler and the tick broadcaster —
// cancelling all peers on any fatal failure or external interrupt
// (spec design note §9). It is adapted from the teacher's
// subprocess supervisor (which restarted external commands); here the
// supervised units are in-process goroutines rather than child
// processes, since the probe engine runs everything in one process.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Task is one cooperating unit. It must return promptly once ctx is
// cancelled. A nil error means a clean, voluntary exit; it does not
// cancel the other tasks, which keep running.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor runs a fixed set of tasks and cancels every peer as soon
// as one task returns a non-nil error that is not context.Canceled —
// or as soon as the parent context is cancelled (external interrupt).
type Supervisor struct {
	tasks []Task
}

// New builds a Supervisor for the given tasks.
func New(tasks ...Task) *Supervisor {
	return &Supervisor{tasks: tasks}
}

// Run blocks until every task has exited. It returns the first
// non-context.Canceled error observed, or nil if every task exited
// cleanly or only via cancellation.
func (s *Supervisor) Run(ctx context.Context) error {
	if len(s.tasks) == 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(s.tasks))
	var wg sync.WaitGroup
	for _, t := range s.tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			err := t.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				select {
				case errCh <- fmt.Errorf("%s: %w", t.Name, err):
				default:
				}
				cancel()
			}
		}(t)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	<-done
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}
