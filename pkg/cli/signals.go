package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Signals delivers the process signals the service reacts to besides
// shutdown. Bursts coalesce: a pending notification absorbs later ones.
type Signals struct {
	// Resume fires on SIGCONT, after the process was stopped or the host
	// woke from suspend. Timers may have missed their deadlines.
	Resume <-chan struct{}

	// Reload fires on SIGHUP.
	Reload <-chan struct{}

	stop func()
}

// SetupSignalHandler returns a context canceled on SIGINT or SIGTERM and
// the Resume/Reload notifications. Call Stop to release the handlers.
func SetupSignalHandler(parent context.Context) (context.Context, *Signals) {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)

	resume := make(chan struct{}, 1)
	reload := make(chan struct{}, 1)
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGCONT, syscall.SIGHUP)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigCh:
				switch sig {
				case syscall.SIGCONT:
					notify(resume)
				case syscall.SIGHUP:
					notify(reload)
				}
			}
		}
	}()

	return ctx, &Signals{
		Resume: resume,
		Reload: reload,
		stop: func() {
			signal.Stop(sigCh)
			close(done)
			cancel()
		},
	}
}

// Stop unregisters the signal handlers and cancels the context.
func (s *Signals) Stop() {
	s.stop()
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
