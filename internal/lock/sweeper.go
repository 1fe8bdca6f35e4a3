package lock

import (
	"context"
	"log"
	"time"
)

// Sweeper periodically clears expired locks across every known canvas.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper starts the background sweep loop. interval <= 0 defaults
// to the manager's TTL.
func NewSweeper(m *Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = m.ttl
	}
	s := &Sweeper{
		manager:  m,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sweeper) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepAll()
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) sweepAll() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	canvases, err := s.manager.store.ListCanvases(ctx)
	if err != nil {
		log.Printf("lock sweeper: list canvases: %v", err)
		return
	}
	for _, canvasID := range canvases {
		cleared, err := s.manager.SweepStale(ctx, canvasID)
		if err != nil {
			log.Printf("lock sweeper: canvas %s: %v", canvasID, err)
			continue
		}
		if cleared > 0 {
			log.Printf("lock sweeper: cleared %d stale lock(s) on %s", cleared, canvasID)
		}
	}
}

// Stop shuts the loop down and waits for it to exit.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}
