package session

import (
	"context"
	"time"

	"github.com/drewfead/autocoder/internal/api"
	"github.com/drewfead/autocoder/internal/control"
)

const drainTimeout = 2 * time.Second

// persistLoop runs cache and journal I/O one job at a time, in the order the
// loop queued it.
func (s *Session) persistLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case job := <-s.persist:
			job(ctx)
		}
	}
}

// drain runs the jobs still queued at shutdown, so the last journal entries
// reach the store.
func (s *Session) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case job := <-s.persist:
			job(ctx)
		default:
			return
		}
	}
}

// background queues job without blocking the loop. Jobs are dropped when the
// queue is full.
func (s *Session) background(name string, job func(context.Context)) {
	select {
	case s.persist <- job:
	default:
		s.log.Warn("persistence queue full, dropping job", "job", name)
	}
}

func (s *Session) loadCache() {
	if s.opts.Cache == nil {
		return
	}
	gen, project := s.gen, s.project
	s.background("load snapshot", func(ctx context.Context) {
		list, at, err := s.opts.Cache.LoadSnapshot(ctx, project)
		if err != nil {
			s.log.Debug("no cached snapshot", "project", project, "error", err)
			return
		}
		s.post(func() { s.onCached(gen, project, list, at) })
	})
}

func (s *Session) onCached(gen uint64, project string, list *api.FeatureList, at time.Time) {
	if gen != s.gen || !s.fetcher.Seed(list, at) {
		return
	}
	s.log.Debug("seeded from cache", "project", project, "fetched_at", at)
	s.rec.ApplySnapshot(project, list)
	s.publish()
}

func (s *Session) saveCache(project string, list *api.FeatureList) {
	if s.opts.Cache == nil {
		return
	}
	at := s.opts.Clock.Now()
	s.background("save snapshot", func(ctx context.Context) {
		if err := s.opts.Cache.SaveSnapshot(ctx, project, list, at); err != nil {
			s.log.Warn("failed to cache snapshot", "project", project, "error", err)
		}
	})
}

func (s *Session) journal(o control.Outcome) {
	if s.opts.Journal == nil {
		return
	}
	s.background("journal", func(ctx context.Context) {
		if err := s.opts.Journal.RecordOutcome(ctx, o); err != nil {
			s.log.Warn("failed to journal command", "id", o.ID, "outcome", o.Kind, "error", err)
		}
	})
}
