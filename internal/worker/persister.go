// Package worker drains the shot-patch queue into postgres. Writes are
// best-effort: a failed write is logged and dropped, never retried into the
// editing session — the in-memory state stays authoritative (see the
// orchestrator's persistence contract).
package worker

import (
	"context"
	"log"
	"time"

	"github.com/Mishra-Manit/thelot-sub000/internal/db"
	"github.com/Mishra-Manit/thelot-sub000/internal/queue"
)

type Persister struct {
	db    *db.DB
	queue *queue.Queue
}

func NewPersister(database *db.DB, q *queue.Queue) *Persister {
	return &Persister{db: database, queue: q}
}

// Start runs the drain loop with the given concurrency until ctx is done.
func (p *Persister) Start(ctx context.Context, concurrency int) {
	log.Printf("Persister started with concurrency: %d", concurrency)

	for i := 0; i < concurrency; i++ {
		go p.drain(ctx)
	}

	<-ctx.Done()
	log.Println("Persister shutting down...")
}

func (p *Persister) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			job, err := p.queue.DequeuePatch(ctx, 5*time.Second)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("[Persist] error dequeuing patch: %v", err)
				continue
			}
			if job == nil {
				continue
			}

			if err := p.db.PatchShot(ctx, job.ShotID, job.Patch); err != nil {
				log.Printf("[Persist] failed to write shot %s: %v", job.ShotID, err)
			}
		}
	}
}
