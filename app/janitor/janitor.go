package janitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/katalog/produk-server/blobstore"
	"github.com/katalog/produk-server/models"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type ImageIndex interface {
	Images(ctx context.Context) (map[string]struct{}, error)
	CountByImage(ctx context.Context, image string) (int64, error)
}

type OrphanLedger interface {
	List(ctx context.Context) ([]models.OrphanedBlob, error)
	Remove(ctx context.Context, blobID string) error
}

type SessionPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Report summarizes one sweep.
type Report struct {
	Deleted        int64
	Kept           int64
	Failed         int64
	SessionsPurged int64
}

type Options struct {
	// Grace is the minimum age of an unrecorded blob before a directory scan
	// may delete it, so uploads whose row is still being written survive.
	Grace   time.Duration
	Workers int
}

// Sweeper deletes blobs no product references: the ones recorded in the
// orphan ledger, and, for listable stores, any stale unreferenced blob.
type Sweeper struct {
	images   ImageIndex
	ledger   OrphanLedger
	blobs    blobstore.Store
	sessions SessionPurger
	opts     Options
	log      *zap.Logger

	now   func() time.Time
	sched *cron.Cron
}

func NewSweeper(images ImageIndex, ledger OrphanLedger, blobs blobstore.Store, sessions SessionPurger, opts Options, log *zap.Logger) *Sweeper {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Sweeper{
		images:   images,
		ledger:   ledger,
		blobs:    blobs,
		sessions: sessions,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Start runs Sweep on the given cron schedule until Stop is called.
func (s *Sweeper) Start(schedule string) error {
	s.sched = cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	_, err := s.sched.AddFunc(schedule, func() {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error("sweep panicked", zap.Any("panic", err))
			}
		}()
		if _, err := s.Sweep(context.Background()); err != nil {
			s.log.Error("sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return errors.Wrapf(err, "invalid gc schedule %q", schedule)
	}
	s.sched.Start()
	s.log.Info("orphan sweeper started", zap.String("schedule", schedule))
	return nil
}

// Stop halts the schedule. The returned context is done once a running
// sweep has finished.
func (s *Sweeper) Stop() context.Context {
	if s.sched == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.sched.Stop()
}

// Sweep performs one collection pass.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var report Report

	refs, err := s.images.Images(ctx)
	if err != nil {
		return report, errors.Wrap(err, "load image references")
	}

	recorded, err := s.ledger.List(ctx)
	if err != nil {
		return report, errors.Wrap(err, "load orphan ledger")
	}

	candidates := make(map[string]bool, len(recorded))
	for _, o := range recorded {
		candidates[o.BlobID] = true
	}

	if lister, ok := s.blobs.(blobstore.Lister); ok {
		infos, err := lister.List(ctx)
		if err != nil {
			return report, errors.Wrap(err, "list blobs")
		}
		cutoff := s.now().Add(-s.opts.Grace)
		for _, info := range infos {
			if _, ok := candidates[info.ID]; ok {
				continue
			}
			if _, referenced := refs[info.ID]; referenced || info.ModTime.After(cutoff) {
				continue
			}
			candidates[info.ID] = false
		}
	}

	pool, err := ants.NewPool(s.opts.Workers, ants.WithPanicHandler(func(p interface{}) {
		s.log.Error("blob delete panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return report, errors.Wrap(err, "create worker pool")
	}
	defer pool.Release()

	var (
		wg                    sync.WaitGroup
		deleted, kept, failed atomic.Int64
	)
	for id, inLedger := range candidates {
		if _, referenced := refs[id]; referenced {
			kept.Add(1)
			if inLedger {
				s.forget(ctx, id)
			}
			continue
		}

		wg.Add(1)
		id, inLedger := id, inLedger
		err := pool.Submit(func() {
			defer wg.Done()
			// The reference snapshot may be stale by now.
			n, err := s.images.CountByImage(ctx, id)
			if err != nil {
				failed.Add(1)
				s.log.Warn("failed to recheck blob references", zap.String("blob_id", id), zap.Error(err))
				return
			}
			if n > 0 {
				kept.Add(1)
				if inLedger {
					s.forget(ctx, id)
				}
				return
			}
			if err := s.blobs.Delete(ctx, id); err != nil {
				failed.Add(1)
				s.log.Warn("failed to delete orphaned blob", zap.String("blob_id", id), zap.Error(err))
				return
			}
			deleted.Add(1)
			if inLedger {
				s.forget(ctx, id)
			}
		})
		if err != nil {
			wg.Done()
			failed.Add(1)
			s.log.Warn("failed to schedule blob delete", zap.String("blob_id", id), zap.Error(err))
		}
	}
	wg.Wait()

	report.Deleted = deleted.Load()
	report.Kept = kept.Load()
	report.Failed = failed.Load()

	if s.sessions != nil {
		purged, err := s.sessions.PurgeExpired(ctx)
		if err != nil {
			s.log.Warn("failed to purge expired sessions", zap.Error(err))
		}
		report.SessionsPurged = purged
	}

	s.log.Info("sweep finished",
		zap.Int64("deleted", report.Deleted),
		zap.Int64("kept", report.Kept),
		zap.Int64("failed", report.Failed),
		zap.Int64("sessions_purged", report.SessionsPurged))
	return report, nil
}

func (s *Sweeper) forget(ctx context.Context, blobID string) {
	if err := s.ledger.Remove(ctx, blobID); err != nil {
		s.log.Warn("failed to clear orphan ledger entry", zap.String("blob_id", blobID), zap.Error(err))
	}
}
