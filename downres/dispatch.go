package downres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/mipvol/ingest"
	"github.com/janelia-flyem/mipvol/mipvol"
	"github.com/janelia-flyem/mipvol/storage"
)

// Options control level planning.
type Options struct {
	// Factor is the (z, y, x) downsampling factor between adjacent levels.
	Factor mipvol.Point3d

	// MaxLevels caps the number of levels in the pyramid, including level 0.
	MaxLevels int

	Retry storage.RetryPolicy
}

// DefaultOptions plan anisotropic levels.
func DefaultOptions() Options {
	return Options{
		Factor:    AnisotropicFactor,
		MaxLevels: 8,
		Retry:     storage.DefaultRetryPolicy(),
	}
}

// TaskHandle describes a submitted downsample run.
type TaskHandle struct {
	ID           uuid.UUID
	Path         string
	SourceLevel  int
	Region       mipvol.Bbox
	TargetLevels []int
	NumTasks     int
	Submitted    time.Time
}

func (h *TaskHandle) String() string {
	return fmt.Sprintf("downsample %s of %q level %d %s -> levels %v, %d tasks", h.ID, h.Path, h.SourceLevel, h.Region, h.TargetLevels, h.NumTasks)
}

// Dispatcher plans coarser levels and submits their tasks.  It must only be called
// for a region after the ingest covering that region has committed.  It never
// retries failed tasks; that is up to the queue.
type Dispatcher struct {
	writer *ingest.Writer
	queue  Queue
	opts   Options
}

// NewDispatcher returns a dispatcher committing levels through w and submitting
// tasks to q.
func NewDispatcher(w *ingest.Writer, q Queue, opts Options) *Dispatcher {
	if opts.Factor == (mipvol.Point3d{}) {
		opts.Factor = AnisotropicFactor
	}
	return &Dispatcher{writer: w, queue: q, opts: opts}
}

func (d *Dispatcher) getInfo(ctx context.Context, path string) (info *mipvol.VolumeInfo, err error) {
	err = d.opts.Retry.Do(ctx, "get info "+path, func(ctx context.Context) error {
		var err error
		info, err = d.writer.Store().GetInfo(ctx, path)
		return err
	})
	return
}

// Dispatch submits tasks covering the whole of sourceLevel.
func (d *Dispatcher) Dispatch(ctx context.Context, path string, sourceLevel, parallelism int) (*TaskHandle, error) {
	info, err := d.getInfo(ctx, path)
	if err != nil {
		return nil, err
	}
	bounds, err := info.Bounds(sourceLevel)
	if err != nil {
		return nil, err
	}
	return d.DispatchRegion(ctx, path, bounds, parallelism)
}

// DispatchRegion submits tasks for the chunks of every coarser level overlapping
// region, which is tagged with the source level.  Missing coarser levels are
// planned and committed first.  Levels are enqueued one wave at a time, finest
// first, and the next wave is only enqueued once every call for the previous one
// returned.  Each wave is split into at most parallelism batches that are
// enqueued concurrently.
func (d *Dispatcher) DispatchRegion(ctx context.Context, path string, region mipvol.Bbox, parallelism int) (*TaskHandle, error) {
	timedLog := mipvol.NewTimeLog()
	info, err := d.getInfo(ctx, path)
	if err != nil {
		return nil, err
	}
	if _, err := info.Level(region.Level); err != nil {
		return nil, err
	}
	planned, err := PlanLevels(info, d.opts.Factor, d.opts.MaxLevels)
	if err != nil {
		return nil, err
	}
	if len(planned) > 0 {
		if info, err = d.writer.CommitLevels(ctx, path, planned); err != nil {
			return nil, err
		}
	}
	waves, err := PlanWaves(info, path, region)
	if err != nil {
		return nil, err
	}
	handle := &TaskHandle{
		ID:          uuid.New(),
		Path:        path,
		SourceLevel: region.Level,
		Region:      region,
		Submitted:   time.Now(),
	}
	for _, wave := range waves {
		handle.TargetLevels = append(handle.TargetLevels, wave[0].TargetLevel)
		handle.NumTasks += len(wave)
	}
	for _, wave := range waves {
		if err := d.enqueue(ctx, wave, parallelism); err != nil {
			return nil, fmt.Errorf("%s: level %d: %w", handle, wave[0].TargetLevel, err)
		}
		mipvol.Debugf("Enqueued %d tasks for level %d of %q\n", len(wave), wave[0].TargetLevel, path)
	}
	timedLog.Infof("Submitted %s", handle)
	return handle, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, tasks []Task, parallelism int) error {
	if len(tasks) == 0 {
		return nil
	}
	if parallelism < 1 {
		parallelism = 1
	}
	batchSize := (len(tasks) + parallelism - 1) / parallelism
	g, gctx := errgroup.WithContext(ctx)
	for begin := 0; begin < len(tasks); begin += batchSize {
		end := begin + batchSize
		if end > len(tasks) {
			end = len(tasks)
		}
		batch := tasks[begin:end]
		g.Go(func() error {
			return d.queue.Enqueue(gctx, batch)
		})
	}
	return g.Wait()
}
