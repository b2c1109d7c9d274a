/*
	Package downres populates the coarser levels of a volume's resolution pyramid.

	A Dispatcher plans the coarser levels, commits them through the ingest Writer,
	and enumerates one Task per destination chunk of every coarser level.  Each
	task derives its chunk from the level just finer, so a task reads at most one
	downsampling factor's worth of chunks.  Tasks are submitted to a Queue level by
	level and run by an Executor, possibly in other processes.  Tasks of one level
	never depend on one another and re-running a task rewrites identical bytes.
*/
package downres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/janelia-flyem/mipvol/mipvol"
)

// Task derives the chunk ChunkBbox of TargetLevel from SourceLevel data.
// SourceLevel is always TargetLevel-1.  A task holds no references to in-memory
// state and can cross process boundaries.
type Task struct {
	Path        string
	SourceLevel int
	TargetLevel int
	ChunkBbox   mipvol.Bbox
}

func (t Task) String() string {
	return fmt.Sprintf("downsample %q level %d -> %d chunk %s", t.Path, t.SourceLevel, t.TargetLevel, t.ChunkBbox)
}

// Key identifies the destination chunk.  Tasks with equal keys must not run
// concurrently.
func (t Task) Key() string {
	m := t.ChunkBbox.Min
	return fmt.Sprintf("%s@%d/%d_%d_%d", t.Path, t.TargetLevel, m[0], m[1], m[2])
}

// Validate checks the task is internally consistent.
func (t Task) Validate() error {
	if t.SourceLevel < 0 || t.TargetLevel != t.SourceLevel+1 {
		return fmt.Errorf("%s: target level must be the one just coarser than source: %w", t, mipvol.ErrInvalidLevel)
	}
	if t.ChunkBbox.Level != t.TargetLevel {
		return fmt.Errorf("%s: chunk bbox is tagged with level %d: %w", t, t.ChunkBbox.Level, mipvol.ErrInvalidLevel)
	}
	if t.ChunkBbox.Empty() {
		return fmt.Errorf("%s: empty chunk: %w", t, mipvol.ErrDegenerateBbox)
	}
	return nil
}

type taskJSON struct {
	Path        string   `json:"path"`
	SourceLevel int      `json:"source_level"`
	TargetLevel int      `json:"target_level"`
	Min         [3]int32 `json:"min"`
	Max         [3]int32 `json:"max"`
}

// MarshalJSON writes the chunk corners in (z, y, x) order.
func (t Task) MarshalJSON() ([]byte, error) {
	return json.Marshal(taskJSON{
		Path:        t.Path,
		SourceLevel: t.SourceLevel,
		TargetLevel: t.TargetLevel,
		Min:         t.ChunkBbox.Min,
		Max:         t.ChunkBbox.Max,
	})
}

func (t *Task) UnmarshalJSON(b []byte) error {
	var tj taskJSON
	if err := json.Unmarshal(b, &tj); err != nil {
		return err
	}
	*t = Task{
		Path:        tj.Path,
		SourceLevel: tj.SourceLevel,
		TargetLevel: tj.TargetLevel,
		ChunkBbox:   mipvol.Bbox{Min: tj.Min, Max: tj.Max, Level: tj.TargetLevel},
	}
	return nil
}

// Queue accepts tasks for execution.  Delivery, retries, and backoff are the
// queue's responsibility.  A Dispatcher enqueues level by level, so every call
// for one level returns before any call for the next.  A queue must start a
// volume's task only after the tasks it accepted earlier for finer levels of that
// volume have finished.
type Queue interface {
	Enqueue(ctx context.Context, tasks []Task) error
}
