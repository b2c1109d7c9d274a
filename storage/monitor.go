/*
	This file implements a monitor of chunk traffic through the store boundary.
	Engines report the bytes of each chunk read or written; rates are tallied
	over one-second windows.
*/

package storage

import (
	"sync"
	"time"
)

// MonitorBuffer is the number of unprocessed reports held before new ones are
// dropped.
const MonitorBuffer = 10000

// Throughput is chunk traffic over the last full second.
type Throughput struct {
	BytesReadPerSec    int
	BytesWrittenPerSec int
	ReadsPerSec        int
	WritesPerSec       int
}

type tally struct {
	current Throughput
	last    Throughput
}

func (t *tally) read(n int) {
	t.current.BytesReadPerSec += n
	t.current.ReadsPerSec++
}

func (t *tally) written(n int) {
	t.current.BytesWrittenPerSec += n
	t.current.WritesPerSec++
}

// roll ends the current window.
func (t *tally) roll() {
	t.last = t.current
	t.current = Throughput{}
}

var (
	chunkBytesRead    = make(chan int, MonitorBuffer)
	chunkBytesWritten = make(chan int, MonitorBuffer)

	monitorMu   sync.RWMutex
	monitorLast Throughput
	monitorOnce sync.Once
)

// RecordChunkRead notes a chunk of n bytes read from an engine.  It never blocks.
func RecordChunkRead(n int) {
	monitorOnce.Do(startMonitor)
	select {
	case chunkBytesRead <- n:
	default:
	}
}

// RecordChunkWrite notes a chunk of n bytes written to an engine.  It never blocks.
func RecordChunkWrite(n int) {
	monitorOnce.Do(startMonitor)
	select {
	case chunkBytesWritten <- n:
	default:
	}
}

// CurrentThroughput returns the chunk traffic of the last full second.
func CurrentThroughput() Throughput {
	monitorMu.RLock()
	defer monitorMu.RUnlock()
	return monitorLast
}

func startMonitor() {
	go loadMonitor()
}

func loadMonitor() {
	secondTick := time.NewTicker(time.Second)
	defer secondTick.Stop()
	var t tally
	for {
		select {
		case n := <-chunkBytesRead:
			t.read(n)
		case n := <-chunkBytesWritten:
			t.written(n)
		case <-secondTick.C:
			t.roll()
			monitorMu.Lock()
			monitorLast = t.last
			monitorMu.Unlock()
		}
	}
}
