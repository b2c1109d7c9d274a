//go:generate go run ../cmd/gen-version -o version.go

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/zenazn/goji/web"

	"github.com/janelia-flyem/mipvol/cutout"
	"github.com/janelia-flyem/mipvol/downres"
	"github.com/janelia-flyem/mipvol/ingest"
	"github.com/janelia-flyem/mipvol/mipvol"
	"github.com/janelia-flyem/mipvol/storage"
)

// gitVersion is set by an init() in version.go, written by "go generate".
var gitVersion = "unknown"

// Version returns the source version of the running server.
func Version() string {
	return gitVersion
}

// Service is a running mipvol server: a store plus the cutout, ingest and
// downsample components wired to it.
type Service struct {
	config *Config
	store  storage.Store

	reader     *cutout.Reader
	writer     *ingest.Writer
	dispatcher *downres.Dispatcher
	closeQueue func() error

	// Ingests and dispatches into the same volume path are serialized.
	ingestLocks pathLocks

	started time.Time
	mux     *web.Mux
	handler http.Handler
}

// NewService opens the configured store and queue.
func NewService(c *Config) (*Service, error) {
	store, err := c.OpenStore()
	if err != nil {
		return nil, err
	}
	s, err := NewServiceWithStore(c, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return s, nil
}

// NewServiceWithStore returns a service using an already opened store.
func NewServiceWithStore(c *Config, store storage.Store) (*Service, error) {
	queue, closeQueue, err := c.OpenQueue(store)
	if err != nil {
		return nil, err
	}
	writer := ingest.NewWriter(store, c.IngestOptions())
	s := &Service{
		config:     c,
		store:      store,
		reader:     cutout.NewReader(store, c.CutoutOptions()),
		writer:     writer,
		dispatcher: downres.NewDispatcher(writer, queue, c.DownsampleOptions()),
		closeQueue: closeQueue,
		started:    time.Now(),
	}
	s.initRoutes()
	return s, nil
}

// Store returns the service's store.
func (s *Service) Store() storage.Store {
	return s.store
}

func (s *Service) queueName() string {
	if s.config.Downsample.Queue == "" {
		return "local"
	}
	return s.config.Downsample.Queue
}

// ListenAndServe serves HTTP requests until the context is done, then waits up to
// the configured shutdown delay for requests in flight.
func (s *Service) ListenAndServe(ctx context.Context) error {
	address := s.config.Server.HTTPAddress
	if address == "" {
		address = DefaultWebAddress
	}
	src := &http.Server{
		Addr:        address,
		Handler:     s,
		ReadTimeout: 1 * time.Hour,
	}
	errc := make(chan error, 1)
	go func() {
		mipvol.Infof("Web server listening at %s ...\n", address)
		errc <- src.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	delay := time.Duration(s.config.Server.ShutdownDelay) * time.Second
	mipvol.Infof("Shutting down web server, waiting up to %s for requests...\n", delay)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), delay)
	defer cancel()
	if err := src.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web server shutdown: %v", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases the queue and store.
func (s *Service) Close() error {
	var errs []error
	if s.closeQueue != nil {
		if err := s.closeQueue(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// pathLocks hands out one mutex per volume path.  A path's entry is dropped once
// nobody holds or waits on it.
type pathLocks struct {
	sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	sync.Mutex
	refs int
}

func (pl *pathLocks) lock(path string) (unlock func()) {
	pl.Lock()
	if pl.locks == nil {
		pl.locks = make(map[string]*pathLock)
	}
	l, found := pl.locks[path]
	if !found {
		l = new(pathLock)
		pl.locks[path] = l
	}
	l.refs++
	pl.Unlock()
	l.Lock()
	return func() {
		pl.Lock()
		l.refs--
		if l.refs == 0 {
			delete(pl.locks, path)
		}
		pl.Unlock()
		l.Unlock()
	}
}
