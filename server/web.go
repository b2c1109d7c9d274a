/*
	This file holds the HTTP API of a mipvol server.  Points in query strings are
	"z,y,x" triples of integers, e.g., begin=0,128,128.
*/

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/cors"
	"github.com/zenazn/goji/web"
	"github.com/zenazn/goji/web/middleware"

	"github.com/janelia-flyem/mipvol/cutout"
	"github.com/janelia-flyem/mipvol/downres"
	"github.com/janelia-flyem/mipvol/ingest"
	"github.com/janelia-flyem/mipvol/mipvol"
	"github.com/janelia-flyem/mipvol/storage"
)

const (
	// WebAPIVersion is the string version of the API, e.g., "v1/".  Empty while
	// the API is unversioned.
	WebAPIVersion = ""

	// WebAPIPath is the path prefix for all HTTP API calls.
	WebAPIPath = "/api/" + WebAPIVersion

	// MaxIngestBytes bounds the body of a single ingest request.
	MaxIngestBytes = mipvol.Giga
)

const webHelp = `
mipvol server HTTP API

Points are given as "z,y,x" integer triples.  Regions are given by begin and end,
begin and size, or center and size.

GET  /api/help
	Returns this help.

GET  /api/server/info
	Returns JSON describing the server, its store and its queue.

GET  /api/info?path=<volume>
	Returns the neuroglancer precomputed info JSON of the volume.

GET  /api/cutout?path=<volume>&begin=&end=&coord_mip=0&mip=0[&squeeze=true]
	Returns the raw little-endian bytes of the (C, Z, Y, X) cutout.  The coordinates
	are at level coord_mip and data is read at level mip.  Response headers:
	X-Shape (comma separated), X-Dtype, and X-Bbox (the box read, at level mip).

POST /api/ingest?path=<template>&shape=z,y,x&dtype=uint8&begin=&end=[...]
	Writes the raw (C, Z, Y, X) body into a volume.  Optional parameters:
	  channels      number of channels in the body (default 1)
	  mip           level of the source pyramid read to produce the patch
	                (default 0)
	  coord_mip     level of begin/end in the source pyramid (default mip)
	  source        volume whose pyramid begin/end are expressed in
	  keywords      comma separated values for "{}" placeholders in path
	  tag           appended to the resolved path
	  offset        replaces the min corner of the region
	  patch_offset  correction from the region's min corner to the patch's
	  voxel_size    z,y,x voxel size of a new volume
	  chunk_size    z,y,x chunk size of a new volume
	  layout        "image" or "segmentation"
	Returns JSON describing the committed volume.

POST /api/downsample?path=<volume>[&mip=0][&begin=&end=][&parallelism=N]
	Plans missing coarser levels and submits downsample tasks for the region at
	level mip, or the whole level if no region is given.  Returns a JSON handle.
`

// errBadRequest marks malformed request parameters.
var errBadRequest = errors.New("bad request")

// BadRequest writes an error message and a 400 status, logging the failure.
func BadRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	writeError(w, r, http.StatusBadRequest, fmt.Sprintf(format, args...))
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	errorMsg := fmt.Sprintf("%s (%s).", message, r.URL.Path)
	mipvol.Errorf("%s %s: %s\n", r.Method, r.URL, message)
	http.Error(w, errorMsg, status)
}

// httpStatus maps the error taxonomy onto HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrNoVolume):
		return http.StatusNotFound
	case errors.Is(err, mipvol.ErrWriteConflict):
		return http.StatusConflict
	case errors.Is(err, mipvol.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, mipvol.ErrMissingChunk):
		return http.StatusNotFound
	case errors.Is(err, mipvol.ErrInvalidLevel),
		errors.Is(err, mipvol.ErrDegenerateBbox),
		errors.Is(err, mipvol.ErrShapeMismatch),
		errors.Is(err, mipvol.ErrIncompatibleVolume),
		errors.Is(err, mipvol.ErrAmbiguousOffset),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func serverError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, httpStatus(err), err.Error())
}

func writeJSON(w http.ResponseWriter, r *http.Request, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(value); err != nil {
		mipvol.Errorf("unable to write JSON response to %s: %v\n", r.URL, err)
	}
}

// initRoutes builds the goji mux.  CORS is applied outside the mux so preflight
// requests never reach the handlers.
func (s *Service) initRoutes() {
	mux := web.New()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Use(s.logRequests)

	mux.Get(WebAPIPath+"help", helpHandler)
	mux.Get(WebAPIPath+"server/info", s.serverInfoHandler)
	mux.Get(WebAPIPath+"info", s.infoHandler)
	mux.Get(WebAPIPath+"cutout", s.cutoutHandler)
	mux.Post(WebAPIPath+"ingest", s.ingestHandler)
	mux.Post(WebAPIPath+"downsample", s.downsampleHandler)
	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "unknown endpoint; see "+WebAPIPath+"help")
	})

	s.mux = mux
	s.handler = cors.New(cors.Options{
		AllowedOrigins: s.config.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "HEAD"},
		ExposedHeaders: []string{"X-Shape", "X-Dtype", "X-Bbox"},
	}).Handler(mux)
}

func (s *Service) logRequests(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		t0 := time.Now()
		h.ServeHTTP(w, r)
		mipvol.Debugf("[%s] %s %s (%s)\n", middleware.GetReqID(*c), r.Method, r.URL, time.Since(t0))
	}
	return http.HandlerFunc(fn)
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, webHelp)
}

func (s *Service) serverInfoHandler(w http.ResponseWriter, r *http.Request) {
	info := struct {
		Host       string
		Version    string
		Note       string
		Store      string
		Queue      string
		Engines    string
		StartTime  time.Time
		Uptime     string
		Throughput storage.Throughput
		CacheHits  string `json:",omitempty"`
	}{
		Host:       s.config.Server.Host,
		Version:    Version(),
		Note:       s.config.Server.Note,
		Store:      s.store.String(),
		Queue:      s.queueName(),
		Engines:    storage.EnginesAvailable(),
		StartTime:  s.started,
		Uptime:     humanize.Time(s.started),
		Throughput: storage.CurrentThroughput(),
	}
	if cached, ok := s.store.(*storage.CachedStore); ok {
		attempts, hits := cached.Stats()
		info.CacheHits = fmt.Sprintf("%s of %s", humanize.Comma(int64(hits)), humanize.Comma(int64(attempts)))
	}
	writeJSON(w, r, info)
}

func (s *Service) infoHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		BadRequest(w, r, "path parameter required")
		return
	}
	info, err := s.reader.GetInfo(r.Context(), path)
	if err != nil {
		serverError(w, r, err)
		return
	}
	writeJSON(w, r, info)
}

func (s *Service) cutoutHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	path := query.Get("path")
	if path == "" {
		BadRequest(w, r, "path parameter required")
		return
	}
	region, err := queryRegion(query)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	coordLevel, err := queryInt(query, "coord_mip", 0)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	level, err := queryInt(query, "mip", coordLevel)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	reader := s.reader
	if squeeze := query.Get("squeeze"); squeeze != "" {
		opts := reader.Options()
		if opts.Squeeze, err = strconv.ParseBool(squeeze); err != nil {
			BadRequest(w, r, "bad squeeze parameter %q", squeeze)
			return
		}
		reader = cutout.NewReader(s.store, opts)
	}

	ctx := r.Context()
	info, err := reader.GetInfo(ctx, path)
	if err != nil {
		serverError(w, r, err)
		return
	}
	bbox, err := cutout.CoordBbox(info, coordLevel, region)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	out, err := reader.ReadWithInfo(ctx, path, info, bbox, coordLevel, level)
	if err != nil {
		serverError(w, r, err)
		return
	}
	shape := make([]string, 0, 4)
	for _, n := range out.Shape() {
		shape = append(shape, strconv.Itoa(n))
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Shape", strings.Join(shape, ","))
	w.Header().Set("X-Dtype", out.DataType.String())
	w.Header().Set("X-Bbox", out.Bbox.String())
	if _, err := w.Write(out.Data); err != nil {
		mipvol.Errorf("unable to write cutout of %s: %v\n", path, err)
	}
}

func (s *Service) ingestHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	ctx := r.Context()
	req, patchExtent, err := s.ingestRequest(r)
	if err != nil {
		if errors.Is(err, storage.ErrNoVolume) || errors.Is(err, mipvol.ErrStoreUnavailable) {
			serverError(w, r, err)
		} else {
			BadRequest(w, r, "%v", err)
		}
		return
	}
	dtype, err := mipvol.ParseDataType(query.Get("dtype"))
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	channels, err := queryInt(query, "channels", 1)
	if err != nil || channels < 1 {
		BadRequest(w, r, "bad channels parameter %q", query.Get("channels"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxIngestBytes+1))
	if err != nil {
		BadRequest(w, r, "unable to read ingest body: %v", err)
		return
	}
	if len(body) > MaxIngestBytes {
		BadRequest(w, r, "ingest body exceeds %s", humanize.IBytes(MaxIngestBytes))
		return
	}
	patch, err := mipvol.NewArrayFromBytes(dtype, channels, patchExtent, body)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}

	path, err := ingest.DestinationPath(req)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	unlock := s.ingestLocks.lock(path)
	committed, err := s.writer.Ingest(ctx, patch, req)
	unlock()
	if err != nil {
		serverError(w, r, err)
		return
	}
	writeJSON(w, r, committed)
}

// ingestRequest parses every ingest parameter except the body's type and channels.
func (s *Service) ingestRequest(r *http.Request) (req ingest.Request, patchExtent mipvol.Point3d, err error) {
	query := r.URL.Query()
	pattern := query.Get("path")
	if pattern == "" {
		err = fmt.Errorf("path parameter required")
		return
	}
	if patchExtent, err = queryPoint(query, "shape"); err != nil {
		return
	}
	if query.Get("shape") == "" {
		err = fmt.Errorf("shape parameter required")
		return
	}
	if req.InputLevel, err = queryInt(query, "mip", 0); err != nil {
		return
	}
	var coordLevel int
	if coordLevel, err = queryInt(query, "coord_mip", req.InputLevel); err != nil {
		return
	}
	if kw := query.Get("keywords"); kw != "" {
		req.Keywords = strings.Split(kw, ",")
	}
	req.Path = ingest.DetectTemplate(pattern, req.Keywords)
	req.Tag = query.Get("tag")
	req.Layout = mipvol.Layout(query.Get("layout"))
	if req.Layout != "" && !req.Layout.Valid() {
		err = fmt.Errorf("unknown layout %q", req.Layout)
		return
	}

	var region cutout.Region
	if region, err = queryRegion(query); err != nil {
		return
	}
	req.Center, req.Size = region.Center, region.Size
	if source := query.Get("source"); source != "" {
		if req.SourceInfo, err = s.reader.GetInfo(r.Context(), source); err != nil {
			return
		}
		if req.Bbox, err = cutout.CoordBbox(req.SourceInfo, coordLevel, region); err != nil {
			return
		}
	} else if req.Bbox, err = explicitBbox(region, coordLevel); err != nil {
		return
	}

	if req.Offset, err = queryOptionalPoint(query, "offset"); err != nil {
		return
	}
	if req.PatchOffsetCorrection, err = queryOptionalPoint(query, "patch_offset"); err != nil {
		return
	}
	if vs := query.Get("voxel_size"); vs != "" {
		if req.VoxelSize, err = mipvol.StringToVector(vs, ","); err != nil {
			return
		}
	}
	if req.ChunkSize, err = queryPoint(query, "chunk_size"); err != nil {
		return
	}
	if req.ChunkSize == (mipvol.Point3d{}) {
		req.ChunkSize = s.config.IngestChunkSize()
	}
	return
}

func (s *Service) downsampleHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	path := query.Get("path")
	if path == "" {
		BadRequest(w, r, "path parameter required")
		return
	}
	level, err := queryInt(query, "mip", 0)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	parallelism, err := queryInt(query, "parallelism", s.config.DownsampleParallelism())
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	region, err := queryRegion(query)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}

	ctx := r.Context()
	unlock := s.ingestLocks.lock(path)
	defer unlock()
	var handle *downres.TaskHandle
	if region == (cutout.Region{}) {
		handle, err = s.dispatcher.Dispatch(ctx, path, level, parallelism)
	} else {
		handle, err = s.dispatchRegion(r, path, level, region, parallelism)
	}
	if err != nil {
		serverError(w, r, err)
		return
	}
	writeJSON(w, r, handle)
}

func (s *Service) dispatchRegion(r *http.Request, path string, level int, region cutout.Region, parallelism int) (*downres.TaskHandle, error) {
	info, err := s.reader.GetInfo(r.Context(), path)
	if err != nil {
		return nil, err
	}
	bbox, err := cutout.CoordBbox(info, level, region)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, errBadRequest)
	}
	return s.dispatcher.DispatchRegion(r.Context(), path, bbox, parallelism)
}

// ---- query parsing ----

type queryValues interface {
	Get(key string) string
}

func queryInt(query queryValues, key string, defaultValue int) (int, error) {
	s := query.Get(key)
	if s == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad %s parameter %q", key, s)
	}
	return n, nil
}

// queryPoint returns a zero point if the key is absent.
func queryPoint(query queryValues, key string) (mipvol.Point3d, error) {
	p, err := queryOptionalPoint(query, key)
	if err != nil || p == nil {
		return mipvol.Point3d{}, err
	}
	return *p, nil
}

func queryOptionalPoint(query queryValues, key string) (*mipvol.Point3d, error) {
	s := query.Get(key)
	if s == "" {
		return nil, nil
	}
	p, err := mipvol.StringToPoint(s, ",")
	if err != nil {
		return nil, fmt.Errorf("bad %s parameter: %v", key, err)
	}
	return &p, nil
}

func queryRegion(query queryValues) (region cutout.Region, err error) {
	if region.Begin, err = queryOptionalPoint(query, "begin"); err != nil {
		return
	}
	if region.End, err = queryOptionalPoint(query, "end"); err != nil {
		return
	}
	if region.Center, err = queryOptionalPoint(query, "center"); err != nil {
		return
	}
	if region.Size, err = queryOptionalPoint(query, "size"); err != nil {
		return
	}
	if region.Center != nil && region.Begin != nil {
		err = fmt.Errorf("give either begin or center, not both")
	}
	return
}

// explicitBbox resolves a region that has no pyramid to fill in defaults from.
func explicitBbox(region cutout.Region, level int) (mipvol.Bbox, error) {
	switch {
	case region.Center != nil && region.Size != nil:
		begin := region.Center.Sub(region.Size.FloorDiv(mipvol.Point3d{2, 2, 2}))
		return mipvol.NewBbox(begin, *region.Size, level), nil
	case region.Begin != nil && region.End != nil:
		return mipvol.Bbox{Min: *region.Begin, Max: *region.End, Level: level}, nil
	case region.Begin != nil && region.Size != nil:
		return mipvol.NewBbox(*region.Begin, *region.Size, level), nil
	}
	return mipvol.Bbox{}, fmt.Errorf("region needs begin and end, begin and size, or center and size")
}

// ServeSingleHTTP serves a single HTTP request.
func (s *Service) ServeSingleHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ServeHTTP implements http.Handler.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
