// Package server mounts configured resources under /download/{id} and runs
// the HTTP listener.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/ranger/internal/config"
	"github.com/tanq16/ranger/internal/source"
	"github.com/tanq16/ranger/internal/streamer"
)

type Server struct {
	cfg     config.Config
	mux     *http.ServeMux
	mu      sync.RWMutex
	mounted map[string]*streamer.Streamer
	closers []io.Closer
}

func New(cfg config.Config) *Server {
	s := &Server{
		cfg:     cfg,
		mux:     http.NewServeMux(),
		mounted: make(map[string]*streamer.Streamer),
	}
	s.mux.HandleFunc("/download/{id}", s.handleDownload)
	s.mux.HandleFunc("GET /resources", s.handleResources)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return s
}

// Mount serves src under /download/{desc.ID}. A non-empty contentType
// replaces the one the source detected.
func (s *Server) Mount(src source.Source, contentType string) error {
	desc := src.Descriptor()
	if contentType != "" {
		desc.ContentType = contentType
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mounted[desc.ID]; ok {
		return fmt.Errorf("resource %q already mounted", desc.ID)
	}
	s.mounted[desc.ID] = streamer.New(desc, src, streamer.Options{
		Strict:    s.cfg.StrictRanges,
		ChunkSize: int(s.cfg.ChunkSize),
		RateLimit: s.cfg.RateLimit,
	})
	if c, ok := src.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}
	log.Info().Str("op", "server/mount").Msgf("mounted %s (%s, %d bytes) at /download/%s", desc.Name, desc.ContentType, desc.Size, desc.ID)
	return nil
}

// OpenResources opens and mounts every configured resource. S3 clients are
// shared between resources with the same profile, region and endpoint.
func (s *Server) OpenResources(ctx context.Context) error {
	clients := make(map[source.S3Options]source.S3API)
	for _, res := range s.cfg.Resources {
		src, err := openResource(ctx, res, clients)
		if err != nil {
			return fmt.Errorf("resource %q: %w", res.ID, err)
		}
		if err := s.Mount(src, res.ContentType); err != nil {
			if c, ok := src.(io.Closer); ok {
				c.Close()
			}
			return err
		}
	}
	return nil
}

func openResource(ctx context.Context, res config.Resource, clients map[source.S3Options]source.S3API) (source.Source, error) {
	switch res.Kind() {
	case config.KindFile:
		return source.OpenFile(res.ID, res.Path, res.ContentType)
	case config.KindS3:
		bucket, key, err := source.ParseS3Location(res.S3)
		if err != nil {
			return nil, err
		}
		opts := source.S3Options{
			Profile:   res.Profile,
			Region:    res.Region,
			Endpoint:  res.Endpoint,
			PathStyle: res.Endpoint != "",
		}
		api, ok := clients[opts]
		if !ok {
			client, err := source.NewS3Client(ctx, opts)
			if err != nil {
				return nil, err
			}
			api = client
			clients[opts] = api
		}
		return source.OpenS3(ctx, api, res.ID, bucket, key)
	case config.KindBlob:
		return source.OpenBlob(ctx, res.ID, res.Blob, res.Key, res.ContentType)
	}
	return nil, fmt.Errorf("resource %q has no store", res.ID)
}

func (s *Server) Handler() http.Handler {
	return logRequests(s.mux)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.RLock()
	st, ok := s.mounted[id]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "resource not found", http.StatusNotFound)
		return
	}
	st.ServeHTTP(w, r)
}

type resourceInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	ETag        string    `json:"etag,omitempty"`
	ModTime     time.Time `json:"mod_time,omitzero"`
	URL         string    `json:"url"`
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	list := make([]resourceInfo, 0, len(s.mounted))
	for id, st := range s.mounted {
		d := st.Descriptor()
		list = append(list, resourceInfo{
			ID:          id,
			Name:        d.Name,
			Size:        d.Size,
			ContentType: d.ContentType,
			ETag:        d.ETag,
			ModTime:     d.ModTime,
			URL:         "/download/" + id,
		})
	}
	s.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(list); err != nil {
		log.Debug().Str("op", "server/resources").Err(err).Msg("error writing resource list")
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
// within the configured timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("op", "server/serve").Msgf("listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Str("op", "server/serve").Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
		return fmt.Errorf("error shutting down: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases the sources opened by OpenResources.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}
