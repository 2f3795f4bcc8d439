// Package api exposes uploads, record lookups and review message publishing
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photolib/internal/events"
	"github.com/dharsanguruparan/photolib/internal/model"
	"github.com/dharsanguruparan/photolib/internal/pipeline"
	"github.com/dharsanguruparan/photolib/internal/router"
)

// PhotoReader loads photo records.
type PhotoReader interface {
	Get(ctx context.Context, id string) (*model.Photo, error)
}

// ObjectUploader stores uploaded files in the photo bucket.
type ObjectUploader interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Bucket() string
}

// Options configures the HTTP server.
type Options struct {
	Address     string
	MaxFileSize int64
}

// Server exposes HTTP endpoints for uploads and review messages.
type Server struct {
	opts    Options
	photos  PhotoReader
	objects ObjectUploader
	review  *router.Router
	log     zerolog.Logger
	server  *http.Server
	once    sync.Once
}

// New constructs a Server.
func New(opts Options, photos PhotoReader, objects ObjectUploader, review *router.Router, log zerolog.Logger) *Server {
	return &Server{
		opts:    opts,
		photos:  photos,
		objects: objects,
		review:  review,
		log:     log.With().Str("component", "api").Logger(),
	}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/photos", s.handleUpload)
	r.Get("/photos/*", s.handlePhoto)
	r.Post("/messages/metadata", s.handleMetadata)
	r.Post("/messages/status", s.handleStatus)
	return r
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.opts.Address,
			Handler:           s.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info().Str("addr", s.opts.Address).Msg("api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "*")
	if id == "" {
		respondError(w, http.StatusNotFound, "photo id required")
		return
	}
	photo, err := s.photos.Get(r.Context(), id)
	if errors.Is(err, model.ErrPhotoNotFound) {
		respondError(w, http.StatusNotFound, "photo not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("id", id).Msg("load photo")
		respondError(w, http.StatusInternalServerError, "failed to load photo")
		return
	}
	respondJSON(w, http.StatusOK, photo)
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	var msg events.MetadataUpdate
	if !decodeJSON(w, r, &msg) {
		return
	}
	n, err := pipeline.PublishMetadata(r.Context(), s.review, msg)
	s.respondPublish(w, n, err)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var msg events.StatusUpdate
	if !decodeJSON(w, r, &msg) {
		return
	}
	n, err := pipeline.PublishStatus(r.Context(), s.review, msg)
	s.respondPublish(w, n, err)
}

func (s *Server) respondPublish(w http.ResponseWriter, delivered int, err error) {
	var de *router.DeliveryError
	switch {
	case err != nil && !errors.As(err, &de):
		respondError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.log.Error().Err(err).Int("delivered", delivered).Msg("publish review message")
		respondError(w, http.StatusBadGateway, "failed to deliver message")
	default:
		respondJSON(w, http.StatusAccepted, map[string]int{"delivered": delivered})
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxFileSize+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, "expecting multipart form")
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer part.Close()
	tmp, err := s.persistTemp(part)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer os.Remove(tmp.path)
	defer tmp.f.Close()

	if err := s.objects.Upload(ctx, tmp.filename, tmp.f, tmp.size, tmp.contentType); err != nil {
		s.log.Error().Err(err).Str("key", tmp.filename).Msg("upload to storage failed")
		respondError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"id":     tmp.filename,
		"bucket": s.objects.Bucket(),
	})
}

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
}

// persistTemp spools the part to disk, enforcing the size limit and sniffing
// the content type from the first 512 bytes.
func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	filename := path.Base(strings.ReplaceAll(part.FileName(), "\\", "/"))
	if filename == "" || filename == "." || filename == "/" {
		return nil, errors.New("file name required")
	}
	tmpFile, err := os.CreateTemp("", "photolib-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	fail := func(err error) (*tempUpload, error) {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, err
	}
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.opts.MaxFileSize {
				return fail(fmt.Errorf("file exceeds limit (%d bytes)", s.opts.MaxFileSize))
			}
			if remain := 512 - len(sniff); remain > 0 {
				sniff = append(sniff, buf[:min(n, remain)]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				return fail(fmt.Errorf("write temp file: %w", err))
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return fail(fmt.Errorf("read file: %w", readErr))
		}
	}
	if written == 0 {
		return fail(errors.New("empty file"))
	}
	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		return fail(fmt.Errorf("rewind temp file: %w", err))
	}
	return &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		contentType: http.DetectContentType(sniff),
		filename:    filename,
	}, nil
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("form field \"file\" is required")
			}
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
