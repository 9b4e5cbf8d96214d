package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-Id"

// statusRecorder captures the status and body size of a response. Unwrap
// lets http.ResponseController reach the underlying flusher.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		defer func() {
			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			// aborted responses still get a log line
			if v := recover(); v != nil {
				log.Warn().Str("op", "server/request").Str("request_id", id).Int64("bytes", rec.bytes).Msgf("%s %s aborted", r.Method, r.URL.Path)
				panic(v)
			}
			log.Info().Str("op", "server/request").
				Str("request_id", id).
				Str("remote", r.RemoteAddr).
				Str("range", r.Header.Get("Range")).
				Int("status", status).
				Int64("bytes", rec.bytes).
				Dur("elapsed", time.Since(start)).
				Msgf("%s %s", r.Method, r.URL.Path)
		}()
		next.ServeHTTP(rec, r)
	})
}
