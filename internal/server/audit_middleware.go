package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

func (s *Server) auditMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.AuditManager == nil {
			next.ServeHTTP(w, r)
			return
		}

		entry := AuditLogEntry{
			Timestamp: time.Now().UTC(),
			Method:    r.Method,
			Path:      r.URL.Path,
			Handler:   handlerName(r.URL.Path),
		}

		if username, _, ok := r.BasicAuth(); ok {
			entry.UserID = username
		}
		if id := mux.Vars(r)["id"]; id != "" {
			entry.OrderID = id
		}

		wrw := newResponseWriterWrapper(w)

		next.ServeHTTP(wrw, r)

		entry.StatusCode = wrw.GetStatusCode()
		s.AuditManager.LogEntry(r.Context(), entry)
	})
}

func handlerName(path string) string {
	switch {
	case strings.HasPrefix(path, "/orders/"):
		return "handleGetOrder"
	case strings.HasSuffix(path, "/orders/active"):
		return "handleListActive"
	case strings.HasSuffix(path, "/orders/history"):
		return "handleListHistorical"
	}
	return "unknown"
}
