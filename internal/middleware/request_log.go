package middleware

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/carechat/internal/logger"
)

// RequestLog логирует медленные HTTP-запросы: method, path, статус и request id от chi.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logger.LogDuration("http "+r.Method+" "+r.URL.Path+" status="+strconv.Itoa(ww.Status())+
				" req="+chimw.GetReqID(r.Context()), start)
		}()
		next.ServeHTTP(ww, r)
	})
}
