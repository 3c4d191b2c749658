package mid

import (
	"context"
	"expvar"
	"net/http"
	"runtime"

	"github.com/ardanlabs/hybridchain/foundation/web"
)

// Counters published on the debug /debug/vars endpoint.
var (
	metricRequests   = expvar.NewInt("requests")
	metricErrors     = expvar.NewInt("errors")
	metricPanics     = expvar.NewInt("panics")
	metricGoroutines = expvar.NewInt("goroutines")
)

// Metrics updates program counters.
func Metrics() web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			err := handler(ctx, w, r)

			metricRequests.Add(1)

			// Sample the goroutine count every 100 requests.
			if metricRequests.Value()%100 == 0 {
				metricGoroutines.Set(int64(runtime.NumGoroutine()))
			}

			if err != nil {
				metricErrors.Add(1)
			}

			return err
		}

		return h
	}

	return m
}
