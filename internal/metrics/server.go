package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chunklog/chunklog/internal/health"
	"github.com/chunklog/chunklog/internal/logging"
)

// scrapeErrorLog reports gather failures through the process logger.
type scrapeErrorLog struct {
	logger *logging.Logger
}

func (l scrapeErrorLog) Println(v ...any) {
	l.logger.Warnf("metrics scrape error", map[string]any{"error": fmt.Sprint(v...)})
}

// Handler exposes gatherer in the Prometheus text and OpenMetrics formats.
// A nil gatherer means the default registry. Collection errors are logged
// and the metrics that could be gathered are still served.
func Handler(gatherer prometheus.Gatherer, logger *logging.Logger) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog:          scrapeErrorLog{logger: logger},
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})
}

// Server serves /metrics on its own address. When the metrics and probe
// addresses are the same, mount Handler on the probe server instead.
type Server struct {
	*health.Listener
	handler http.Handler
}

// NewServer prepares a server for addr. A nil gatherer means the default
// registry.
func NewServer(addr string, gatherer prometheus.Gatherer, logger *logging.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer, logger))
	return &Server{
		Listener: health.NewListener("metrics-server", addr, logger),
		handler:  mux,
	}
}

// Start serves in the background until Close. Scraping is best effort: a
// listener that dies later is logged and does not stop scavenging.
func (s *Server) Start() error {
	return s.Serve(s.handler)
}
