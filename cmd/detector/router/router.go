// Package router configures HTTP routes for the detector's HTTP API.
//
// Routes configured:
//   - GET  /healthz                    - Liveness (always 200 OK)
//   - GET  /readyz                     - Readiness (503 unless the detector is running)
//   - GET  /metrics                    - Prometheus metrics
//   - GET  /status                     - Detector counters and state
//   - GET  /graph                      - Anomaly knowledge graph (nodes and edges)
//   - GET  /graph/nodes/{index}        - One anomaly node
//   - GET  /graph/nodes/{index}/image  - The anomaly frame as PNG
//   - POST /weights/save               - Request a weight save on shutdown
package router

import (
	"bytes"
	"fmt"
	"image/png"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vicelab/framewatch/pkg/api"
	"github.com/vicelab/framewatch/pkg/graph"
	"github.com/vicelab/framewatch/pkg/httpx"
)

// Backend is the detector as seen by the HTTP API.
type Backend interface {
	Status() api.Status
	Ready() error
	Graph() *graph.Graph
	RequestSave() (alreadyPending bool, err error)
}

// SetupRoutes configures HTTP endpoints for the detector.
func SetupRoutes(b Backend, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.Handle("/healthz", httpx.HealthHandler())
	mux.Handle("/readyz", httpx.HealthHandlerWithCheck(b.Ready))
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /status", handleStatus(b, logger))
	mux.HandleFunc("GET /graph", handleGraph(b, logger))
	mux.HandleFunc("GET /graph/nodes/{index}", handleNode(b, logger))
	mux.HandleFunc("GET /graph/nodes/{index}/image", handleNodeImage(b, logger))
	mux.HandleFunc("POST /weights/save", handleSave(b, logger))

	return httpx.Chain(mux,
		httpx.RecoveryMiddleware(logger),
		httpx.LoggingMiddleware(logger),
	)
}

func handleStatus(b Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := httpx.WriteJSON(w, http.StatusOK, b.Status()); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func handleGraph(b Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := httpx.WriteJSON(w, http.StatusOK, b.Graph().Snapshot()); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func handleNode(b Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		node, ok := lookupNode(w, r, b.Graph())
		if !ok {
			return
		}
		if err := httpx.WriteJSON(w, http.StatusOK, node.View()); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func handleNodeImage(b Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		node, ok := lookupNode(w, r, b.Graph())
		if !ok {
			return
		}

		// Encode before writing so an encoder failure can still become a 500.
		var buf bytes.Buffer
		if err := png.Encode(&buf, node.Image.Image()); err != nil {
			logger.Error("failed to encode anomaly image", "index", node.Index, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(buf.Bytes()); err != nil {
			logger.Error("failed to write image", "index", node.Index, "error", err)
		}
	}
}

func handleSave(b Backend, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		already, err := b.RequestSave()
		if err != nil {
			httpx.WriteError(w, http.StatusConflict, err)
			return
		}
		if !already {
			logger.Info("weight save requested")
		}
		resp := api.SaveResponse{SavePending: true, AlreadyPending: already}
		if err := httpx.WriteJSON(w, http.StatusAccepted, resp); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func lookupNode(w http.ResponseWriter, r *http.Request, g *graph.Graph) (graph.Node, bool) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "node index must be a non-negative integer")
		return graph.Node{}, false
	}
	node, ok := g.Node(index)
	if !ok {
		httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("node %d not found", index))
		return graph.Node{}, false
	}
	return node, true
}
