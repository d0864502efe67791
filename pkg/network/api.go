package network

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/opencontainers/go-digest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxIntentBytes caps request bodies on the intent endpoints.
const maxIntentBytes = 1 << 20

// RegisterRoutes adds the controller API endpoints to the given mux.
//
//	GET  /api/v1/status            controller metadata
//	GET  /api/v1/topology          last applied topology
//	GET  /api/v1/health            drift check against live state
//	POST /api/v1/intent/validate   validate an intent
//	POST /api/v1/intent/dry-run    compile without executing
//	POST /api/v1/intent/apply      apply (?force=true to re-run)
//	GET  /api/v1/compiled/{digest} archived compiled topology
//	GET  /metrics                  Prometheus metrics from gatherer
func (c *Controller) RegisterRoutes(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.HandleFunc("GET /api/v1/status", c.handleStatus)
	mux.HandleFunc("GET /api/v1/topology", c.handleTopology)
	mux.HandleFunc("GET /api/v1/health", c.handleHealth)
	mux.HandleFunc("POST /api/v1/intent/validate", c.handleValidate)
	mux.HandleFunc("POST /api/v1/intent/dry-run", c.handleDryRun)
	mux.HandleFunc("POST /api/v1/intent/apply", c.handleApply)
	mux.HandleFunc("GET /api/v1/compiled/{digest}", c.handleCompiled)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

func (c *Controller) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.Status())
}

func (c *Controller) handleTopology(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.Topology())
}

func (c *Controller) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.CheckHealth(r.Context()))
}

func (c *Controller) handleValidate(w http.ResponseWriter, r *http.Request) {
	intent, ok := decodeIntent(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.ValidateIntent(intent))
}

func (c *Controller) handleDryRun(w http.ResponseWriter, r *http.Request) {
	intent, ok := decodeIntent(w, r)
	if !ok {
		return
	}
	res := c.DryRun(intent)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func (c *Controller) handleApply(w http.ResponseWriter, r *http.Request) {
	intent, ok := decodeIntent(w, r)
	if !ok {
		return
	}

	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid force parameter: "+v)
			return
		}
		force = b
	}

	res, err := c.ApplyIntent(r.Context(), intent, force)
	status := http.StatusOK
	var execErr *ApplyExecutionError
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidIntent):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &execErr):
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

func (c *Controller) handleCompiled(w http.ResponseWriter, r *http.Request) {
	if c.archive == nil {
		writeError(w, http.StatusNotFound, "no archive configured")
		return
	}

	d, err := digest.Parse(r.PathValue("digest"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	raw, err := c.archive.Get(d)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "compiled topology not found: "+d.String())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Digest", d.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func decodeIntent(w http.ResponseWriter, r *http.Request) (*TopologyIntent, bool) {
	var intent TopologyIntent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIntentBytes)).Decode(&intent); err != nil {
		writeError(w, http.StatusBadRequest, "invalid intent body: "+err.Error())
		return nil, false
	}
	return &intent, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
