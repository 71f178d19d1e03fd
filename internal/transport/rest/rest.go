// Package rest implements the request/response transport of §6: the
// Signal K REST API over the full tree, grounded on the teacher's plain
// net/http handlers in http.go wrapped with gorilla/handlers logging.
package rest

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/signalk/signalk-server-go/internal/logs"
	"github.com/signalk/signalk-server-go/internal/store"
)

// Handler serves the REST surface over a store.
type Handler struct {
	store    *store.Store
	implName string
	mux      *http.ServeMux
}

// New builds the REST mux: discovery root, the full-tree GET API, the
// supplemental per-vessel context read, and a 404 for anything unresolved.
func New(st *store.Store, implName string) *Handler {
	h := &Handler{store: st, implName: implName, mux: http.NewServeMux()}
	h.mux.HandleFunc("/signalk", h.handleDiscovery)
	h.mux.HandleFunc("/signalk/v1/api/vessels/", h.handleVesselContext)
	h.mux.HandleFunc("/signalk/v1/api/", h.handleAPI)
	h.mux.HandleFunc("/signalk/v1/api", h.handleAPIRoot)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// handleDiscovery answers GET /signalk with the endpoint map a client uses
// to find the REST and streaming roots, per the protocol's discovery step.
func (h *Handler) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"endpoints": map[string]any{
			"v1": map[string]string{
				"version":        "1.7.0",
				"signalk-http":   "/signalk/v1/api/",
				"signalk-ws":     "/signalk/v1/stream",
				"signalk-rest":   "/signalk/v1/api/",
				"signalk-stream": "/signalk/v1/stream",
			},
		},
		"server": map[string]string{
			"id":      h.implName,
			"version": "1.7.0",
		},
	})
}

func (h *Handler) handleAPIRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(h.store.SnapshotFull())
}

// handleAPI serves GET /signalk/v1/api/<dotted.path...>, resolving against
// vessels.self. Path segments are taken verbatim from the URL (slash as the
// wire-level path separator, per §3). When a select query parameter is
// given, the rendered node is narrowed with gjson using that selector — a
// supplemental convenience the plain tree walk in store.GetPath does not
// need for exact dotted-path lookups.
func (h *Handler) handleAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/signalk/v1/api/")
	rest = strings.Trim(rest, "/")
	dotted := strings.ReplaceAll(rest, "/", ".")

	raw, ok, err := h.store.GetPath("vessels.self", dotted)
	if err != nil {
		logs.Warning.Println("rest: GetPath", dotted, err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no such path: "+dotted)
		return
	}

	if q := r.URL.Query().Get("select"); q != "" {
		result := gjson.GetBytes(raw, q)
		if !result.Exists() {
			writeError(w, http.StatusNotFound, "no such selector: "+q)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(result.Raw))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

// handleVesselContext serves GET /signalk/v1/api/vessels/<urn>[/<path...>],
// the multi-vessel read supplemented per SPEC_FULL §5 item 1.
func (h *Handler) handleVesselContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/signalk/v1/api/vessels/")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "vessel urn required")
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	urn := parts[0]
	dotted := ""
	if len(parts) == 2 {
		dotted = strings.ReplaceAll(parts[1], "/", ".")
	}

	raw, ok, err := h.store.GetPath("vessels."+urn, dotted)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no such vessel or path")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
