package core

// status.go – read-only HTTP inspection endpoint.

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type statusInfo struct {
	Self        Peer  `json:"self"`
	Predecessor *Peer `json:"predecessor,omitempty"`
	Successor   Peer  `json:"successor"`
	Records     int   `json:"records"`
	Fingers     int   `json:"fingers"`
}

// statusRouter builds the routes served on the status address.
func (n *Node) statusRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		snap := n.rt.Snapshot()
		writeJSON(w, statusInfo{
			Self:        snap.Self,
			Predecessor: snap.Predecessor,
			Successor:   snap.Successor,
			Records:     n.store.Len(),
			Fingers:     len(snap.Fingers),
		})
	})
	r.Get("/fingers", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, n.rt.Snapshot())
	})
	return r
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
