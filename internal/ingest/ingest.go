// Package ingest implements the ingest-and-query HTTP surface (spec
// §6): office registration, state-change and tick ingestion, and the
// SLA query endpoint. Handlers are plain net/http.HandlerFunc in the
// teacher's style (cmd/plex-tuner/main.go builds its mux the same way);
// request counts are exported through prometheus/client_golang, a
// teacher dependency that its own handlers never actually exercised.
package ingest

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snapetech/siteslam/internal/domain"
	"github.com/snapetech/siteslam/internal/health"
	"github.com/snapetech/siteslam/internal/slaquery"
	"github.com/snapetech/siteslam/internal/store"
)

// DefaultWindow is the SLA query's default lookback (spec §4.7).
const DefaultWindow = 86400 * time.Second

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "siteslam_ingest_requests_total",
	Help: "Ingest-and-query HTTP requests by route and outcome.",
}, []string{"route", "outcome"})

// Server wires the durable store into the HTTP surface.
type Server struct {
	Store *store.Store
}

// NewMux builds the full route table, including /healthz and /metrics.
func NewMux(s *store.Store) *http.ServeMux {
	srv := &Server{Store: s}
	mux := http.NewServeMux()
	mux.HandleFunc("/offices", srv.handleOffices)
	mux.HandleFunc("/ingest/state_change", srv.handleIngestStateChange)
	mux.HandleFunc("/ingest/tick", srv.handleIngestTick)
	mux.HandleFunc("/sla", srv.handleSLA)
	mux.Handle("/healthz", health.Handler(s))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

type okResponse struct {
	OK       bool  `json:"ok"`
	OfficeID int64 `json:"office_id,omitempty"`
	Inserted int   `json:"inserted,omitempty"`
	Count    int   `json:"count,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ingest: encode response: %v", err)
	}
}

func badRequest(w http.ResponseWriter, route, msg string) {
	requestsTotal.WithLabelValues(route, "bad_request").Inc()
	http.Error(w, msg, http.StatusBadRequest)
}

// officeUpsertBody mirrors POST /offices (spec §6).
type officeUpsertBody struct {
	Name          string `json:"name"`
	GatewayIP     string `json:"gateway_ip"`
	MXIP          string `json:"mx_ip"`
	TunnelProbeIP string `json:"tunnel_probe_ip"`
	RetriesDown   int    `json:"retries_down"`
	RetriesUp     int    `json:"retries_up"`
}

func (s *Server) handleOffices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body officeUpsertBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "offices", "malformed body: "+err.Error())
		return
	}
	if body.Name == "" {
		badRequest(w, "offices", "name is required")
		return
	}

	id, err := s.Store.UpsertOffice(r.Context(), domain.Office{
		Name:          body.Name,
		GatewayIP:     body.GatewayIP,
		MXIP:          body.MXIP,
		TunnelProbeIP: body.TunnelProbeIP,
		RetriesDown:   body.RetriesDown,
		RetriesUp:     body.RetriesUp,
	})
	if err != nil {
		requestsTotal.WithLabelValues("offices", "error").Inc()
		http.Error(w, "upsert failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	requestsTotal.WithLabelValues("offices", "ok").Inc()
	writeJSON(w, http.StatusOK, okResponse{OK: true, OfficeID: id})
}

// stateChangeBody mirrors POST /ingest/state_change (spec §6). State is
// accepted as raw text here and validated through domain.ParseState
// before it is persisted as the new state.
type stateChangeBody struct {
	Office string `json:"office"`
	State  string `json:"state"`
	Sample struct {
		Gateway bool `json:"gateway"`
		MX      bool `json:"mx"`
		IPsec   bool `json:"ipsec"`
	} `json:"sample"`
	At int64 `json:"at"`
}

func (s *Server) handleIngestStateChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body stateChangeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "ingest_state_change", "malformed body: "+err.Error())
		return
	}
	newState, err := domain.ParseState(body.State)
	if err != nil {
		badRequest(w, "ingest_state_change", err.Error())
		return
	}

	sample := domain.Sample{Gateway: body.Sample.Gateway, MX: body.Sample.MX, IPsec: body.Sample.IPsec}
	inserted, err := s.Store.IngestStateChange(r.Context(), body.Office, newState, sample, body.At)
	if errors.Is(err, store.ErrUnknownOffice) {
		badRequest(w, "ingest_state_change", "Unknown office: "+body.Office)
		return
	}
	if err != nil {
		requestsTotal.WithLabelValues("ingest_state_change", "error").Inc()
		http.Error(w, "ingest failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	requestsTotal.WithLabelValues("ingest_state_change", "ok").Inc()
	insertedInt := 0
	if inserted {
		insertedInt = 1
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true, Inserted: insertedInt})
}

// tickEntryBody mirrors one element of the POST /ingest/tick array body
// (spec §6). The state field is accepted but not retained by the
// schema (spec §9 open question); it is decoded into State and never
// used.
type tickEntryBody struct {
	Office  string `json:"office"`
	State   string `json:"state,omitempty"`
	Gateway bool   `json:"gateway"`
	MX      bool   `json:"mx"`
	IPsec   bool   `json:"ipsec"`
	TS      int64  `json:"ts"`
}

func (s *Server) handleIngestTick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body []tickEntryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "ingest_tick", "malformed body: "+err.Error())
		return
	}

	entries := make([]store.TickInput, len(body))
	for i, e := range body {
		entries[i] = store.TickInput{
			OfficeName: e.Office,
			Sample:     domain.Sample{Gateway: e.Gateway, MX: e.MX, IPsec: e.IPsec},
			TS:         e.TS,
		}
	}

	count, err := s.Store.IngestTickBatch(r.Context(), entries)
	if errors.Is(err, store.ErrUnknownOffice) {
		badRequest(w, "ingest_tick", "Unknown office: "+err.Error())
		return
	}
	if err != nil {
		requestsTotal.WithLabelValues("ingest_tick", "error").Inc()
		http.Error(w, "ingest failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	requestsTotal.WithLabelValues("ingest_tick", "ok").Inc()
	writeJSON(w, http.StatusOK, okResponse{OK: true, Count: count})
}

type slaResponse struct {
	Window struct {
		TStart int64 `json:"t_start"`
		TEnd   int64 `json:"t_end"`
	} `json:"window"`
	SLA []slaquery.Result `json:"sla"`
}

func (s *Server) handleSLA(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()

	tEnd := time.Now().Unix()
	if v := q.Get("t_end"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			badRequest(w, "sla", "invalid t_end")
			return
		}
		tEnd = n
	}
	tStart := tEnd - int64(DefaultWindow.Seconds())
	if v := q.Get("t_start"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			badRequest(w, "sla", "invalid t_start")
			return
		}
		tStart = n
	}

	results, err := slaquery.Query(r.Context(), s.Store, q.Get("office"), tStart, tEnd)
	if err != nil {
		requestsTotal.WithLabelValues("sla", "error").Inc()
		http.Error(w, "query failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []slaquery.Result{}
	}

	requestsTotal.WithLabelValues("sla", "ok").Inc()
	resp := slaResponse{SLA: results}
	resp.Window.TStart = tStart
	resp.Window.TEnd = tEnd
	writeJSON(w, http.StatusOK, resp)
}
