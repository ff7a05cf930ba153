// Command sla-server runs the ingest-and-query service: it accepts
// office registration, state-change and tick submissions from one or
// more sla-monitor processes, persists them to a durable SQLite store,
// and answers SLA queries (spec §2, §6).
package main

import (
	"log"
	"net/http"

	"github.com/snapetech/siteslam/internal/config"
	"github.com/snapetech/siteslam/internal/ingest"
	"github.com/snapetech/siteslam/internal/store"
)

func main() {
	cfg := config.LoadServer()

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("sla-server: %v", err)
	}
	defer s.Close()

	mux := ingest.NewMux(s)
	log.Printf("sla-server: listening on %s (db %s)", cfg.ListenAddr, cfg.DBPath)
	if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
		log.Fatalf("sla-server: %v", err)
	}
}
