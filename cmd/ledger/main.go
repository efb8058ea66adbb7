/*
main.go - ledger batch CLI

PURPOSE:
  Reads a CSV transaction stream from a single positional filepath
  argument and writes the settled account snapshot to stdout.

STARTUP SEQUENCE:
  1. Parse command-line flags and the positional input path.
  2. Open the selected storage backend.
  3. Optionally start the Prometheus /metrics listener.
  4. Run the stream driver to completion.

COMMAND-LINE FLAGS:
  -backend       "memory" (default), "sqlite", or "postgres"
  -db            SQLite database path (only used with -backend=sqlite)
  -dsn           Postgres DSN (only used with -backend=postgres; falls
                 back to the DATABASE_URL environment variable)
  -metrics-addr  if set, serve Prometheus metrics on this address for
                 the duration of the run (e.g. "127.0.0.1:9090")

EXAMPLES:
  ./ledger transactions.csv
  ./ledger -backend=sqlite -db=./ledger.db transactions.csv
  ./ledger -backend=postgres -dsn=postgres://... transactions.csv

SEE ALSO:
  - stream/driver.go: the stream processor this wires up.
  - storage/{memstore,sqlstore,pgstore}: the backends this selects.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/ledger-engine/engine"
	"github.com/warp/ledger-engine/metrics"
	"github.com/warp/ledger-engine/storage"
	"github.com/warp/ledger-engine/storage/memstore"
	"github.com/warp/ledger-engine/storage/pgstore"
	"github.com/warp/ledger-engine/storage/sqlstore"
	"github.com/warp/ledger-engine/stream"
)

func main() {
	backend := flag.String("backend", "memory", `storage backend: "memory", "sqlite", or "postgres"`)
	dbPath := flag.String("db", "ledger.db", "SQLite database path (only used with -backend=sqlite)")
	dsn := flag.String("dsn", os.Getenv("DATABASE_URL"), "Postgres DSN (only used with -backend=postgres)")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address for the run")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatalf("usage: ledger [flags] <input.csv>")
	}
	inputPath := flag.Arg(0)

	store, err := openStore(*backend, *dbPath, *dsn)
	if err != nil {
		log.Fatalf("failed to open storage backend %q: %v", *backend, err)
	}
	defer store.Close()

	var eng *engine.Engine
	if *metricsAddr != "" {
		registry := prometheus.NewRegistry()
		recorder := metrics.NewRecorder(registry)
		eng = engine.New(store, recorder)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
		defer srv.Close()
	} else {
		eng = engine.New(store, nil)
	}

	f, err := os.Open(inputPath)
	if err != nil {
		log.Fatalf("failed to open input file %q: %v", inputPath, err)
	}
	defer f.Close()

	driver := stream.New(eng, log.New(os.Stderr, "", log.LstdFlags))
	if err := driver.Run(context.Background(), f, os.Stdout); err != nil {
		log.Fatalf("stream processing failed: %v", err)
	}
}

func openStore(backend, dbPath, dsn string) (storage.Store, error) {
	switch backend {
	case "memory", "":
		return memstore.New(), nil
	case "sqlite":
		return sqlstore.New(dbPath)
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("postgres backend requires -dsn or DATABASE_URL")
		}
		return pgstore.New(context.Background(), dsn)
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}
