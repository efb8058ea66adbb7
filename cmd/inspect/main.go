/*
main.go - read-only inspection server CLI

PURPOSE:
  Starts the HTTP inspection server (api.NewRouter) against a storage
  backend, for poking at account state outside of the batch CSV path.

STARTUP SEQUENCE:
  1. Parse command-line flags.
  2. Open the selected storage backend.
  3. Wire engine.Engine -> api.Handler -> api.NewRouter.
  4. Listen until interrupted.

COMMAND-LINE FLAGS:
  -backend  "memory" (default), "sqlite", or "postgres"
  -db       SQLite database path (only used with -backend=sqlite)
  -dsn      Postgres DSN (only used with -backend=postgres; falls back
            to the DATABASE_URL environment variable)
  -addr     address to listen on (default "127.0.0.1:8081")

EXAMPLES:
  ./inspect -backend=sqlite -db=./ledger.db
  ./inspect -backend=postgres -dsn=postgres://...

SEE ALSO:
  - api/server.go, api/handlers.go: the router and handlers this starts.
  - cmd/ledger/main.go: the batch CLI this complements.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/warp/ledger-engine/api"
	"github.com/warp/ledger-engine/engine"
	"github.com/warp/ledger-engine/storage"
	"github.com/warp/ledger-engine/storage/memstore"
	"github.com/warp/ledger-engine/storage/pgstore"
	"github.com/warp/ledger-engine/storage/sqlstore"
)

func main() {
	backend := flag.String("backend", "memory", `storage backend: "memory", "sqlite", or "postgres"`)
	dbPath := flag.String("db", "ledger.db", "SQLite database path (only used with -backend=sqlite)")
	dsn := flag.String("dsn", os.Getenv("DATABASE_URL"), "Postgres DSN (only used with -backend=postgres)")
	addr := flag.String("addr", "127.0.0.1:8081", "address to listen on")
	flag.Parse()

	store, err := openStore(*backend, *dbPath, *dsn)
	if err != nil {
		log.Fatalf("failed to open storage backend %q: %v", *backend, err)
	}
	defer store.Close()

	eng := engine.New(store, nil)
	router := api.NewRouter(api.NewHandler(eng))

	log.Printf("inspection server listening on %s", *addr)
	if err := http.ListenAndServe(*addr, router); err != nil {
		log.Fatalf("inspection server stopped: %v", err)
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
