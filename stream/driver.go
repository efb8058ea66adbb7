/*
driver.go - stream processor

PURPOSE:
  Reads CSV records, dispatches each to the engine, retries a
  ConcurrentOperationDetected with bounded backoff, logs and skips
  every other error or malformed row, and finally writes the settled
  account snapshot. This is the only piece of the system that decides
  what to do about a storage.ErrConflict surfacing as
  engineerr.ErrConcurrentOperationDetected -- the engine itself never
  retries.

CONCURRENCY:
  Records are sharded by client id across a small, fixed pool of
  worker goroutines (client_id % workers), so records for the same
  account always land on the same worker and are processed in the
  order they were read -- the only ordering guarantee the engine's
  per-account serializability actually requires. Different accounts on
  different workers run concurrently; two different accounts that
  happen to land on the same worker are simply serialized together,
  which costs parallelism but never correctness.

SEE ALSO:
  - engine/engine.go: the dispatch target.
  - bartolomej-concurrent-transaction-executor/executor/parallel/worker.go:
    the bounded-worker-pool shape this generalizes.
*/
package stream

import (
	"context"
	"io"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/warp/ledger-engine/engineerr"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/money"
)

// EngineOps is the subset of *engine.Engine the driver dispatches to.
type EngineOps interface {
	Deposit(ctx context.Context, client ledger.ClientID, tx ledger.TxID, amount money.Money) error
	Withdraw(ctx context.Context, client ledger.ClientID, tx ledger.TxID, amount money.Money) error
	Dispute(ctx context.Context, client ledger.ClientID, tx ledger.TxID) error
	Resolve(ctx context.Context, client ledger.ClientID, tx ledger.TxID) error
	Chargeback(ctx context.Context, client ledger.ClientID, tx ledger.TxID) error
	Accounts(ctx context.Context) (<-chan ledger.Account, <-chan error)
}

const (
	defaultWorkers    = 8
	defaultMaxRetries = 5
	backoffBase       = 2 * time.Millisecond
)

// Driver is the CSV-in, CSV-out stream processor.
type Driver struct {
	eng        EngineOps
	logger     *log.Logger
	workers    int
	maxRetries int
}

// New returns a Driver. A nil logger defaults to log.Default().
func New(eng EngineOps, logger *log.Logger) *Driver {
	if logger == nil {
		logger = log.Default()
	}
	return &Driver{eng: eng, logger: logger, workers: defaultWorkers, maxRetries: defaultMaxRetries}
}

// WithWorkers overrides the worker pool size (default 8).
func (d *Driver) WithWorkers(n int) *Driver {
	if n > 0 {
		d.workers = n
	}
	return d
}

type dispatch struct {
	rec  Record
	line int
}

// Run parses r as the input CSV, dispatches every record to the
// engine, and writes the final account snapshot to w.
func (d *Driver) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	g, gctx := errgroup.WithContext(ctx)
	channels := make([]chan dispatch, d.workers)
	for i := range channels {
		ch := make(chan dispatch, 256)
		channels[i] = ch
		g.Go(func() error {
			d.worker(gctx, ch)
			return nil
		})
	}

	line := 0
	readErr := ReadRecords(r, func(rec Record, perr error) {
		line++
		if perr != nil {
			d.logger.Printf("skipping malformed row: %v", perr)
			return
		}
		shard := int(rec.Client) % d.workers
		channels[shard] <- dispatch{rec: rec, line: line}
	})

	for _, ch := range channels {
		close(ch)
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if readErr != nil {
		return readErr
	}

	accounts, errc := d.eng.Accounts(ctx)
	if err := WriteAccounts(w, accounts); err != nil {
		return err
	}
	return <-errc
}

func (d *Driver) worker(ctx context.Context, ch <-chan dispatch) {
	for item := range ch {
		d.dispatchWithRetry(ctx, item)
	}
}

func (d *Driver) dispatchWithRetry(ctx context.Context, item dispatch) {
	var err error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		err = d.dispatch(ctx, item.rec)
		if err == nil {
			return
		}
		if !engineerr.IsRetryable(err) {
			break
		}
		if attempt < d.maxRetries {
			time.Sleep(backoffBase * time.Duration(1<<uint(attempt)))
		}
	}
	if err != nil {
		d.logger.Printf("line %d: %s %d/%d failed: %v", item.line, item.rec.Kind, item.rec.Client, item.rec.Tx, err)
	}
}

func (d *Driver) dispatch(ctx context.Context, rec Record) error {
	switch rec.Kind {
	case "deposit":
		return d.eng.Deposit(ctx, rec.Client, rec.Tx, rec.Amount)
	case "withdrawal":
		return d.eng.Withdraw(ctx, rec.Client, rec.Tx, rec.Amount)
	case "dispute":
		return d.eng.Dispute(ctx, rec.Client, rec.Tx)
	case "resolve":
		return d.eng.Resolve(ctx, rec.Client, rec.Tx)
	case "chargeback":
		return d.eng.Chargeback(ctx, rec.Client, rec.Tx)
	default:
		return nil
	}
}
