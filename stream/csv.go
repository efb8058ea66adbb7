/*
csv.go - CSV boundary adapter

PURPOSE:
  Translates the external CSV schema (type,client,tx,amount in,
  client,available,held,total,locked out) to and from the ledger's
  domain types. Kept deliberately thin: validation of individual field
  shapes happens here (a record that cannot be parsed at all is
  malformed and skipped by the driver); validation of what the record
  MEANS to the ledger (insufficient funds, locked account, ...) happens
  in the engine.

SEE ALSO:
  - original_source/src/csv_parser.rs: the field-presence/shape checks
    this mirrors (missing type/client/tx is malformed; missing amount
    on a deposit/withdrawal is malformed; a negative amount is
    malformed -- zero is not, since that's the engine's InvalidAmount
    to report, not a parse-layer rejection).
*/
package stream

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/money"
)

// Record is one parsed input row, ready to dispatch to the engine.
type Record struct {
	Kind   string // "deposit", "withdrawal", "dispute", "resolve", "chargeback"
	Client ledger.ClientID
	Tx     ledger.TxID
	Amount money.Money
	HasAmt bool
}

// ParseError marks a malformed row the driver should log and skip
// rather than dispatch.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

var knownKinds = map[string]bool{
	"deposit": true, "withdrawal": true, "dispute": true, "resolve": true, "chargeback": true,
}

// ReadRecords parses r as the input CSV schema, calling fn for each
// successfully parsed row in order. A malformed row or an unknown type
// is reported to fn as an error instead of halting the whole stream.
func ReadRecords(r io.Reader, fn func(Record, error)) error {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("stream: read header: %w", err)
	}
	cols := indexColumns(header)

	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream: read row: %w", err)
		}
		line++
		rec, perr := parseRow(row, cols, line)
		fn(rec, perr)
	}
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.ToLower(h))] = i
	}
	return cols
}

func field(row []string, cols map[string]int, name string) (string, bool) {
	idx, ok := cols[name]
	if !ok || idx >= len(row) {
		return "", false
	}
	return strings.TrimSpace(row[idx]), true
}

func parseRow(row []string, cols map[string]int, line int) (Record, error) {
	typ, ok := field(row, cols, "type")
	if !ok || typ == "" {
		return Record{}, &ParseError{Line: line, Msg: "missing field: type"}
	}
	typ = strings.ToLower(typ)
	if !knownKinds[typ] {
		return Record{}, &ParseError{Line: line, Msg: fmt.Sprintf("unknown transaction type %q", typ)}
	}

	clientStr, ok := field(row, cols, "client")
	if !ok || clientStr == "" {
		return Record{}, &ParseError{Line: line, Msg: "missing field: client"}
	}
	clientVal, err := strconv.ParseUint(clientStr, 10, 16)
	if err != nil {
		return Record{}, &ParseError{Line: line, Msg: fmt.Sprintf("invalid client id %q", clientStr)}
	}

	txStr, ok := field(row, cols, "tx")
	if !ok || txStr == "" {
		return Record{}, &ParseError{Line: line, Msg: "missing field: tx"}
	}
	txVal, err := strconv.ParseUint(txStr, 10, 32)
	if err != nil {
		return Record{}, &ParseError{Line: line, Msg: fmt.Sprintf("invalid tx id %q", txStr)}
	}

	rec := Record{Kind: typ, Client: ledger.ClientID(clientVal), Tx: ledger.TxID(txVal)}

	amountStr, hasAmountField := field(row, cols, "amount")
	needsAmount := typ == "deposit" || typ == "withdrawal"
	if needsAmount {
		if !hasAmountField || amountStr == "" {
			return Record{}, &ParseError{Line: line, Msg: "missing field: amount"}
		}
		amount, err := money.Parse(amountStr)
		if err != nil {
			return Record{}, &ParseError{Line: line, Msg: fmt.Sprintf("invalid amount %q", amountStr)}
		}
		if amount.IsNegative() {
			return Record{}, &ParseError{Line: line, Msg: fmt.Sprintf("negative amount %q", amountStr)}
		}
		rec.Amount = amount
		rec.HasAmt = true
	}

	return rec, nil
}

// WriteAccounts writes the output CSV schema for each account received
// from accounts, in the order received.
func WriteAccounts(w io.Writer, accounts <-chan ledger.Account) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write([]string{"client", "available", "held", "total", "locked"}); err != nil {
		return fmt.Errorf("stream: write header: %w", err)
	}
	for acc := range accounts {
		row := []string{
			strconv.FormatUint(uint64(acc.Client), 10),
			acc.Available.String(),
			acc.Held.String(),
			acc.Total().String(),
			strconv.FormatBool(acc.Locked),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("stream: write row: %w", err)
		}
	}
	return cw.Error()
}
