package stream

import (
	"strings"
	"testing"
)

func TestReadRecordsHappyPath(t *testing.T) {
	input := "type, client, tx, amount\n deposit, 1, 1, 1.0\n withdrawal, 1,2,0.5\ndispute,1,1,\n"
	var recs []Record
	var errs []error
	err := ReadRecords(strings.NewReader(input), func(r Record, e error) {
		if e != nil {
			errs = append(errs, e)
			return
		}
		recs = append(recs, r)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[0].Kind != "deposit" || recs[0].Client != 1 || recs[0].Tx != 1 || recs[0].Amount.String() != "1.0000" {
		t.Errorf("unexpected first record: %+v", recs[0])
	}
	if recs[2].Kind != "dispute" || recs[2].HasAmt {
		t.Errorf("dispute record should carry no amount: %+v", recs[2])
	}
}

func TestReadRecordsMalformedRowsSkipped(t *testing.T) {
	input := "type,client,tx,amount\ndeposit,1,1,\nbogus,1,2,5\ndeposit,1,3,-5\n"
	var errs []error
	var ok int
	err := ReadRecords(strings.NewReader(input), func(r Record, e error) {
		if e != nil {
			errs = append(errs, e)
			return
		}
		ok++
	})
	if err != nil {
		t.Fatal(err)
	}
	if ok != 0 {
		t.Fatalf("expected all three rows malformed, got %d ok", ok)
	}
	if len(errs) != 3 {
		t.Fatalf("got %d errors, want 3: %v", len(errs), errs)
	}
}

func TestReadRecordsDisputeHasNoAmountRequirement(t *testing.T) {
	input := "type,client,tx,amount\ndispute,1,1,\nresolve,1,1,\nchargeback,1,1,\n"
	var ok int
	err := ReadRecords(strings.NewReader(input), func(r Record, e error) {
		if e != nil {
			t.Errorf("unexpected parse error: %v", e)
			return
		}
		ok++
	})
	if err != nil {
		t.Fatal(err)
	}
	if ok != 3 {
		t.Fatalf("got %d ok records, want 3", ok)
	}
}
