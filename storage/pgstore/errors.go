package pgstore

import "errors"

var (
	errReadOnly      = errors.New("pgstore: write attempted on a read-only transaction")
	errAlreadyClosed = errors.New("pgstore: transaction already committed or rolled back")
)
