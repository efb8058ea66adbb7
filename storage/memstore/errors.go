package memstore

import "errors"

var (
	errReadOnly       = errors.New("memstore: write attempted on a read-only transaction")
	errAlreadyClosed  = errors.New("memstore: transaction already committed or rolled back")
)
