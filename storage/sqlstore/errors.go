package sqlstore

import "errors"

var (
	errReadOnly      = errors.New("sqlstore: write attempted on a read-only transaction")
	errAlreadyClosed = errors.New("sqlstore: transaction already committed or rolled back")
)
