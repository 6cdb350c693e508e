package sqlite

import "errors"

var ErrConflict = errors.New("conflict")
