package query

import (
	"errors"
)

var ErrInvalidFilter = errors.New("invalid event filter")
