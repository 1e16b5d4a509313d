package store

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

// ErrNotFound is returned when a single-row lookup matches nothing.
var ErrNotFound = errors.New("not found")

// ErrUnknownMetric is returned when a caller asks for a metric column that is
// not part of the faction snapshot layout.
var ErrUnknownMetric = errors.New("unknown metric")

// QueryError reports a failed read or write statement together with the
// number of bound parameters, which is usually what is wrong.
type QueryError struct {
	Query  string
	Params int
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed with %d params: %v [%s]", e.Params, e.Err, strings.Join(strings.Fields(e.Query), " "))
}

func (e *QueryError) Unwrap() error { return e.Err }

// EmptyOnError logs a failed paginated query and returns an empty page in
// its place so dashboard consumers keep rendering.
func EmptyOnError[T any](logger *slog.Logger, page types.Page[T], err error) types.Page[T] {
	if err == nil {
		return page
	}
	var qe *QueryError
	if errors.As(err, &qe) {
		logger.Error("query failed", "params", qe.Params, "query", qe.Query, "error", qe.Err)
	} else {
		logger.Error("query failed", "error", err)
	}
	return types.Page[T]{Data: []T{}, Page: 1, PageSize: types.DefaultPageSize}
}
