package types

import (
	"math"
	"strings"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// Order is the sort direction of a listing.
type Order string

const (
	OrderAsc  Order = "ASC"
	OrderDesc Order = "DESC"
)

// ParseOrder accepts "asc"/"desc" in any case. Empty input yields ascending.
func ParseOrder(raw string) (Order, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", string(OrderAsc):
		return OrderAsc, true
	case string(OrderDesc):
		return OrderDesc, true
	default:
		return "", false
	}
}

// PageOptions slices a listing query. It carries no persisted state.
type PageOptions struct {
	Skip  int
	Limit int
	Order Order
	Page  int
}

// Normalize applies defaults: limit 10 capped at 100, ascending order,
// page 1, and a skip derived from the page when none was given. A page too
// large to express as a skip saturates at math.MaxInt, which lies past the
// end of any listing.
func (o PageOptions) Normalize() PageOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultPageLimit
	}
	if o.Limit > MaxPageLimit {
		o.Limit = MaxPageLimit
	}
	if o.Order != OrderDesc {
		o.Order = OrderAsc
	}
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Skip < 0 {
		o.Skip = 0
	}
	if o.Skip == 0 && o.Page > 1 {
		if o.Page-1 > math.MaxInt/o.Limit {
			o.Skip = math.MaxInt
		} else {
			o.Skip = (o.Page - 1) * o.Limit
		}
	}
	return o
}
