package documents

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const maxListLimit = 500

// ParseQuery turns URL query parameters into a Query. Reserved keys are orderBy,
// direction (asc|desc) and limit; every other key becomes an equality filter.
// "true"/"false" filter values are matched as booleans, everything else as strings.
func ParseQuery(values url.Values) (Query, error) {
	var q Query
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		raw := strings.TrimSpace(values.Get(key))
		switch key {
		case "orderBy":
			q.OrderBy = raw
		case "direction":
			switch strings.ToLower(raw) {
			case "", "asc":
			case "desc":
				q.Descending = true
			default:
				return Query{}, fmt.Errorf("%w: direction must be asc or desc", ErrInvalidQuery)
			}
		case "limit":
			if raw == "" {
				continue
			}
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return Query{}, fmt.Errorf("%w: limit must be a non-negative integer", ErrInvalidQuery)
			}
			if n > maxListLimit {
				n = maxListLimit
			}
			q.Limit = n
		default:
			field := strings.TrimSpace(key)
			if field == "" {
				continue
			}
			q.Filters = append(q.Filters, Filter{Field: field, Value: coerce(raw)})
		}
	}
	return q, nil
}

func coerce(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	return raw
}
