package client

import (
	"fmt"
	"strconv"
	"strings"
)

// UnknownTotal is reported when the response carries no usable total.
const UnknownTotal = -1

// ContentRange is the parsed Content-Range response header, e.g.
// "offres 0-149/320".
type ContentRange struct {
	Unit  string
	First int
	Last  int
	Total int
}

// ParseContentRange parses "<unit> <first>-<last>/<total>". The unit is
// optional and the total may be "*" (UnknownTotal).
func ParseContentRange(h string) (ContentRange, error) {
	cr := ContentRange{Total: UnknownTotal}
	h = strings.TrimSpace(h)
	if h == "" {
		return cr, fmt.Errorf("empty content-range")
	}

	if unit, rest, ok := strings.Cut(h, " "); ok {
		cr.Unit = unit
		h = strings.TrimSpace(rest)
	}

	span, total, ok := strings.Cut(h, "/")
	if !ok {
		return cr, fmt.Errorf("content-range %q: missing total", h)
	}

	if total != "*" {
		n, err := strconv.Atoi(total)
		if err != nil || n < 0 {
			return cr, fmt.Errorf("content-range %q: invalid total", h)
		}
		cr.Total = n
	}

	first, last, ok := strings.Cut(span, "-")
	if !ok {
		return cr, fmt.Errorf("content-range %q: invalid span", h)
	}
	var err error
	if cr.First, err = strconv.Atoi(first); err != nil {
		return cr, fmt.Errorf("content-range %q: invalid first: %w", h, err)
	}
	if cr.Last, err = strconv.Atoi(last); err != nil {
		return cr, fmt.Errorf("content-range %q: invalid last: %w", h, err)
	}
	if cr.Last < cr.First {
		return cr, fmt.Errorf("content-range %q: last before first", h)
	}

	return cr, nil
}

// FormatRange renders the request range parameter for a window.
func FormatRange(w Window) string {
	return fmt.Sprintf("%d-%d", w.Offset, w.Offset+w.Limit-1)
}
