// Package pagination computes offset/limit windows and the navigation
// links attached to every paginated collection.
package pagination

import (
	"net/url"
	"strconv"
)

// Link points at one page of a collection
type Link struct {
	Href   string `json:"@href"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

// Info is the "@pagination" block of a collection envelope
type Info struct {
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	Count   int   `json:"count"`
	IsFirst bool  `json:"is_first"`
	IsLast  bool  `json:"is_last"`
	Next    *Link `json:"next"`
	Prev    *Link `json:"prev"`
	First   *Link `json:"first"`
	Last    *Link `json:"last"`
}

// Compute returns the pagination block for the page [offset, offset+limit)
// of a collection holding count items. base is the request URI; its query
// parameters other than offset and limit are carried into every link.
//
// offset must be >= 0 and limit > 0; Policy.Window produces values that
// satisfy both. An offset past the end yields a last page with no next link.
// offset+limit is never computed unless it is known to be below count, so
// offsets near math.MaxInt cannot wrap.
func Compute(base *url.URL, offset, limit, count int) Info {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 1
	}
	if count < 0 {
		count = 0
	}

	info := Info{
		Limit:   limit,
		Offset:  offset,
		Count:   count,
		IsFirst: offset == 0,
		IsLast:  offset >= count || limit >= count-offset,
		First:   link(base, 0, limit),
		Last:    link(base, lastOffset(limit, count), limit),
	}
	if !info.IsLast {
		info.Next = link(base, offset+limit, limit)
	}
	if offset > 0 {
		prev := offset - limit
		if prev < 0 {
			prev = 0
		}
		info.Prev = link(base, prev, limit)
	}
	return info
}

// lastOffset is the largest multiple of limit strictly below count, or 0
// for an empty collection.
func lastOffset(limit, count int) int {
	if count <= 0 {
		return 0
	}
	return ((count - 1) / limit) * limit
}

func link(base *url.URL, offset, limit int) *Link {
	return &Link{
		Href:   Href(base, offset, limit),
		Offset: offset,
		Limit:  limit,
	}
}

// Href renders base with the given window. Query keys are sorted and a zero
// offset is omitted.
func Href(base *url.URL, offset, limit int) string {
	query := url.Values{}
	for key, values := range base.Query() {
		query[key] = append([]string(nil), values...)
	}
	query.Set("limit", strconv.Itoa(limit))
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	} else {
		query.Del("offset")
	}
	return base.EscapedPath() + "?" + query.Encode()
}

// Policy clamps caller-supplied window parameters
type Policy struct {
	DefaultLimit int
	MaxLimit     int
}

// DefaultPolicy returns the policy used when none is configured
func DefaultPolicy() Policy {
	return Policy{DefaultLimit: 25, MaxLimit: 100}
}

// Window reads offset and limit from query. A missing, malformed or
// non-positive limit becomes DefaultLimit, a limit above MaxLimit becomes
// MaxLimit, and a missing, malformed or negative offset becomes 0.
func (p Policy) Window(query url.Values) (offset, limit int) {
	limit = p.DefaultLimit
	if limit < 1 {
		limit = DefaultPolicy().DefaultLimit
	}
	if raw := query.Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if p.MaxLimit > 0 && limit > p.MaxLimit {
		limit = p.MaxLimit
	}

	if raw := query.Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			offset = v
		}
	}
	return offset, limit
}
