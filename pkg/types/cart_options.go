package types

import (
	"net/url"
	"sort"
	"strings"
)

// CartOptions holds the variant selection of a cart line (size, colour, ...).
type CartOptions map[string]string

// Key returns a canonical encoding so equal option sets compare equal
// regardless of map order. Names are trimmed and lower-cased before sorting
// and both sides are query-escaped, so separators inside a value cannot
// collide with another option set. Empty options encode to "".
func (o CartOptions) Key() string {
	if len(o) == 0 {
		return ""
	}
	pairs := make([][2]string, 0, len(o))
	for k, v := range o {
		pairs = append(pairs, [2]string{strings.ToLower(strings.TrimSpace(k)), strings.TrimSpace(v)})
	}
	// names differing only in case normalise to the same name; order by value too
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(url.QueryEscape(p[0]))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p[1]))
	}
	return b.String()
}

// Clone returns an independent copy.
func (o CartOptions) Clone() CartOptions {
	if o == nil {
		return nil
	}
	out := make(CartOptions, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}
