package odata

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// QueryOptions are the OData system query options supported by the builders.
type QueryOptions struct {
	Filter  string
	Select  []string
	Expand  []string
	OrderBy string
	Search  string
	Top     int
	Skip    int

	// Count requests the inline count ($inlinecount for v2 services).
	Count bool

	// Format overrides the default $format=json. Use "-" to omit $format.
	Format string
}

// Values returns the options as query parameters.
func (o QueryOptions) Values() url.Values {
	v := url.Values{}
	if o.Filter != "" {
		v.Set("$filter", o.Filter)
	}
	if len(o.Select) > 0 {
		v.Set("$select", strings.Join(o.Select, ","))
	}
	if len(o.Expand) > 0 {
		v.Set("$expand", strings.Join(o.Expand, ","))
	}
	if o.OrderBy != "" {
		v.Set("$orderby", o.OrderBy)
	}
	if o.Search != "" {
		v.Set("search", o.Search)
	}
	if o.Top > 0 {
		v.Set("$top", strconv.Itoa(o.Top))
	}
	if o.Skip > 0 {
		v.Set("$skip", strconv.Itoa(o.Skip))
	}
	if o.Count {
		v.Set("$inlinecount", "allpages")
	}
	switch o.Format {
	case "":
		v.Set("$format", "json")
	case "-":
	default:
		v.Set("$format", o.Format)
	}
	return v
}

// encodeQuery encodes v in key order. Keys are left as is so "$filter" stays
// readable; values use %20 for spaces, which every OData server accepts.
func encodeQuery(v url.Values) string {
	if len(v) == 0 {
		return ""
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, value := range v[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(strings.ReplaceAll(url.QueryEscape(value), "+", "%20"))
		}
	}
	return b.String()
}

// keyEscaper percent-encodes the characters that would end the path segment
// of a key literal.
var keyEscaper = strings.NewReplacer(
	"%", "%25",
	"/", "%2F",
	"?", "%3F",
	"#", "%23",
	" ", "%20",
)

// entityPath addresses one entity. key is either a bare literal such as
// '1000' or a full predicate such as (SalesOrder='1',Item='10').
func entityPath(entitySet, key string) string {
	key = keyEscaper.Replace(strings.TrimSpace(key))
	if strings.HasPrefix(key, "(") {
		return entitySet + key
	}
	return entitySet + "(" + key + ")"
}

// joinPath joins URL path segments with exactly one slash between them.
func joinPath(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(p)
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}
