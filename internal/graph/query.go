package graph

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// filterDateLayout is the date format used in $filter comparisons.
const filterDateLayout = "2006-01-02"

// Param is a single query parameter. Extra params keep insertion order, which
// a map cannot guarantee.
type Param struct {
	Key   string
	Value string
}

// QueryFilter composes OData query fragments. It is a value type: builders
// return modified copies and never touch the receiver's slices.
//
// Render emits, in order: $orderby, $filter, $select, $top, startDateTime,
// endDateTime, $deltatoken, then every Extra param in insertion order.
// Values are not escaped here; the URL builder percent-encodes them.
type QueryFilter struct {
	OrderBy  []string
	FilterBy []string
	Select   []string

	Top           int
	StartDateTime string
	EndDateTime   string
	DeltaToken    string

	// Extra carries server-defined parameters with no dedicated field.
	Extra []Param
}

// EmptyFilter returns a filter that renders to the empty string.
func EmptyFilter() QueryFilter {
	return QueryFilter{}
}

// AllMessagesFilter selects non-draft messages created in [start, end],
// oldest first, with the fields a mail sync needs.
func AllMessagesFilter(start, end time.Time) QueryFilter {
	return QueryFilter{
		OrderBy: []string{"createdDateTime asc"},
		FilterBy: []string{
			"isDraft eq false",
			"createdDateTime ge " + start.Format(filterDateLayout),
			"createdDateTime le " + end.Format(filterDateLayout),
		},
		Select: []string{
			"subject", "from", "toRecipients", "ccRecipients",
			"body", "sentDateTime", "receivedDateTime", "createdDateTime",
		},
	}
}

// CalendarViewFilter bounds a calendar view to [start, end].
func CalendarViewFilter(start, end time.Time) QueryFilter {
	return QueryFilter{
		StartDateTime: start.UTC().Format(time.RFC3339),
		EndDateTime:   end.UTC().Format(time.RFC3339),
	}
}

// DeltaFilter resumes an incremental sync from a stored delta token.
func DeltaFilter(token string) QueryFilter {
	return QueryFilter{DeltaToken: token}
}

// SkipFilter resumes an interrupted delta walk from a stored skip token.
func SkipFilter(token string) QueryFilter {
	return EmptyFilter().WithParam("$skiptoken", token)
}

// WithParam returns a copy of f with an extra key=value parameter appended.
func (f QueryFilter) WithParam(key, value string) QueryFilter {
	out := f
	out.Extra = append(append(make([]Param, 0, len(f.Extra)+1), f.Extra...), Param{Key: key, Value: value})

	return out
}

// WithTop returns a copy of f with $top set.
func (f QueryFilter) WithTop(n int) QueryFilter {
	out := f
	out.Top = n

	return out
}

// WithDeltaToken returns a copy of f with $deltatoken set.
func (f QueryFilter) WithDeltaToken(token string) QueryFilter {
	out := f
	out.DeltaToken = token

	return out
}

// IsEmpty reports whether f renders to the empty string.
func (f QueryFilter) IsEmpty() bool {
	return f.Render() == ""
}

// Render produces the raw, unescaped query string. Segments that would be
// empty are omitted, so an empty filter yields "" and never a dangling "&".
// The result is for display and logging; URLs are built from params.
func (f QueryFilter) Render() string {
	params := f.params()
	segments := make([]string, len(params))

	for i, p := range params {
		segments[i] = p.Key + "=" + p.Value
	}

	return strings.Join(segments, "&")
}

// params returns the ordered key/value pairs behind Render.
func (f QueryFilter) params() []Param {
	out := make([]Param, 0, 7+len(f.Extra))

	if len(f.OrderBy) > 0 {
		out = append(out, Param{Key: "$orderby", Value: strings.Join(f.OrderBy, ",")})
	}

	if len(f.FilterBy) > 0 {
		out = append(out, Param{Key: "$filter", Value: strings.Join(f.FilterBy, " AND ")})
	}

	if len(f.Select) > 0 {
		out = append(out, Param{Key: "$select", Value: strings.Join(f.Select, ",")})
	}

	if f.Top > 0 {
		out = append(out, Param{Key: "$top", Value: strconv.Itoa(f.Top)})
	}

	if f.StartDateTime != "" {
		out = append(out, Param{Key: "startDateTime", Value: f.StartDateTime})
	}

	if f.EndDateTime != "" {
		out = append(out, Param{Key: "endDateTime", Value: f.EndDateTime})
	}

	if f.DeltaToken != "" {
		out = append(out, Param{Key: "$deltatoken", Value: f.DeltaToken})
	}

	return append(out, f.Extra...)
}

// encode percent-encodes every key and value of f separately, keeping
// parameter order and the literal "$" of OData system options.
func (f QueryFilter) encode() string {
	params := f.params()
	parts := make([]string, len(params))

	for i, p := range params {
		parts[i] = escapeQueryComponent(p.Key) + "=" + escapeQueryComponent(p.Value)
	}

	return strings.Join(parts, "&")
}

// escapeQueryComponent escapes s for a query string, encoding spaces as %20
// and leaving "$" readable.
func escapeQueryComponent(s string) string {
	escaped := strings.ReplaceAll(url.QueryEscape(s), "+", "%20")

	return strings.ReplaceAll(escaped, "%24", "$")
}
