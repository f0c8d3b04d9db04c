package graph

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryFilter_Render(t *testing.T) {
	tests := []struct {
		name   string
		filter QueryFilter
		want   string
	}{
		{"empty", EmptyFilter(), ""},
		{"top only", EmptyFilter().WithTop(10), "$top=10"},
		{"delta only", DeltaFilter("abc"), "$deltatoken=abc"},
		{
			"filter joined with AND",
			QueryFilter{FilterBy: []string{"isDraft eq false", "importance eq 'high'"}},
			"$filter=isDraft eq false AND importance eq 'high'",
		},
		{
			"canonical order",
			QueryFilter{
				Extra:         []Param{{Key: "x", Value: "1"}},
				DeltaToken:    "tok",
				EndDateTime:   "E",
				StartDateTime: "S",
				Top:           3,
				Select:        []string{"id", "subject"},
				FilterBy:      []string{"a eq 1"},
				OrderBy:       []string{"createdDateTime asc", "subject"},
			},
			"$orderby=createdDateTime asc,subject&$filter=a eq 1&$select=id,subject&$top=3" +
				"&startDateTime=S&endDateTime=E&$deltatoken=tok&x=1",
		},
		{
			"extras keep insertion order",
			EmptyFilter().WithParam("b", "2").WithParam("a", "1"),
			"b=2&a=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Render())
		})
	}
}

func TestQueryFilter_IsEmpty(t *testing.T) {
	assert.True(t, EmptyFilter().IsEmpty())
	assert.True(t, QueryFilter{Select: []string{}}.IsEmpty())
	assert.False(t, EmptyFilter().WithTop(1).IsEmpty())
}

func TestQueryFilter_WithParamDoesNotAlias(t *testing.T) {
	base := EmptyFilter().WithParam("a", "1")
	left := base.WithParam("b", "2")
	right := base.WithParam("c", "3")

	assert.Equal(t, "a=1", base.Render())
	assert.Equal(t, "a=1&b=2", left.Render())
	assert.Equal(t, "a=1&c=3", right.Render())
}

func TestAllMessagesFilter(t *testing.T) {
	start := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	got := AllMessagesFilter(start, end).Render()

	assert.Equal(t,
		"$orderby=createdDateTime asc"+
			"&$filter=isDraft eq false AND createdDateTime ge 2024-01-02 AND createdDateTime le 2024-03-04"+
			"&$select=subject,from,toRecipients,ccRecipients,body,sentDateTime,receivedDateTime,createdDateTime",
		got)
}

func TestCalendarViewFilter_UsesUTC(t *testing.T) {
	zone := time.FixedZone("plus2", 2*60*60)
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, zone)
	end := start.Add(24 * time.Hour)

	f := CalendarViewFilter(start, end)

	assert.Equal(t, "2024-05-01T08:00:00Z", f.StartDateTime)
	assert.Equal(t, "2024-05-02T08:00:00Z", f.EndDateTime)
}

func TestQueryFilter_Encode(t *testing.T) {
	tests := []struct {
		name   string
		filter QueryFilter
		want   string
	}{
		{"empty", EmptyFilter(), ""},
		{"dollar kept", EmptyFilter().WithTop(5), "$top=5"},
		{"spaces", QueryFilter{FilterBy: []string{"isDraft eq false"}}, "$filter=isDraft%20eq%20false"},
		{"quotes and colon", QueryFilter{FilterBy: []string{"x eq 'a:b'"}}, "$filter=x%20eq%20%27a%3Ab%27"},
		{"ampersand in value", QueryFilter{FilterBy: []string{"subject eq 'Q&A'"}}, "$filter=subject%20eq%20%27Q%26A%27"},
		{"equals in value", EmptyFilter().WithParam("k", "a=b"), "k=a%3Db"},
		{"percent in value", EmptyFilter().WithParam("k", "100%"), "k=100%25"},
		{"ampersand in key", EmptyFilter().WithParam("a&b", "1"), "a%26b=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.encode())
		})
	}
}

func TestQueryFilter_EncodeRoundTripsThroughURLParsing(t *testing.T) {
	f := AllMessagesFilter(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)).
		WithParam("$search", `"Q&A = 100%"`)

	values, err := url.ParseQuery(f.encode())
	require.NoError(t, err)

	assert.Equal(t, "createdDateTime asc", values.Get("$orderby"))
	assert.Equal(t, "isDraft eq false AND createdDateTime ge 2024-01-01 AND createdDateTime le 2024-02-01", values.Get("$filter"))
	assert.Equal(t, `"Q&A = 100%"`, values.Get("$search"))
	assert.Len(t, values, 4)
}
