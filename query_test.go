package jsonapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuery_AllSections(t *testing.T) {
	qp := ParseQuery("include=author,comments.author&sort=-createdAt,title&filter[published]=true&fields[posts]=title,body&page[number]=2&page[size]=10")

	assert.Equal(t, []string{"author", "comments.author"}, qp.Include)
	require.Len(t, qp.Sort, 2)
	assert.Equal(t, SortKey{Field: "createdAt", Desc: true}, qp.Sort[0])
	assert.Equal(t, SortKey{Field: "title", Desc: false}, qp.Sort[1])
	assert.Equal(t, "true", qp.Filters["published"])
	assert.Equal(t, "title,body", qp.Fields["posts"])
	assert.Equal(t, int64(2), qp.Page["number"])
	assert.Equal(t, int64(10), qp.Page["size"])
}

func TestParseQuery_UnknownKeysIgnored(t *testing.T) {
	qp := ParseQuery("bogus=1&sort=")
	assert.Empty(t, qp.Sort)
}

func TestQueryParams_RoundTripLaw(t *testing.T) {
	// parse(serialize(parse(s))) == parse(s) (spec.md §8).
	raw := "include=author&sort=-title&filter[published]=true&fields[posts]=title&page[number]=2"
	first := ParseQuery(raw)
	second := ParseQuery(first.Encode())
	assert.Equal(t, first, second)
}

func TestSplitFieldset(t *testing.T) {
	assert.Equal(t, []string{"title", "body"}, SplitFieldset("title,body"))
	assert.Nil(t, SplitFieldset(""))
}
