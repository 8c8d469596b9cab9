package pagination

import (
	"fmt"
	"math"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestComputeFirstPageOfThree(t *testing.T) {
	base := mustParse(t, "/v3/repo/1/builds?limit=1")
	info := Compute(base, 0, 1, 3)

	assert.Equal(t, 1, info.Limit)
	assert.Equal(t, 0, info.Offset)
	assert.Equal(t, 3, info.Count)
	assert.True(t, info.IsFirst)
	assert.False(t, info.IsLast)
	assert.Nil(t, info.Prev)
	assert.Equal(t, &Link{Href: "/v3/repo/1/builds?limit=1&offset=1", Offset: 1, Limit: 1}, info.Next)
	assert.Equal(t, &Link{Href: "/v3/repo/1/builds?limit=1", Offset: 0, Limit: 1}, info.First)
	assert.Equal(t, &Link{Href: "/v3/repo/1/builds?limit=1&offset=2", Offset: 2, Limit: 1}, info.Last)
}

func TestComputeEmptyCollection(t *testing.T) {
	info := Compute(mustParse(t, "/v3/repo/1/builds"), 0, 25, 0)

	assert.True(t, info.IsFirst)
	assert.True(t, info.IsLast)
	assert.Nil(t, info.Next)
	assert.Nil(t, info.Prev)
	assert.Equal(t, info.First, info.Last)
}

func TestComputeOffsetBeyondCount(t *testing.T) {
	info := Compute(mustParse(t, "/v3/repo/1/builds"), 50, 10, 3)

	assert.False(t, info.IsFirst)
	assert.True(t, info.IsLast)
	assert.Nil(t, info.Next)
	require.NotNil(t, info.Prev)
	assert.Equal(t, 40, info.Prev.Offset)
	assert.Equal(t, 0, info.Last.Offset)
}

func TestComputePrevClampsAtZero(t *testing.T) {
	info := Compute(mustParse(t, "/v3/repo/1/builds"), 3, 10, 30)

	require.NotNil(t, info.Prev)
	assert.Equal(t, 0, info.Prev.Offset)
	assert.Equal(t, "/v3/repo/1/builds?limit=10", info.Prev.Href)
	assert.Equal(t, 13, info.Next.Offset)
	assert.Equal(t, 20, info.Last.Offset)
}

func TestComputeLastWhenCountFitsOnePage(t *testing.T) {
	info := Compute(mustParse(t, "/v3/repo/1/builds"), 0, 25, 25)

	assert.True(t, info.IsLast)
	assert.Equal(t, info.First, info.Last)
}

func TestComputeKeepsOtherQueryParameters(t *testing.T) {
	base := mustParse(t, "/v3/repo/svenfuchs%2Fminimal/builds?branch.name=master&limit=1&offset=1")
	info := Compute(base, 1, 1, 3)

	assert.Equal(t, "/v3/repo/svenfuchs%2Fminimal/builds?branch.name=master&limit=1&offset=2", info.Next.Href)
	assert.Equal(t, "/v3/repo/svenfuchs%2Fminimal/builds?branch.name=master&limit=1", info.Prev.Href)
	assert.Equal(t, "/v3/repo/svenfuchs%2Fminimal/builds?branch.name=master&limit=1", info.First.Href)
}

func TestComputeInvariants(t *testing.T) {
	base := mustParse(t, "/v3/repo/1/builds")
	for count := 0; count <= 12; count++ {
		for limit := 1; limit <= 5; limit++ {
			for offset := 0; offset <= 15; offset++ {
				name := fmt.Sprintf("count=%d/limit=%d/offset=%d", count, limit, offset)
				info := Compute(base, offset, limit, count)

				assert.Equal(t, offset == 0, info.IsFirst, name)
				assert.Equal(t, offset+limit >= count, info.IsLast, name)
				assert.Equal(t, offset > 0, info.Prev != nil, name)
				assert.Equal(t, offset+limit < count, info.Next != nil, name)
				if info.Prev != nil {
					assert.GreaterOrEqual(t, info.Prev.Offset, 0, name)
				}
				if info.Next != nil {
					assert.Equal(t, offset+limit, info.Next.Offset, name)
				}
				assert.Equal(t, 0, info.First.Offset, name)
				assert.Zero(t, info.Last.Offset%limit, name)
				if count > 0 {
					assert.Less(t, info.Last.Offset, count, name)
					assert.GreaterOrEqual(t, info.Last.Offset+limit, count, name)
				}
				for _, l := range []*Link{info.First, info.Last, info.Next, info.Prev} {
					if l != nil {
						assert.Equal(t, limit, l.Limit, name)
					}
				}
			}
		}
	}
}

func TestComputeHugeWindowDoesNotWrap(t *testing.T) {
	base := mustParse(t, "/v3/repo/1/builds")
	tests := []struct {
		name   string
		offset int
		limit  int
		count  int
	}{
		{"max offset", math.MaxInt, 10, 3},
		{"max limit", 0, math.MaxInt, 3},
		{"max offset and limit", math.MaxInt, math.MaxInt, 3},
		{"near max offset inside huge count", math.MaxInt - 5, 10, math.MaxInt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := Compute(base, tt.offset, tt.limit, tt.count)
			assert.True(t, info.IsLast)
			assert.Nil(t, info.Next)
			if info.Prev != nil {
				assert.GreaterOrEqual(t, info.Prev.Offset, 0)
			}
			assert.GreaterOrEqual(t, info.Last.Offset, 0)
		})
	}
}

func TestPolicyWindow(t *testing.T) {
	policy := Policy{DefaultLimit: 25, MaxLimit: 100}
	tests := []struct {
		query      string
		wantOffset int
		wantLimit  int
	}{
		{"", 0, 25},
		{"limit=1", 0, 1},
		{"limit=1&offset=2", 2, 1},
		{"limit=0", 0, 25},
		{"limit=-4", 0, 25},
		{"limit=abc&offset=xyz", 0, 25},
		{"limit=500", 0, 100},
		{"offset=-3", 0, 25},
		{fmt.Sprintf("limit=10&offset=%d", math.MaxInt), math.MaxInt, 10},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			values, err := url.ParseQuery(tt.query)
			require.NoError(t, err)
			offset, limit := policy.Window(values)
			assert.Equal(t, tt.wantOffset, offset)
			assert.Equal(t, tt.wantLimit, limit)
		})
	}
}
