package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	c := Default()

	tests := []struct {
		query string
		want  string
	}{
		{"corolla", "Toyota Corolla"},
		{"Toyota", "Toyota"},
		{"toyota yaris", "Toyota Yaris"},
		{"  MAZDA   3 ", "Mazda 3"},
		{"jeta", "Volkswagen Jetta"},
		{"sentr", "Nissan Sentra"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := c.Lookup(tt.query, 3)
			require.NotEmpty(t, got)
			assert.Equal(t, tt.want, got[0].Name())
			assert.LessOrEqual(t, len(got), 3)
		})
	}
}

func TestLookup_EmptyQuery(t *testing.T) {
	c := Default()
	assert.Nil(t, c.Lookup("  ", 5))
	assert.Nil(t, c.Lookup("kia", 0))
}

func TestLookup_SortedByScore(t *testing.T) {
	got := Default().Lookup("cx", 5)
	require.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}
}

func TestCanonical(t *testing.T) {
	c := Default()

	got, ok := c.Canonical("toyta")
	assert.True(t, ok)
	assert.Equal(t, "Toyota", got)

	got, ok = c.Canonical("VOLKSWAGEN")
	assert.True(t, ok)
	assert.Equal(t, "Volkswagen", got)

	got, ok = c.Canonical(" Tesla ")
	assert.False(t, ok)
	assert.Equal(t, "Tesla", got)
}

func TestBrandsAndModels(t *testing.T) {
	c := New(map[string][]string{"Kia": {"Soul", "Rio"}, "Ford": {"Figo"}})
	assert.Equal(t, []string{"Ford", "Kia"}, c.Brands())
	assert.Equal(t, []string{"Rio", "Soul"}, c.Models("kia"))
	assert.Nil(t, c.Models("Seat"))
}
