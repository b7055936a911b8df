package classify

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/rentalbooks/internal/books"
)

func mapping(id int64, pattern string, mode books.MatchMode, priority int, l1 string) books.CategoryMapping {
	return books.CategoryMapping{ID: id, Pattern: pattern, MatchMode: mode, Priority: priority, Level1: l1, Level2: l1, Level3: "Exploitation", Active: true}
}

func TestClassify(t *testing.T) {
	r := NewResolver(nil)
	mappings := []books.CategoryMapping{
		mapping(1, "loyer", books.MatchContains, 0, "Loyer"),
		mapping(2, "loyer garage", books.MatchContains, 0, "Garage"),
		mapping(3, "VIR", books.MatchPrefix, 5, "Virement"),
		mapping(4, `^PRLV\s+SEPA\s+DGFIP`, books.MatchRegex, 0, "Taxe foncière"),
		mapping(5, "frais", books.MatchExact, 0, "Frais"),
		{ID: 6, Pattern: "loyer", MatchMode: books.MatchContains, Priority: 99, Level1: "Inactif"},
	}

	cases := []struct {
		desc string
		want string
	}{
		{"Loyer janvier", "Loyer"},
		{"Loyer garage fevrier", "Garage"},
		{"VIR loyer garage", "Virement"},
		{"prlv sepa dgfip 2024", "Taxe foncière"},
		{"FRAIS", "Frais"},
		{"frais bancaires", ""},
		{"Courses", ""},
	}
	for _, tc := range cases {
		got := r.Classify(tc.desc, mappings)
		if tc.want == "" {
			if got != nil {
				t.Fatalf("%q: expected unclassified, got %+v", tc.desc, got)
			}
			continue
		}
		require.NotNil(t, got, tc.desc)
		require.Equal(t, tc.want, got.Level1, tc.desc)
	}
}

func TestClassifyTieBreaksOnID(t *testing.T) {
	r := NewResolver(nil)
	got := r.Classify("eau", []books.CategoryMapping{
		mapping(9, "eau", books.MatchContains, 1, "B"),
		mapping(3, "eau", books.MatchContains, 1, "A"),
	})
	require.Equal(t, "A", got.Level1)
}

func TestClassifyInvalidRegex(t *testing.T) {
	r := NewResolver(nil)
	got := r.Classify("anything", []books.CategoryMapping{mapping(1, "([", books.MatchRegex, 0, "X")})
	require.Nil(t, got)
	require.Nil(t, r.Classify("anything", []books.CategoryMapping{mapping(1, "([", books.MatchRegex, 0, "X")}))
}
