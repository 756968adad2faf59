package document

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompareNaNCanonical(t *testing.T) {
	nan1 := Float(math.NaN())
	nan2 := Float(math.NaN())
	require.Equal(t, 0, Compare(nan1, nan2))
	require.Equal(t, 1, Compare(nan1, Float(1.0)))
	require.Equal(t, -1, Compare(Float(1.0), nan1))
}

func TestCompareKinds(t *testing.T) {
	require.Equal(t, -1, Compare(Null(), Int(0)))
	require.Less(t, Compare(Int(1), Int(2)), 0)
	require.Greater(t, Compare(String("b"), String("a")), 0)
}

func TestFieldWalksSparseDocuments(t *testing.T) {
	obj := Object(map[string]Value{
		"author": Object(map[string]Value{"name": String("ada")}),
	})
	require.Equal(t, String("ada"), obj.Field([]string{"author", "name"}))
	require.Equal(t, Null(), obj.Field([]string{"author", "missing"}))
	require.Equal(t, Null(), obj.Field([]string{"absent", "name"}))
}

func TestIndexKeyOfIsPure(t *testing.T) {
	def := IndexDefinition{Fields: [][]string{{"channel"}, {"rank"}}}
	doc := Document{Value: Object(map[string]Value{
		"channel": String("general"),
		"rank":    Int(3),
	})}
	k1 := IndexKeyOf(def, doc)
	k2 := IndexKeyOf(def, doc)
	require.Equal(t, k1, k2)

	id := NewID()
	require.Equal(t, 0, CompareKeys(k1, k2, id, id))
}
