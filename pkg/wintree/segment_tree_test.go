// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wintree

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/wintree/pkg/common"
)

func identityIdx(n int64) ([]int32, []int64) {
	originalIdx := make([]int32, n)
	orderedIdx := make([]int64, n)
	for i := int64(0); i < n; i++ {
		originalIdx[i] = int32(i)
		orderedIdx[i] = i
	}
	return originalIdx, orderedIdx
}

func buildInt32Tree(t *testing.T, col []int32, typ common.LType,
	kind AggKind, fanOut int64) *SegmentTree[int32, int64] {
	n := int64(len(col))
	originalIdx, orderedIdx := identityIdx(n)
	tree, err := NewSegmentTree[int32, int64](
		col, typ, originalIdx, orderedIdx, IndexPair{}, n, kind, fanOut)
	require.NoError(t, err)
	return tree
}

// refQuery recomputes Query by a linear scan honoring the same
// exclusion rule (null sentinel and identity value both skipped).
func refQuery(col []int32, typ common.LType, kind AggKind, first, second int64) int64 {
	nullIn := common.NullValue[int32]()
	nullAgg := common.NullValue[int64]()
	var sum, cnt int64
	minVal := int64(math.MaxInt64)
	maxVal := int64(math.MinInt64)
	anyVal := false
	for slot := first; slot <= second && slot < int64(len(col)); slot++ {
		v := col[slot]
		if v == nullIn {
			continue
		}
		// the identity value of sum-like kinds is 0, so zero-valued
		// rows are excluded too; test columns stay positive
		anyVal = true
		sum += int64(v)
		cnt++
		if int64(v) < minVal {
			minVal = int64(v)
		}
		if int64(v) > maxVal {
			maxVal = int64(v)
		}
	}
	switch kind {
	case AGG_MIN:
		if !anyVal {
			return int64(nullIn)
		}
		return minVal
	case AGG_MAX:
		if !anyVal {
			return int64(nullIn)
		}
		return maxVal
	case AGG_SUM:
		if !anyVal {
			return nullAgg
		}
		return sum
	case AGG_COUNT:
		if !anyVal {
			return nullAgg
		}
		return cnt
	case AGG_AVG:
		if !anyVal {
			return 0
		}
		if typ.IsDecimal() {
			descaled := float64(sum) / math.Pow(10, float64(typ.Scale))
			return int64(descaled / float64(cnt))
		}
		return sum / cnt
	}
	panic("usp")
}

func genInt32Column(n int, nullPct int, seed int64) []int32 {
	rnd := rand.New(rand.NewSource(seed))
	col := make([]int32, n)
	for i := range col {
		if rnd.Intn(100) < nullPct {
			col[i] = common.NullValue[int32]()
		} else {
			col[i] = int32(1 + rnd.Intn(1000))
		}
	}
	return col
}

func Test_findMaxTreeHeight(t *testing.T) {
	for _, fanOut := range []int64{2, 3, 4, 8} {
		for numElems := int64(1); numElems <= 10000; numElems++ {
			depth, leafRange := findMaxTreeHeight(numElems, fanOut)
			leafSize := leafRange.Second - leafRange.First
			require.GreaterOrEqual(t, leafSize, numElems,
				"fanout %d numElems %d", fanOut, numElems)
			// minimality: one level up cannot hold the elements
			if depth > 1 {
				prevCapacity := int64(1)
				for i := int64(0); i < depth-1; i++ {
					prevCapacity *= fanOut
				}
				require.Less(t, prevCapacity, numElems,
					"fanout %d numElems %d", fanOut, numElems)
			}
			// the leaf level starts right after all internal nodes
			internal := int64(1)
			levelSize := int64(1)
			for i := int64(1); i < depth; i++ {
				levelSize *= fanOut
				internal += levelSize
			}
			require.Equal(t, internal, leafRange.First)
			require.Equal(t, leafSize, levelSize*fanOut)
		}
	}
	depth, leafRange := findMaxTreeHeight(0, 2)
	assert.Equal(t, int64(0), depth)
	assert.Equal(t, IndexPair{}, leafRange)
}

func Test_query_matchesLinearScan(t *testing.T) {
	col := genInt32Column(137, 25, 42)
	typ := common.IntegerType()
	n := int64(len(col))
	for _, fanOut := range []int64{2, 3, 8} {
		for _, kind := range []AggKind{AGG_MIN, AGG_MAX, AGG_SUM, AGG_COUNT, AGG_AVG} {
			tree := buildInt32Tree(t, col, typ, kind, fanOut)
			for i := int64(0); i < n; i++ {
				for j := i; j < n; j++ {
					got := tree.Query(IndexPair{First: i, Second: j})
					want := refQuery(col, typ, kind, i, j)
					require.Equal(t, want, got,
						"kind %v fanout %d range [%d,%d]", kind, fanOut, i, j)
				}
			}
		}
	}
}

func Test_query_decimalAvg(t *testing.T) {
	// decimal(10,2) values are stored as scaled integers
	typ := common.DecimalType(10, 2)
	col := genInt32Column(64, 20, 7)
	n := int64(len(col))
	for _, fanOut := range []int64{2, 4} {
		tree := buildInt32Tree(t, col, typ, AGG_AVG, fanOut)
		for i := int64(0); i < n; i++ {
			for j := i; j < n; j++ {
				got := tree.Query(IndexPair{First: i, Second: j})
				want := refQuery(col, typ, AGG_AVG, i, j)
				require.Equal(t, want, got, "range [%d,%d]", i, j)
			}
		}
	}
}

func Test_query_allNullRange(t *testing.T) {
	nullIn := common.NullValue[int32]()
	nullAgg := common.NullValue[int64]()
	col := make([]int32, 8)
	for i := range col {
		col[i] = nullIn
	}
	typ := common.IntegerType()
	full := IndexPair{First: 0, Second: 7}

	// min/max render the input column's null, not the aggregate null
	assert.Equal(t, int64(nullIn), buildInt32Tree(t, col, typ, AGG_MIN, 2).Query(full))
	assert.Equal(t, int64(nullIn), buildInt32Tree(t, col, typ, AGG_MAX, 2).Query(full))
	assert.Equal(t, nullAgg, buildInt32Tree(t, col, typ, AGG_SUM, 2).Query(full))
	assert.Equal(t, nullAgg, buildInt32Tree(t, col, typ, AGG_COUNT, 2).Query(full))
	// quirk: an all-null avg yields 0 instead of the null sentinel
	assert.Equal(t, int64(0), buildInt32Tree(t, col, typ, AGG_AVG, 2).Query(full))
}

func Test_query_invalidRange(t *testing.T) {
	col := genInt32Column(10, 0, 3)
	typ := common.IntegerType()
	nullAgg := common.NullValue[int64]()
	for _, kind := range []AggKind{AGG_SUM, AGG_AVG} {
		tree := buildInt32Tree(t, col, typ, kind, 2)
		assert.Equal(t, nullAgg, tree.Query(IndexPair{First: 5, Second: 3}))
		assert.Equal(t, nullAgg, tree.Query(IndexPair{First: -1, Second: 3}))
		assert.Equal(t, nullAgg, tree.Query(IndexPair{First: 0, Second: tree.LeafSize() + 1}))
		// the tree stays usable afterwards
		want := refQuery(col, typ, kind, 0, 9)
		assert.Equal(t, want, tree.Query(IndexPair{First: 0, Second: 9}))
	}
}

func Test_query_upperBoundAtLeafSize(t *testing.T) {
	// leafSize itself is addressable by contract even though the last
	// leaf slot is leafSize-1
	col := genInt32Column(13, 10, 11)
	typ := common.IntegerType()
	for _, kind := range []AggKind{AGG_MIN, AGG_MAX, AGG_SUM, AGG_COUNT, AGG_AVG} {
		tree := buildInt32Tree(t, col, typ, kind, 2)
		for i := int64(0); i <= tree.LeafSize(); i++ {
			got := tree.Query(IndexPair{First: i, Second: tree.LeafSize()})
			want := refQuery(col, typ, kind, i, tree.LeafSize())
			require.Equal(t, want, got, "kind %v first %d", kind, i)
		}
	}
}

func Test_query_zeroSum(t *testing.T) {
	// a genuine zero sum at the top-level combine must survive; only
	// the padding-only range collapses to the null sentinel
	col := []int32{5, -5}
	tree := buildInt32Tree(t, col, common.IntegerType(), AGG_SUM, 2)
	assert.Equal(t, int64(0), tree.Query(IndexPair{First: 0, Second: 1}))
	padOnly := IndexPair{First: tree.LeafSize(), Second: tree.LeafSize()}
	assert.Equal(t, common.NullValue[int64](), tree.Query(padOnly))
}

func Test_indirection(t *testing.T) {
	// shuffled double indirection: leaf slot k must read
	// col[originalIdx[orderedIdx[k]]]
	col := []int32{50, 10, 40, 20, 60, 30}
	n := int64(len(col))
	rnd := rand.New(rand.NewSource(5))
	originalIdx := make([]int32, n)
	for i := range originalIdx {
		originalIdx[i] = int32(i)
	}
	rnd.Shuffle(len(originalIdx), func(i, j int) {
		originalIdx[i], originalIdx[j] = originalIdx[j], originalIdx[i]
	})
	orderedIdx := make([]int64, n)
	for i := range orderedIdx {
		orderedIdx[i] = int64(i)
	}
	rnd.Shuffle(len(orderedIdx), func(i, j int) {
		orderedIdx[i], orderedIdx[j] = orderedIdx[j], orderedIdx[i]
	})

	tree, err := NewSegmentTree[int32, int64](
		col, common.IntegerType(), originalIdx, orderedIdx,
		IndexPair{}, n, AGG_MIN, 2)
	require.NoError(t, err)
	for k := int64(0); k < n; k++ {
		want := int64(col[originalIdx[orderedIdx[k]]])
		assert.Equal(t, want, tree.Query(IndexPair{First: k, Second: k}), "slot %d", k)
	}
}

func Test_minExample(t *testing.T) {
	nullIn := common.NullValue[int32]()
	col := []int32{5, nullIn, 3, 8, nullIn, 1}
	tree := buildInt32Tree(t, col, common.IntegerType(), AGG_MIN, 2)
	assert.Equal(t, int64(1), tree.Query(IndexPair{First: 0, Second: 5}))
	assert.Equal(t, int64(3), tree.Query(IndexPair{First: 1, Second: 2}))
	assert.Equal(t, int64(nullIn), tree.Query(IndexPair{First: 4, Second: 4}))
}

func Test_constructorPreconditions(t *testing.T) {
	originalIdx, orderedIdx := identityIdx(0)
	_, err := NewSegmentTree[int32, int64](
		nil, common.IntegerType(), originalIdx, orderedIdx,
		IndexPair{}, 0, AGG_SUM, 2)
	assert.Error(t, err)
	_, err = NewSegmentTree[int32, int64](
		nil, common.IntegerType(), originalIdx, orderedIdx,
		IndexPair{}, -3, AGG_SUM, 2)
	assert.Error(t, err)
}

func Test_floatTree(t *testing.T) {
	// integral values keep float sums exact regardless of combine order
	rnd := rand.New(rand.NewSource(17))
	nullIn := common.NullValue[float32]()
	col := make([]float32, 95)
	for i := range col {
		if rnd.Intn(100) < 20 {
			col[i] = nullIn
		} else {
			col[i] = float32(1 + rnd.Intn(1 << 16))
		}
	}
	n := int64(len(col))
	originalIdx, orderedIdx := identityIdx(n)
	for _, kind := range []AggKind{AGG_MIN, AGG_MAX, AGG_SUM, AGG_AVG} {
		tree, err := NewSegmentTree[float32, float64](
			col, common.FloatType(), originalIdx, orderedIdx,
			IndexPair{}, n, kind, 4)
		require.NoError(t, err)
		for i := int64(0); i < n; i += 7 {
			for j := i; j < n; j += 3 {
				got := tree.Query(IndexPair{First: i, Second: j})
				want := refFloatQuery(col, kind, i, j)
				require.Equal(t, want, got, "kind %v range [%d,%d]", kind, i, j)
			}
		}
	}
}

func refFloatQuery(col []float32, kind AggKind, first, second int64) float64 {
	nullIn := common.NullValue[float32]()
	nullAgg := common.NullValue[float64]()
	var sum, cnt float64
	minVal := math.MaxFloat64
	maxVal := -math.MaxFloat64
	anyVal := false
	for slot := first; slot <= second && slot < int64(len(col)); slot++ {
		v := col[slot]
		if v == nullIn {
			continue
		}
		anyVal = true
		sum += float64(v)
		cnt++
		minVal = math.Min(minVal, float64(v))
		maxVal = math.Max(maxVal, float64(v))
	}
	switch kind {
	case AGG_MIN:
		if !anyVal {
			return float64(nullIn)
		}
		return minVal
	case AGG_MAX:
		if !anyVal {
			return float64(nullIn)
		}
		return maxVal
	case AGG_SUM:
		if !anyVal {
			return nullAgg
		}
		return sum
	case AGG_AVG:
		if !anyVal {
			return 0
		}
		return sum / cnt
	}
	panic("usp")
}

func Test_accessors(t *testing.T) {
	col := genInt32Column(10, 0, 1)
	tree := buildInt32Tree(t, col, common.IntegerType(), AGG_SUM, 2)
	assert.Equal(t, int64(10), tree.NumElems())
	assert.Equal(t, int64(2), tree.Fanout())
	assert.Equal(t, tree.LeafRange().Second, tree.TreeSize())
	assert.Equal(t, tree.LeafRange().Second-tree.LeafRange().First, tree.LeafSize())
	assert.Equal(t, int64(len(tree.AggregatedValues())), tree.TreeSize())
	assert.Nil(t, tree.DerivedAggregatedValues())

	avg := buildInt32Tree(t, col, common.IntegerType(), AGG_AVG, 2)
	assert.Nil(t, avg.AggregatedValues())
	assert.Equal(t, int64(len(avg.DerivedAggregatedValues())), avg.TreeSize())
}

func Test_explain(t *testing.T) {
	col := []int32{4, 2, 7, 1}
	tree := buildInt32Tree(t, col, common.IntegerType(), AGG_MIN, 2)
	out := tree.Explain()
	assert.True(t, strings.Contains(out, "node 0"))
	assert.True(t, strings.Contains(out, "fanout 2"))

	avg := buildInt32Tree(t, col, common.IntegerType(), AGG_AVG, 2)
	assert.True(t, strings.Contains(avg.Explain(), "("))

	// decimal(10,2) leaves render descaled
	dec := buildInt32Tree(t, col, common.DecimalType(10, 2), AGG_SUM, 2)
	assert.True(t, strings.Contains(dec.Explain(), "0.04"))
	decAvg := buildInt32Tree(t, col, common.DecimalType(10, 2), AGG_AVG, 2)
	assert.True(t, strings.Contains(decAvg.Explain(), "(0.04, 1)"))
}

func Test_parseAggKind(t *testing.T) {
	for _, kind := range []AggKind{AGG_MIN, AGG_MAX, AGG_SUM, AGG_COUNT, AGG_AVG} {
		got, err := ParseAggKind(kind.String())
		require.NoError(t, err)
		assert.Equal(t, kind, got)
	}
	_, err := ParseAggKind("median")
	assert.Error(t, err)
}
