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
	"fmt"
	"math"

	"github.com/xlab/treeprint"
	"go.uber.org/zap"

	"github.com/daviszhen/wintree/pkg/common"
	"github.com/daviszhen/wintree/pkg/util"
)

// IndexPair is an inclusive [first, second] index range.
type IndexPair = util.Pair[int64, int64]

// SegmentTree answers contiguous-range aggregate queries over one
// sorted partition of a column in O(depth * fanout). The column is read
// through double index indirection
// trueRow = originalIdx[orderedIdx[leafSlot]], so the caller never has
// to physically reorder it. I is the column element type, A the
// aggregate type (int64 for integral/decimal columns, float64 for
// floating ones).
type SegmentTree[I, A common.Numeric] struct {
	inputCol    []I
	inputColTyp common.LType
	originalIdx []int32
	orderedIdx  []int64
	numElems    int64
	fanOut      int64
	aggKind     AggKind

	leafDepth int64
	leafRange IndexPair
	// null range of the order column; accepted from the caller but
	// recomputed to extreme sentinels here, see NewSegmentTree.
	nullRange IndexPair
	treeSize  int64
	leafSize  int64

	invalidVal   A
	nullVal      A
	inputNullVal I

	policy  aggPolicy[A]
	derived *derivedPolicy[A]

	// exactly one of the two node arrays is allocated, chosen once by
	// the aggregate kind
	aggregatedValues  []A
	derivedAggregated []SumAndCountPair[A]
}

// NewSegmentTree builds all nodes eagerly; afterwards the tree is
// immutable and Query may be called any number of times.
//
// nullRange is the order column's null range hint. The reference engine
// accepts it and immediately overwrites it with extreme sentinels, so
// it is dead input kept for interface compatibility.
func NewSegmentTree[I, A common.Numeric](
	inputCol []I,
	inputColTyp common.LType,
	originalIdx []int32,
	orderedIdx []int64,
	nullRange IndexPair,
	numElems int64,
	aggKind AggKind,
	fanOut int64,
) (*SegmentTree[I, A], error) {
	if numElems <= 0 {
		return nil, fmt.Errorf("segment tree needs a positive element count, got %d", numElems)
	}
	util.AssertFunc(fanOut >= 1)
	st := &SegmentTree[I, A]{
		inputCol:    inputCol,
		inputColTyp: inputColTyp,
		originalIdx: originalIdx,
		orderedIdx:  orderedIdx,
		numElems:    numElems,
		fanOut:      fanOut,
		aggKind:     aggKind,
	}
	st.leafDepth, st.leafRange = findMaxTreeHeight(numElems, fanOut)
	st.nullRange = IndexPair{
		First:  math.MaxInt64,
		Second: math.MinInt64,
	}
	// the index one past the last leaf equals the tree's node count
	st.treeSize = st.leafRange.Second
	st.leafSize = st.leafRange.Second - st.leafRange.First
	switch aggKind {
	case AGG_MIN:
		st.invalidVal = numCast[A](common.MaxValue[I]())
	case AGG_MAX:
		st.invalidVal = numCast[A](common.MinValue[I]())
	default:
		st.invalidVal = 0
	}
	st.nullVal = common.NullValue[A]()
	st.inputNullVal = common.NullValue[I]()
	switch aggKind {
	case AGG_MIN:
		st.policy = &minPolicy[A]{
			nullVal:      st.nullVal,
			invalidVal:   st.invalidVal,
			inputNullVal: numCast[A](st.inputNullVal),
		}
	case AGG_MAX:
		st.policy = &maxPolicy[A]{
			nullVal:      st.nullVal,
			invalidVal:   st.invalidVal,
			inputNullVal: numCast[A](st.inputNullVal),
		}
	case AGG_SUM, AGG_COUNT:
		st.policy = &sumPolicy[A]{
			nullVal:    st.nullVal,
			invalidVal: st.invalidVal,
		}
	case AGG_AVG:
		st.derived = &derivedPolicy[A]{
			nullVal:    st.nullVal,
			invalidVal: st.invalidVal,
		}
	default:
		return nil, fmt.Errorf("unsupported aggregate kind %d", int(aggKind))
	}
	if aggKind.IsDerived() {
		st.derivedAggregated = make([]SumAndCountPair[A], st.treeSize)
		st.buildDerived(0, 0)
	} else {
		st.aggregatedValues = make([]A, st.treeSize)
		st.build(0, 0)
	}
	util.Debug("segment tree built",
		zap.Int64("treeSize", st.treeSize),
		zap.Int64("fanout", st.fanOut),
		zap.Int64("leafDepth", st.leafDepth),
		zap.Int64("leafRangeFirst", st.leafRange.First),
		zap.Int64("leafRangeSecond", st.leafRange.Second),
		zap.Int64("leafSize", st.leafSize))
	return st, nil
}

// Query aggregates the leaf slots in queryRange. An inverted or
// out-of-bounds range yields the null sentinel, never an error.
func (st *SegmentTree[I, A]) Query(queryRange IndexPair) A {
	if queryRange.First > queryRange.Second || queryRange.First < 0 ||
		queryRange.Second > st.leafSize {
		return st.nullVal
	}
	if queryRange.First >= st.leafSize {
		// slot leafSize is addressable but only ever holds padding
		if st.aggKind.IsDerived() {
			return 0
		}
		return st.policy.Finalize(st.nullVal)
	}
	if st.aggKind.IsDerived() {
		pair := st.searchDerived(queryRange, 0, 0, 0, st.leafSize-1)
		if pair.Count == 0 {
			// an all-null range yields 0, not the null sentinel; kept
			// verbatim since downstream formatting may rely on it
			return 0
		} else if pair.Sum == st.nullVal {
			return st.nullVal
		}
		if st.inputColTyp.IsDecimal() {
			descaled := asFloat64(pair.Sum) / math.Pow(10, float64(st.inputColTyp.Scale))
			return fromFloat64[A](descaled / asFloat64(pair.Count))
		}
		return pair.Sum / pair.Count
	}
	res := st.search(queryRange, 0, 0, 0, st.leafSize-1)
	return st.policy.Finalize(res)
}

// AggregatedValues exposes the raw node array of the simple
// representation for callers that re-traverse it directly.
func (st *SegmentTree[I, A]) AggregatedValues() []A {
	return st.aggregatedValues
}

// DerivedAggregatedValues exposes the raw node array of the derived
// representation.
func (st *SegmentTree[I, A]) DerivedAggregatedValues() []SumAndCountPair[A] {
	return st.derivedAggregated
}

func (st *SegmentTree[I, A]) LeafSize() int64 {
	return st.leafSize
}

func (st *SegmentTree[I, A]) TreeSize() int64 {
	return st.treeSize
}

func (st *SegmentTree[I, A]) NumElems() int64 {
	return st.numElems
}

func (st *SegmentTree[I, A]) LeafDepth() int64 {
	return st.leafDepth
}

func (st *SegmentTree[I, A]) Fanout() int64 {
	return st.fanOut
}

func (st *SegmentTree[I, A]) LeafRange() IndexPair {
	return st.leafRange
}

func (st *SegmentTree[I, A]) AggKind() AggKind {
	return st.aggKind
}

// build fills the simple node array depth-first and returns the value
// stored at curNodeIdx so the parent can combine it.
func (st *SegmentTree[I, A]) build(curNodeIdx int64, curNodeDepth int64) A {
	if curNodeIdx >= st.leafRange.First && curNodeIdx <= st.leafRange.Second {
		inputColIdx := curNodeIdx - st.leafRange.First
		if inputColIdx >= st.numElems {
			// padding slot past the real data
			st.aggregatedValues[curNodeIdx] = st.invalidVal
			return st.invalidVal
		}
		refinedInputColIdx := st.originalIdx[st.orderedIdx[inputColIdx]]
		colVal := st.inputCol[refinedInputColIdx]
		if colVal != st.inputNullVal {
			if st.aggKind == AGG_COUNT {
				st.aggregatedValues[curNodeIdx] = 1
			} else {
				st.aggregatedValues[curNodeIdx] = numCast[A](colVal)
			}
		} else {
			st.aggregatedValues[curNodeIdx] = st.nullVal
		}
		return st.aggregatedValues[curNodeIdx]
	}

	childVals := make([]A, st.fanOut)
	childIndexes := make([]int64, st.fanOut)
	st.computeChildIndexes(childIndexes, curNodeIdx, curNodeDepth)
	for i, childIdx := range childIndexes {
		childVals[i] = st.build(childIdx, curNodeDepth+1)
	}
	st.aggregatedValues[curNodeIdx] = st.policy.Combine(childVals)
	return st.aggregatedValues[curNodeIdx]
}

// buildDerived mirrors build with SumAndCountPair cells.
func (st *SegmentTree[I, A]) buildDerived(curNodeIdx int64, curNodeDepth int64) SumAndCountPair[A] {
	if curNodeIdx >= st.leafRange.First && curNodeIdx <= st.leafRange.Second {
		inputColIdx := curNodeIdx - st.leafRange.First
		if inputColIdx >= st.numElems {
			st.derivedAggregated[curNodeIdx] = st.derived.Identity()
		} else {
			refinedInputColIdx := st.originalIdx[st.orderedIdx[inputColIdx]]
			colVal := st.inputCol[refinedInputColIdx]
			if colVal != st.inputNullVal {
				st.derivedAggregated[curNodeIdx] = SumAndCountPair[A]{
					Sum:   numCast[A](colVal),
					Count: 1,
				}
			} else {
				st.derivedAggregated[curNodeIdx] = SumAndCountPair[A]{
					Sum:   st.nullVal,
					Count: 0,
				}
			}
		}
		return st.derivedAggregated[curNodeIdx]
	}

	childVals := make([]SumAndCountPair[A], st.fanOut)
	childIndexes := make([]int64, st.fanOut)
	st.computeChildIndexes(childIndexes, curNodeIdx, curNodeDepth)
	for i, childIdx := range childIndexes {
		childVals[i] = st.buildDerived(childIdx, curNodeDepth+1)
	}
	st.derivedAggregated[curNodeIdx] = st.derived.Combine(childVals)
	return st.derivedAggregated[curNodeIdx]
}

// search visits the nodes covering [searchRangeStartIdx,
// searchRangeEndIdx] top-down: out-of-range nodes contribute the
// identity, fully contained nodes return their precomputed value,
// partially overlapped leaf-level nodes fall back to a linear scan, and
// partially overlapped internal nodes split the covered range into
// fanOut sub-intervals.
func (st *SegmentTree[I, A]) search(queryRange IndexPair, curNodeIdx int64,
	curNodeDepth int64, searchRangeStartIdx int64, searchRangeEndIdx int64) A {
	if searchRangeEndIdx < queryRange.First || queryRange.Second < searchRangeStartIdx {
		return st.policy.Identity()
	} else if queryRange.First <= searchRangeStartIdx && searchRangeEndIdx <= queryRange.Second {
		return st.aggregatedValues[curNodeIdx]
	}
	if curNodeDepth == st.leafDepth {
		numVisits := queryRange.Second - searchRangeStartIdx + 1
		if curNodeIdx+numVisits > st.treeSize {
			// slot leafSize is addressable by Query but has no node
			numVisits = st.treeSize - curNodeIdx
		}
		return st.policy.Combine(st.aggregatedValues[curNodeIdx : curNodeIdx+numVisits])
	}
	// each child covers pivotIdx-searchRangeStartIdx+1 slots; the covered
	// range spans fanOut^k slots, so the split is exact
	pivotIdx := searchRangeStartIdx + (searchRangeEndIdx-searchRangeStartIdx)/st.fanOut
	childSearchStartIdx := searchRangeStartIdx
	childSearchEndIdx := pivotIdx
	childIndexes := make([]int64, st.fanOut)
	st.computeChildIndexes(childIndexes, curNodeIdx, curNodeDepth)
	childVals := make([]A, st.fanOut)
	for i, childIdx := range childIndexes {
		childVals[i] = st.search(queryRange, childIdx, curNodeDepth+1,
			childSearchStartIdx, childSearchEndIdx)
		childSearchStartIdx = childSearchEndIdx + 1
		childSearchEndIdx = childSearchStartIdx + (pivotIdx - searchRangeStartIdx)
		if childSearchEndIdx > searchRangeEndIdx {
			childSearchEndIdx = searchRangeEndIdx
		}
	}
	return st.policy.Combine(childVals)
}

func (st *SegmentTree[I, A]) searchDerived(queryRange IndexPair, curNodeIdx int64,
	curNodeDepth int64, searchRangeStartIdx int64, searchRangeEndIdx int64) SumAndCountPair[A] {
	if searchRangeEndIdx < queryRange.First || queryRange.Second < searchRangeStartIdx {
		return st.derived.Identity()
	} else if queryRange.First <= searchRangeStartIdx && searchRangeEndIdx <= queryRange.Second {
		return st.derivedAggregated[curNodeIdx]
	}
	if curNodeDepth == st.leafDepth {
		numVisits := queryRange.Second - searchRangeStartIdx + 1
		if curNodeIdx+numVisits > st.treeSize {
			numVisits = st.treeSize - curNodeIdx
		}
		return st.derived.Combine(st.derivedAggregated[curNodeIdx : curNodeIdx+numVisits])
	}
	pivotIdx := searchRangeStartIdx + (searchRangeEndIdx-searchRangeStartIdx)/st.fanOut
	childSearchStartIdx := searchRangeStartIdx
	childSearchEndIdx := pivotIdx
	childIndexes := make([]int64, st.fanOut)
	st.computeChildIndexes(childIndexes, curNodeIdx, curNodeDepth)
	childVals := make([]SumAndCountPair[A], st.fanOut)
	for i, childIdx := range childIndexes {
		childVals[i] = st.searchDerived(queryRange, childIdx, curNodeDepth+1,
			childSearchStartIdx, childSearchEndIdx)
		childSearchStartIdx = childSearchEndIdx + 1
		childSearchEndIdx = childSearchStartIdx + (pivotIdx - searchRangeStartIdx)
		if childSearchEndIdx > searchRangeEndIdx {
			childSearchEndIdx = searchRangeEndIdx
		}
	}
	return st.derived.Combine(childVals)
}

// children of the root start at 1; slot 0 holds the root itself
func (st *SegmentTree[I, A]) computeChildIndexes(childIndexes []int64,
	parentIdx int64, parentTreeDepth int64) {
	if parentTreeDepth == 0 {
		for i := int64(0); i < st.fanOut; i++ {
			childIndexes[i] = i + 1
		}
	} else {
		curDepthStartOffset := parentIdx*st.fanOut + 1
		for i := int64(0); i < st.fanOut; i++ {
			childIndexes[i] = curDepthStartOffset + i
		}
	}
}

// findMaxTreeHeight picks the shallowest depth whose leaf level can
// hold numElems nodes, expanding level by level from the root. The
// root occupies offset 1, so leaves start at depth 1 even for a single
// element.
func findMaxTreeHeight(numElems int64, fanOut int64) (int64, IndexPair) {
	if numElems <= 0 {
		return 0, IndexPair{}
	}
	curLevelStartOffset := int64(1)
	depth := int64(0)
	indexPair := IndexPair{}
	for {
		depth++
		maxNodeAtLevel := util.Pow(fanOut, depth)
		indexPair = IndexPair{
			First:  curLevelStartOffset,
			Second: curLevelStartOffset + maxNodeAtLevel,
		}
		curLevelStartOffset = indexPair.Second
		if numElems <= maxNodeAtLevel {
			return depth, indexPair
		}
	}
}

// Explain renders the node array as a tree for debugging.
func (st *SegmentTree[I, A]) Explain() string {
	tree := treeprint.NewWithRoot(
		fmt.Sprintf("segment tree (%v, fanout %d, %d elems)",
			st.aggKind, st.fanOut, st.numElems))
	st.explainNode(tree, 0, 0)
	return tree.String()
}

func (st *SegmentTree[I, A]) explainNode(parent treeprint.Tree, nodeIdx int64, depth int64) {
	if nodeIdx >= st.treeSize {
		return
	}
	label := fmt.Sprintf("node %d: %s", nodeIdx, st.explainValue(nodeIdx))
	if nodeIdx >= st.leafRange.First && nodeIdx <= st.leafRange.Second {
		parent.AddNode(label)
		return
	}
	branch := parent.AddBranch(label)
	childIndexes := make([]int64, st.fanOut)
	st.computeChildIndexes(childIndexes, nodeIdx, depth)
	for _, childIdx := range childIndexes {
		st.explainNode(branch, childIdx, depth+1)
	}
}

func (st *SegmentTree[I, A]) explainValue(nodeIdx int64) string {
	if st.aggKind.IsDerived() {
		pair := st.derivedAggregated[nodeIdx]
		if pair.Sum == st.nullVal {
			return "(null, 0)"
		}
		if st.inputColTyp.IsDecimal() {
			return fmt.Sprintf("(%s, %v)",
				common.RenderScaled(numCast[int64](pair.Sum), st.inputColTyp.Scale),
				pair.Count)
		}
		return fmt.Sprintf("(%v, %v)", pair.Sum, pair.Count)
	}
	val := st.aggregatedValues[nodeIdx]
	switch val {
	case st.nullVal:
		return "null"
	case st.invalidVal:
		return "-"
	default:
		if st.inputColTyp.IsDecimal() {
			return common.RenderScaled(numCast[int64](val), st.inputColTyp.Scale)
		}
		return fmt.Sprintf("%v", val)
	}
}

func asFloat64[A common.Numeric](val A) float64 {
	switch v := any(val).(type) {
	case int8:
		return float64(v)
	case int16:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	case float64:
		return v
	}
	panic("usp numeric type")
}

func fromFloat64[A common.Numeric](val float64) A {
	var res A
	switch p := any(&res).(type) {
	case *int8:
		*p = int8(val)
	case *int16:
		*p = int16(val)
	case *int32:
		*p = int32(val)
	case *int64:
		*p = int64(val)
	case *float32:
		*p = float32(val)
	case *float64:
		*p = val
	}
	return res
}

func fromInt64[A common.Numeric](val int64) A {
	var res A
	switch p := any(&res).(type) {
	case *int8:
		*p = int8(val)
	case *int16:
		*p = int16(val)
	case *int32:
		*p = int32(val)
	case *int64:
		*p = val
	case *float32:
		*p = float32(val)
	case *float64:
		*p = float64(val)
	}
	return res
}

// numCast converts between instantiated numeric types. The engine only
// widens (column type to aggregate type), so the integer path is exact.
func numCast[To, From common.Numeric](val From) To {
	switch v := any(val).(type) {
	case int8:
		return fromInt64[To](int64(v))
	case int16:
		return fromInt64[To](int64(v))
	case int32:
		return fromInt64[To](int64(v))
	case int64:
		return fromInt64[To](v)
	case float32:
		return fromFloat64[To](float64(v))
	case float64:
		return fromFloat64[To](v)
	}
	panic("usp numeric type")
}
