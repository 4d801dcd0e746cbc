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
	"context"
	"fmt"
	"math"

	"github.com/huandu/go-clone"
	"github.com/tidwall/btree"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/wintree/pkg/common"
	"github.com/daviszhen/wintree/pkg/util"
)

// WindowSpec describes one window aggregate expression: the kind, the
// tree fan-out and a rows-mode frame around the current row.
type WindowSpec struct {
	Kind      AggKind
	FanOut    int64
	Preceding int64
	Following int64
	// unbounded edges override the row offsets
	UnboundedPreceding bool
	UnboundedFollowing bool
	// collation of the order column, drives the null range position
	NullsFirst bool
}

func (spec *WindowSpec) Copy() *WindowSpec {
	return clone.Clone(spec).(*WindowSpec)
}

func (spec *WindowSpec) String() string {
	return fmt.Sprintf("%v(fanout %d, preceding %d, following %d)",
		spec.Kind, spec.FanOut, spec.Preceding, spec.Following)
}

// WindowContext evaluates one window aggregate over a partitioned,
// sorted row set. It owns one segment tree per partition; trees for
// different partitions are built in parallel since they share no
// mutable state.
//
// orderedIdx is partition-major: partition i covers
// orderedIdx[offsets[i] : offsets[i+1]] (the last partition runs to the
// end). originalIdx maps a logical sorted position to the true row
// offset of both inputCol and orderCol.
type WindowContext[I, A common.Numeric] struct {
	spec        *WindowSpec
	inputCol    []I
	inputColTyp common.LType
	orderCol    []I
	originalIdx []int32
	orderedIdx  []int64
	offsets     []int64

	trees        []*SegmentTree[I, A]
	treeDepths   []int64
	nullStartPos []int64
	nullEndPos   []int64
	partIdx      btree.Map[int64, int]
}

func NewWindowContext[I, A common.Numeric](
	spec *WindowSpec,
	inputCol []I,
	inputColTyp common.LType,
	orderCol []I,
	originalIdx []int32,
	orderedIdx []int64,
	offsets []int64,
) (*WindowContext[I, A], error) {
	if !inputColTyp.IsNumeric() {
		return nil, fmt.Errorf(
			"window aggregate over frame on a column type %v is not supported",
			inputColTyp)
	}
	if util.Empty(offsets) || offsets[0] != 0 {
		return nil, fmt.Errorf("partition offsets must start at 0")
	}
	wc := &WindowContext[I, A]{
		spec:         spec.Copy(),
		inputCol:     inputCol,
		inputColTyp:  inputColTyp,
		orderCol:     orderCol,
		originalIdx:  originalIdx,
		orderedIdx:   orderedIdx,
		offsets:      offsets,
		trees:        make([]*SegmentTree[I, A], len(offsets)),
		treeDepths:   make([]int64, len(offsets)),
		nullStartPos: make([]int64, len(offsets)),
		nullEndPos:   make([]int64, len(offsets)),
	}
	for i, start := range offsets {
		wc.partIdx.Set(start, i)
	}
	return wc, nil
}

func (wc *WindowContext[I, A]) PartitionCount() int {
	return len(wc.offsets)
}

func (wc *WindowContext[I, A]) partitionSize(partitionIdx int) int64 {
	if partitionIdx+1 < len(wc.offsets) {
		return wc.offsets[partitionIdx+1] - wc.offsets[partitionIdx]
	}
	return int64(len(wc.orderedIdx)) - wc.offsets[partitionIdx]
}

// PartitionOf resolves a logical row to its partition index.
func (wc *WindowContext[I, A]) PartitionOf(row int64) int {
	res := -1
	wc.partIdx.Descend(row, func(start int64, idx int) bool {
		res = idx
		return false
	})
	util.AssertFunc(res >= 0)
	return res
}

// Tree returns the segment tree of a partition; nil for an empty one.
func (wc *WindowContext[I, A]) Tree(partitionIdx int) *SegmentTree[I, A] {
	return wc.trees[partitionIdx]
}

// TreeDepth reports the leaf depth of a partition's tree, 0 for an
// empty partition.
func (wc *WindowContext[I, A]) TreeDepth(partitionIdx int) int64 {
	return wc.treeDepths[partitionIdx]
}

// NullRange reports the [start, end) leaf-slot range holding the order
// column's nulls within a partition.
func (wc *WindowContext[I, A]) NullRange(partitionIdx int) IndexPair {
	return IndexPair{
		First:  wc.nullStartPos[partitionIdx],
		Second: wc.nullEndPos[partitionIdx],
	}
}

// BuildTrees constructs every partition's tree. Each tree is privately
// owned by its builder goroutine, so the only coordination is the
// errgroup join.
func (wc *WindowContext[I, A]) BuildTrees(ctx context.Context) error {
	eg, _ := errgroup.WithContext(ctx)
	for i := 0; i < len(wc.offsets); i++ {
		partitionIdx := i
		eg.Go(func() (err error) {
			defer func() {
				if v := recover(); v != nil {
					err = util.ConvertPanicError(v)
				}
			}()
			return wc.buildTreeForPartition(partitionIdx)
		})
	}
	return eg.Wait()
}

func (wc *WindowContext[I, A]) buildTreeForPartition(partitionIdx int) error {
	partitionSize := wc.partitionSize(partitionIdx)
	if partitionSize <= 0 {
		// empty partition contributes no output rows
		wc.treeDepths[partitionIdx] = 0
		return nil
	}
	util.Debug("build aggregation tree for partition",
		zap.Int("partition", partitionIdx),
		zap.Int64("numElems", partitionSize))
	orderedIdxForPartition := wc.orderedIdx[wc.offsets[partitionIdx]:]
	// the order column is sorted, so its nulls occupy one contiguous
	// range per partition
	nullRange := wc.computeNullRangeOfSortedPartition(partitionIdx, orderedIdxForPartition)
	wc.nullStartPos[partitionIdx] = nullRange.First
	wc.nullEndPos[partitionIdx] = nullRange.Second + 1
	tree, err := NewSegmentTree[I, A](
		wc.inputCol,
		wc.inputColTyp,
		wc.originalIdx,
		orderedIdxForPartition,
		nullRange,
		partitionSize,
		wc.spec.Kind,
		wc.spec.FanOut)
	if err != nil {
		return err
	}
	wc.trees[partitionIdx] = tree
	wc.treeDepths[partitionIdx] = tree.LeafDepth()
	return nil
}

func (wc *WindowContext[I, A]) computeNullRangeOfSortedPartition(
	partitionIdx int, orderedIdxForPartition []int64) IndexPair {
	nullRange := IndexPair{
		First:  math.MaxInt64,
		Second: math.MinInt64,
	}
	partitionSize := wc.partitionSize(partitionIdx)
	if partitionSize <= 0 {
		return nullRange
	}
	nullVal := common.NullValue[I]()
	colAt := func(slot int64) I {
		return wc.orderCol[wc.originalIdx[orderedIdxForPartition[slot]]]
	}
	if wc.spec.NullsFirst && colAt(0) == nullVal {
		nullRangeMax := int64(1)
		for nullRangeMax < partitionSize && colAt(nullRangeMax) == nullVal {
			nullRangeMax++
		}
		nullRange.First = 0
		nullRange.Second = nullRangeMax - 1
	} else if !wc.spec.NullsFirst && colAt(partitionSize-1) == nullVal {
		nullRangeMin := partitionSize - 2
		for nullRangeMin >= 0 && colAt(nullRangeMin) == nullVal {
			nullRangeMin--
		}
		nullRange.First = nullRangeMin + 1
		nullRange.Second = partitionSize - 1
	}
	return nullRange
}

// frameOf clamps the spec's frame around a row to its partition.
func (wc *WindowContext[I, A]) frameOf(rowInPartition int64, partitionSize int64) IndexPair {
	first := rowInPartition - wc.spec.Preceding
	second := rowInPartition + wc.spec.Following
	if wc.spec.UnboundedPreceding || first < 0 {
		first = 0
	}
	if wc.spec.UnboundedFollowing || second > partitionSize-1 {
		second = partitionSize - 1
	}
	return IndexPair{First: first, Second: second}
}

// Evaluate computes the aggregate for every logical row into output,
// one scalar per row. output must hold len(orderedIdx) entries and is
// caller-allocated.
func (wc *WindowContext[I, A]) Evaluate(output []A) error {
	numRows := int64(len(wc.orderedIdx))
	if int64(len(output)) < numRows {
		return fmt.Errorf("output buffer holds %d rows, need %d", len(output), numRows)
	}
	for row := int64(0); row < numRows; row++ {
		partitionIdx := wc.PartitionOf(row)
		tree := wc.trees[partitionIdx]
		if tree == nil {
			return fmt.Errorf("partition %d has no aggregation tree; call BuildTrees first",
				partitionIdx)
		}
		rowInPartition := row - wc.offsets[partitionIdx]
		frame := wc.frameOf(rowInPartition, wc.partitionSize(partitionIdx))
		output[row] = tree.Query(frame)
	}
	return nil
}
