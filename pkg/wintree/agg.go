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
	"strings"

	"github.com/daviszhen/wintree/pkg/common"
)

type AggKind int

const (
	AGG_MIN AggKind = iota
	AGG_MAX
	AGG_SUM
	AGG_COUNT
	AGG_AVG
)

var aggKindToStr = map[AggKind]string{
	AGG_MIN:   "min",
	AGG_MAX:   "max",
	AGG_SUM:   "sum",
	AGG_COUNT: "count",
	AGG_AVG:   "avg",
}

func (kind AggKind) String() string {
	if s, has := aggKindToStr[kind]; has {
		return s
	}
	panic(fmt.Sprintf("usp %d", int(kind)))
}

func ParseAggKind(s string) (AggKind, error) {
	for kind, str := range aggKindToStr {
		if str == strings.ToLower(s) {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown aggregate kind %s", s)
}

// IsDerived reports whether the kind needs the (sum,count) pair
// representation instead of the flat aggregate array.
func (kind AggKind) IsDerived() bool {
	return kind == AGG_AVG
}

// aggPolicy is the single exclusion-then-combine contract shared by the
// builder and the query engine. Children equal to the null sentinel or
// the identity value contribute nothing; if every child is excluded the
// result is the null sentinel.
type aggPolicy[A common.Numeric] interface {
	// Identity fills padding leaves and out-of-range search results.
	Identity() A
	// Combine folds child values (or a contiguous slice of leaf nodes).
	Combine(vals []A) A
	// Finalize maps the raw search result to the query output.
	Finalize(raw A) A
}

type minPolicy[A common.Numeric] struct {
	nullVal      A
	invalidVal   A
	inputNullVal A
}

func (p *minPolicy[A]) Identity() A {
	return p.invalidVal
}

func (p *minPolicy[A]) Combine(vals []A) A {
	allNulls := true
	minVal := common.MaxValue[A]()
	for _, val := range vals {
		if val != p.nullVal && val != p.invalidVal {
			allNulls = false
			if val < minVal {
				minVal = val
			}
		}
	}
	if allNulls {
		return p.nullVal
	}
	return minVal
}

// min passes input values through unchanged, so an all-null result must
// render in the input column's type.
func (p *minPolicy[A]) Finalize(raw A) A {
	if raw == p.nullVal {
		return p.inputNullVal
	}
	return raw
}

type maxPolicy[A common.Numeric] struct {
	nullVal      A
	invalidVal   A
	inputNullVal A
}

func (p *maxPolicy[A]) Identity() A {
	return p.invalidVal
}

func (p *maxPolicy[A]) Combine(vals []A) A {
	allNulls := true
	maxVal := common.MinValue[A]()
	for _, val := range vals {
		if val != p.nullVal && val != p.invalidVal {
			allNulls = false
			if val > maxVal {
				maxVal = val
			}
		}
	}
	if allNulls {
		return p.nullVal
	}
	return maxVal
}

func (p *maxPolicy[A]) Finalize(raw A) A {
	if raw == p.nullVal {
		return p.inputNullVal
	}
	return raw
}

// sumPolicy also serves count: count leaves store 1 per non-null row,
// so summing them yields the count.
type sumPolicy[A common.Numeric] struct {
	nullVal    A
	invalidVal A
}

func (p *sumPolicy[A]) Identity() A {
	return p.invalidVal
}

func (p *sumPolicy[A]) Combine(vals []A) A {
	allNulls := true
	var aggVal A
	for _, val := range vals {
		if val != p.nullVal && val != p.invalidVal {
			aggVal += val
			allNulls = false
		}
	}
	if allNulls {
		return p.nullVal
	}
	return aggVal
}

func (p *sumPolicy[A]) Finalize(raw A) A {
	return raw
}

// SumAndCountPair is the node cell of the derived representation.
type SumAndCountPair[A common.Numeric] struct {
	Sum   A
	Count A
}

// derivedPolicy applies the exclusion rule to (sum,count) cells. The
// null/identity test runs on the sum only, matching the simple path.
type derivedPolicy[A common.Numeric] struct {
	nullVal    A
	invalidVal A
}

func (p *derivedPolicy[A]) Identity() SumAndCountPair[A] {
	return SumAndCountPair[A]{Sum: p.invalidVal, Count: 0}
}

func (p *derivedPolicy[A]) Combine(vals []SumAndCountPair[A]) SumAndCountPair[A] {
	res := SumAndCountPair[A]{}
	allNulls := true
	for _, pair := range vals {
		if pair.Sum != p.nullVal && pair.Sum != p.invalidVal {
			res.Sum += pair.Sum
			res.Count += pair.Count
			allNulls = false
		}
	}
	if allNulls {
		return SumAndCountPair[A]{Sum: p.nullVal, Count: 0}
	}
	return res
}
