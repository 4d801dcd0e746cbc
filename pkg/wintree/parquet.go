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
	"errors"
	"fmt"
	"io"

	pqLocal "github.com/xitongsys/parquet-go-source/local"
	pqReader "github.com/xitongsys/parquet-go/reader"

	"github.com/daviszhen/wintree/pkg/common"
)

const parquetReadBatch = 8192

// LoadParquetInt64Column reads one integral column by index from a
// local parquet file. Parquet nulls become the inline int64 null
// sentinel, so the result can feed a segment tree directly.
func LoadParquetInt64Column(path string, colIdx int) ([]int64, error) {
	pqFile, err := pqLocal.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer pqFile.Close()

	reader, err := pqReader.NewParquetColumnReader(pqFile, 1)
	if err != nil {
		return nil, err
	}
	defer reader.ReadStop()

	res := make([]int64, 0, parquetReadBatch)
	for {
		values, _, dls, err := reader.ReadColumnByIndex(int64(colIdx), parquetReadBatch)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if len(values) == 0 {
			break
		}
		for i, field := range values {
			if field == nil || (i < len(dls) && dls[i] == 0) {
				res = append(res, common.NullValue[int64]())
				continue
			}
			switch fVal := field.(type) {
			case int32:
				res = append(res, int64(fVal))
			case int64:
				res = append(res, fVal)
			default:
				return nil, fmt.Errorf("column %d holds %T, need an integral type",
					colIdx, field)
			}
		}
		if len(values) < parquetReadBatch {
			break
		}
	}
	return res, nil
}
