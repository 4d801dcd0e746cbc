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

package util

type BenchData struct {
	Rows    int    `tag:"rows"`
	NullPct int    `tag:"nullPct"`
	Parquet string `tag:"parquet"`
	ColIdx  int    `tag:"colIdx"`
}

type BenchTree struct {
	FanOut  int64  `tag:"fanout"`
	Agg     string `tag:"agg"`
	Queries int    `tag:"queries"`
}

type DebugOptions struct {
	Verbose   bool `tag:"verbose"`
	PrintTree bool `tag:"printTree"`
}

type Config struct {
	Data  BenchData    `tag:"data"`
	Tree  BenchTree    `tag:"tree"`
	Debug DebugOptions `tag:"debug"`
}
