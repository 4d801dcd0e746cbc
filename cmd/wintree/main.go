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

package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/daviszhen/wintree/pkg/common"
	"github.com/daviszhen/wintree/pkg/util"
	"github.com/daviszhen/wintree/pkg/wintree"
)

func init() {
	cobra.OnInitialize(loadConfig)
	initBenchCmd()
	initConfigCmd()
}

var benchCfg = &util.Config{}

///root cmd

var info = "wintree"
var RootCmd = &cobra.Command{
	Use:          "wintree",
	Short:        info,
	Long:         info,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("use wintree --help or -h")
	},
}

//bench cmd

var benchInfo = "build window aggregation trees and time range queries"
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: benchInfo,
	Long:  benchInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		initBenchCfg()
		if benchCfg.Debug.Verbose {
			util.SetupLogger(zapcore.DebugLevel)
		}
		return runBench(benchCfg)
	},
}

func initBenchCfg() {
	benchCfg.Data.Rows = viper.GetInt("data.rows")
	benchCfg.Data.NullPct = viper.GetInt("data.nullPct")
	benchCfg.Data.Parquet = viper.GetString("data.parquet")
	benchCfg.Data.ColIdx = viper.GetInt("data.colIdx")
	benchCfg.Tree.FanOut = viper.GetInt64("tree.fanout")
	benchCfg.Tree.Agg = viper.GetString("tree.agg")
	benchCfg.Tree.Queries = viper.GetInt("tree.queries")
	benchCfg.Debug.Verbose = viper.GetBool("debug.verbose")
	benchCfg.Debug.PrintTree = viper.GetBool("debug.printTree")
}

func initBenchCmd() {
	RootCmd.AddCommand(benchCmd)
	benchCmd.Flags().Int("rows", 1<<16, "synthetic column length")
	benchCmd.Flags().Int("null_pct", 10, "percentage of null rows in the synthetic column")
	benchCmd.Flags().String("parquet", "", "load the column from this parquet file instead")
	benchCmd.Flags().Int("col_idx", 0, "column index inside the parquet file")
	benchCmd.Flags().Int64("fanout", 8, "tree fanout")
	benchCmd.Flags().String("agg", "sum", "aggregate kind. min, max, sum, count, avg")
	benchCmd.Flags().Int("queries", 10000, "number of random range queries")
	benchCmd.Flags().Bool("verbose", false, "debug logging")
	benchCmd.Flags().Bool("print_tree", false, "dump the node array as a tree")

	viper.BindPFlag("data.rows", benchCmd.Flags().Lookup("rows"))
	viper.BindPFlag("data.nullPct", benchCmd.Flags().Lookup("null_pct"))
	viper.BindPFlag("data.parquet", benchCmd.Flags().Lookup("parquet"))
	viper.BindPFlag("data.colIdx", benchCmd.Flags().Lookup("col_idx"))
	viper.BindPFlag("tree.fanout", benchCmd.Flags().Lookup("fanout"))
	viper.BindPFlag("tree.agg", benchCmd.Flags().Lookup("agg"))
	viper.BindPFlag("tree.queries", benchCmd.Flags().Lookup("queries"))
	viper.BindPFlag("debug.verbose", benchCmd.Flags().Lookup("verbose"))
	viper.BindPFlag("debug.printTree", benchCmd.Flags().Lookup("print_tree"))
}

//config cmd

var configInfo = "print the effective config as toml"
var configCmd = &cobra.Command{
	Use:   "config",
	Short: configInfo,
	Long:  configInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		initBenchCfg()
		return toml.NewEncoder(os.Stdout).Encode(benchCfg)
	},
}

func initConfigCmd() {
	RootCmd.AddCommand(configCmd)
}

var defCfgFilePaths = []string{".", "etc/wintree"}
var cfgFileName = "wintree.toml"

func loadConfig() {
	for _, dirPath := range defCfgFilePaths {
		fpath := filepath.Join(dirPath, cfgFileName)
		if util.FileIsValid(fpath) {
			viper.SetConfigFile(fpath)
			err := viper.ReadInConfig()
			if err != nil {
				util.Error("viper load config file failed",
					zap.String("fpath", fpath),
					zap.Error(err))
				continue
			}
			break
		}
	}
}

func runBench(cfg *util.Config) error {
	kind, err := wintree.ParseAggKind(cfg.Tree.Agg)
	if err != nil {
		return err
	}
	var inputCol []int64
	if cfg.Data.Parquet != "" {
		inputCol, err = wintree.LoadParquetInt64Column(cfg.Data.Parquet, cfg.Data.ColIdx)
		if err != nil {
			return err
		}
	} else {
		inputCol = genColumn(cfg.Data.Rows, cfg.Data.NullPct)
	}
	numElems := int64(len(inputCol))
	if numElems == 0 {
		return fmt.Errorf("empty input column")
	}

	originalIdx := make([]int32, numElems)
	orderedIdx := make([]int64, numElems)
	for i := int64(0); i < numElems; i++ {
		originalIdx[i] = int32(i)
		orderedIdx[i] = i
	}
	spec := &wintree.WindowSpec{
		Kind:               kind,
		FanOut:             cfg.Tree.FanOut,
		UnboundedPreceding: true,
		UnboundedFollowing: true,
	}
	wc, err := wintree.NewWindowContext[int64, int64](
		spec, inputCol, common.BigintType(), inputCol,
		originalIdx, orderedIdx, []int64{0})
	if err != nil {
		return err
	}

	buildStart := time.Now()
	if err = wc.BuildTrees(context.Background()); err != nil {
		return err
	}
	tree := wc.Tree(0)
	util.Info("tree built",
		zap.Int64("numElems", numElems),
		zap.Int64("treeSize", tree.TreeSize()),
		zap.Int64("leafDepth", tree.LeafDepth()),
		zap.Duration("elapsed", time.Since(buildStart)))

	if cfg.Debug.PrintTree {
		fmt.Println(tree.Explain())
	}

	queryStart := time.Now()
	for i := 0; i < cfg.Tree.Queries; i++ {
		first := rand.Int63n(numElems)
		second := first + rand.Int63n(numElems-first)
		tree.Query(wintree.IndexPair{First: first, Second: second})
	}
	util.Info("queries done",
		zap.Int("queries", cfg.Tree.Queries),
		zap.Duration("elapsed", time.Since(queryStart)))
	return nil
}

func genColumn(rows int, nullPct int) []int64 {
	col := make([]int64, rows)
	for i := range col {
		if rand.Intn(100) < nullPct {
			col[i] = common.NullValue[int64]()
		} else {
			col[i] = rand.Int63n(1 << 20)
		}
	}
	return col
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
