// Package main implements the borrowcheck CLI tool.
//
// borrowcheck exercises borrowcell cells from the command line: it replays
// the reentrancy and contention scenarios the cells are built for and runs
// randomized stress workloads against a blocking cell, reporting the borrow
// bookkeeping and metrics afterwards.
//
// Usage:
//
//	borrowcheck scenario reentrant            # borrow, nested borrow, restore: 0->1->2->3
//	borrowcheck scenario reentrant --depth 3 --after-restore=false
//	borrowcheck scenario contention           # readers vs. an intermittent writer
//	borrowcheck stress --goroutines 64        # randomized workload
//	borrowcheck version --require v0.2        # version and compatibility check
//
// Every flag can also be set through a BORROWCHECK_ environment variable
// (BORROWCHECK_LOG_LEVEL, BORROWCHECK_GOROUTINES, ...) or a config file
// passed with --config.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
