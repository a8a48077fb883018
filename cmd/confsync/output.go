/*
Copyright 2025 The Confsync Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/abiosoft/lineprefix"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xlab/treeprint"

	"github.com/confsync/confsync/pkg/dependencies"
	"github.com/confsync/confsync/pkg/document"
	"github.com/confsync/confsync/pkg/syncer"
)

var outcomeColors = map[syncer.Outcome]*color.Color{
	syncer.OutcomeApplied:          color.New(color.FgGreen),
	syncer.OutcomeDryRun:           color.New(color.FgCyan),
	syncer.OutcomeSkipped:          color.New(color.FgYellow),
	syncer.OutcomeFailed:           color.New(color.FgRed, color.Bold),
	syncer.OutcomeDependencyFailed: color.New(color.FgRed),
}

// progressPrinter prints item progress prefixed with the command phase.
func progressPrinter(out io.Writer, phase string) syncer.ProgressSink {
	w := lineprefix.New(
		lineprefix.Writer(out),
		lineprefix.Prefix(fmt.Sprintf("[%s]", phase)),
		lineprefix.Color(color.New(color.FgHiBlue)),
	)
	return syncer.ProgressFunc(func(message string, current, total int) {
		fmt.Fprintf(w, "(%d/%d) %s\n", current, total, message)
	})
}

// printContainerTree renders the container hierarchy with item counts.
func printContainerTree(out io.Writer, doc *document.Document) {
	root := doc.Metadata.Source
	if root == "" {
		root = "containers"
	}
	tree := treeprint.NewWithRoot(root)

	var add func(parent treeprint.Tree, name string)
	add = func(parent treeprint.Tree, name string) {
		c, _ := doc.Container(name)
		branch := parent.AddBranch(fmt.Sprintf("%s (%s, %d items)", c.Name, c.Kind, len(doc.ItemsIn(name))))
		for _, child := range doc.Children(name) {
			add(branch, child)
		}
	}
	for _, c := range doc.Containers() {
		if c.Parent == "" {
			add(tree, c.Name)
		}
	}
	fmt.Fprint(out, tree.String())
}

func printCounts(out io.Writer, counts map[document.ItemType]int) {
	for _, t := range document.AllTypes() {
		if n := counts[t]; n > 0 {
			fmt.Fprintf(out, "  %-24s %d\n", t, n)
		}
	}
}

func printValidation(out io.Writer, result *dependencies.ValidationResult) {
	if result == nil {
		return
	}
	fmt.Fprintf(out, "Dependency graph: %d nodes, %d edges\n", result.Statistics.Nodes, result.Statistics.Edges)
	for _, from := range result.Referrers() {
		for _, to := range result.MissingDependencies[from] {
			fmt.Fprintf(out, "  %s %s references undefined %s\n", color.YellowString("missing"), from, to)
		}
	}
	if result.HasCycle {
		fmt.Fprintf(out, "  %s %v\n", color.RedString("cycle"), result.Cycle)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "  %s %s\n", color.YellowString("warning"), w)
	}
}

// printReport prints the outcome of a run.
func printReport(out io.Writer, report *syncer.Report) {
	fmt.Fprintf(out, "Run %s (%s) finished in state %s after %s\n", report.RunID, report.Mode, report.State, report.Duration())

	if report.Classification != nil {
		fmt.Fprintf(out, "Defaults: %d of %d items\n", report.Classification.Defaults, report.Classification.Total)
	}
	if report.Conflicts != nil && report.Conflicts.ConflictCount > 0 {
		fmt.Fprintf(out, "Conflicts: %d\n", report.Conflicts.ConflictCount)
		for _, c := range report.ConflictDetails {
			line := fmt.Sprintf("  %s: %s", c.Key, c.Resolution)
			if c.RenamedTo != "" {
				line += " -> " + c.RenamedTo
			}
			if c.Identical() {
				line += " (identical)"
			}
			fmt.Fprintln(out, line)
		}
	}

	if len(report.Outcomes) > 0 {
		counts := report.OutcomeCounts()
		outcomes := make([]syncer.Outcome, 0, len(counts))
		for o := range counts {
			outcomes = append(outcomes, o)
		}
		sort.Slice(outcomes, func(i, j int) bool { return outcomes[i] < outcomes[j] })
		fmt.Fprintln(out, "Outcomes:")
		for _, o := range outcomes {
			c, ok := outcomeColors[o]
			if !ok {
				c = color.New(color.Reset)
			}
			fmt.Fprintf(out, "  %s %d\n", c.Sprintf("%-34s", o), counts[o])
		}
	}

	for _, w := range report.Warnings {
		fmt.Fprintf(out, "%s %s\n", color.YellowString("warning:"), w)
	}
	for _, e := range report.Errors {
		fmt.Fprintf(out, "%s %v\n", color.RedString("error:"), e)
	}
}

// writeMetrics dumps the registry when a metrics file was requested.
func writeMetrics(path string, registry *prometheus.Registry) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, registry); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
