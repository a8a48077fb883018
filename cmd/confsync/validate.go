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

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/confsync/confsync/cmd/confsync/options"
	"github.com/confsync/confsync/pkg/defaults"
	"github.com/confsync/confsync/pkg/dependencies"
	"github.com/confsync/confsync/pkg/snapshot"
)

func newValidateCommand(opts *options.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a snapshot for missing references and cycles",
		Long: heredoc.Doc(`
			Validate builds the dependency graph of a snapshot and reports
			references to items the snapshot does not define, dependency cycles
			and the order in which the items would be applied.
		`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Validate(); err != nil {
				return err
			}
			return runValidate(cmd, opts)
		},
	}
	opts.AddSnapshotFlag(cmd.Flags())
	cmd.Flags().BoolVar(&opts.Strict, "strict", opts.Strict,
		"Treat references to undefined items as errors")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}

func runValidate(cmd *cobra.Command, opts *options.Options) error {
	out := cmd.OutOrStdout()

	doc, err := snapshot.Load(opts.Snapshot)
	if err != nil {
		return err
	}
	if opts.Defaults != "ignore" {
		stats := defaults.NewClassifier().Classify(doc)
		fmt.Fprintf(out, "Defaults: %d of %d items\n", stats.Defaults, stats.Total)
	}

	resolver := dependencies.NewResolver()
	result := resolver.Validate(doc)
	printValidation(out, result)
	if result.HasCycle {
		return &dependencies.CyclicDependencyError{Cycle: result.Cycle}
	}

	levels, err := resolver.BuildGraph(doc).Levels()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Apply levels:")
	for i, level := range levels {
		fmt.Fprintf(out, "  %d:", i)
		for _, key := range level {
			if doc.Has(key) {
				fmt.Fprintf(out, " %s", key)
			}
		}
		fmt.Fprintln(out)
	}

	if opts.Strict && result.MissingCount() > 0 {
		return fmt.Errorf("%d references to undefined items", result.MissingCount())
	}
	return nil
}
