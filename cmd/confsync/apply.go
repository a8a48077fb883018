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
	"k8s.io/klog/v2"

	"github.com/confsync/confsync/cmd/confsync/options"
	"github.com/confsync/confsync/pkg/remote/memory"
	"github.com/confsync/confsync/pkg/snapshot"
)

func newApplyCommand(opts *options.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a snapshot to an environment",
		Long: heredoc.Doc(`
			Apply writes the items of a snapshot to an environment, dependencies
			first. Items whose name is already taken in the environment are
			handled with the conflict strategy: skip leaves the existing item,
			overwrite updates it, rename creates the item under a free name and
			points its referrers at it.

			The environment file is rewritten unless --dry-run is set.
		`),
		Example: heredoc.Doc(`
			confsync apply --snapshot prod-snapshot.yaml --environment lab.yaml \
			  --strategy rename --strategy-override tag=skip --dry-run
		`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Validate(); err != nil {
				return err
			}
			return runApply(cmd, opts)
		},
	}
	opts.AddEnvironmentFlag(cmd.Flags())
	opts.AddSnapshotFlag(cmd.Flags())
	opts.AddApplyFlags(cmd.Flags())
	_ = cmd.MarkFlagRequired("environment")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}

func runApply(cmd *cobra.Command, opts *options.Options) error {
	ctx := cmd.Context()
	logger := klog.FromContext(ctx)
	out := cmd.OutOrStdout()

	doc, err := snapshot.Load(opts.Snapshot)
	if err != nil {
		return err
	}
	env, err := memory.Load(opts.Environment)
	if err != nil {
		return fmt.Errorf("loading environment: %w", err)
	}
	s, registry, err := newSyncer(opts, env, out, "apply")
	if err != nil {
		return err
	}

	logger.V(2).Info("Starting apply", "snapshot", opts.Snapshot, "environment", opts.Environment, "items", doc.Len())
	report, runErr := s.Apply(ctx, doc)
	printReport(out, report)
	if err := writeMetrics(opts.MetricsFile, registry); err != nil {
		return err
	}

	// Partial writes of a cancelled run are persisted too.
	if !opts.DryRun && len(env.Writes()) > 0 {
		if err := env.Save(opts.Environment); err != nil {
			return fmt.Errorf("saving environment: %w", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	if len(report.Errors) > 0 {
		return fmt.Errorf("apply finished with %d errors", len(report.Errors))
	}
	return nil
}
