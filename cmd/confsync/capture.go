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

	"github.com/MakeNowJust/heredoc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/confsync/confsync/cmd/confsync/options"
	"github.com/confsync/confsync/pkg/remote"
	"github.com/confsync/confsync/pkg/remote/memory"
	"github.com/confsync/confsync/pkg/snapshot"
	"github.com/confsync/confsync/pkg/syncer"
)

func newCaptureCommand(opts *options.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture an environment into a snapshot",
		Example: heredoc.Doc(`
			# Capture everything
			confsync capture --environment prod.yaml --snapshot prod-snapshot.yaml

			# Capture the tags and addresses of one folder and its ancestors
			confsync capture --environment prod.yaml --snapshot branch.yaml \
			  --containers Branch --types tag,address,address-group
		`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Validate(); err != nil {
				return err
			}
			return runCapture(cmd, opts)
		},
	}
	opts.AddEnvironmentFlag(cmd.Flags())
	opts.AddSnapshotFlag(cmd.Flags())
	opts.AddCaptureFlags(cmd.Flags())
	_ = cmd.MarkFlagRequired("environment")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}

func runCapture(cmd *cobra.Command, opts *options.Options) error {
	ctx := cmd.Context()
	logger := klog.FromContext(ctx)
	out := cmd.OutOrStdout()

	env, err := memory.Load(opts.Environment)
	if err != nil {
		return fmt.Errorf("loading environment: %w", err)
	}
	s, registry, err := newSyncer(opts, env, out, "capture")
	if err != nil {
		return err
	}

	logger.V(2).Info("Starting capture", "environment", opts.Environment)
	report, runErr := s.Capture(ctx)
	printReport(out, report)
	if err := writeMetrics(opts.MetricsFile, registry); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}

	printContainerTree(out, report.Document)
	printCounts(out, report.CountsByType)
	if err := snapshot.Save(opts.Snapshot, report.Document); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	fmt.Fprintf(out, "Wrote %d items to %s\n", report.Document.Len(), opts.Snapshot)

	if len(report.Errors) > 0 {
		return fmt.Errorf("capture finished with %d errors", len(report.Errors))
	}
	return nil
}

// newSyncer builds a syncer over client with retries, progress output and a
// private metrics registry.
func newSyncer(opts *options.Options, client remote.Client, out io.Writer, phase string) (*syncer.Syncer, *prometheus.Registry, error) {
	syncerOpts, err := opts.SyncerOptions()
	if err != nil {
		return nil, nil, err
	}
	syncerOpts.Progress = progressPrinter(out, phase)

	registry := prometheus.NewRegistry()
	s, err := syncer.NewSyncer(
		remote.NewRetryingClient(client, opts.Backoff()),
		syncerOpts,
		syncer.WithMetrics(syncer.NewMetrics(registry)),
	)
	if err != nil {
		return nil, nil, err
	}
	return s, registry, nil
}
