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
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MakeNowJust/heredoc"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/component-base/logs"
	"k8s.io/klog/v2"

	"github.com/confsync/confsync/cmd/confsync/options"
)

func main() {
	logs.InitLogs()
	defer logs.FlushLogs()

	klog.InitFlags(nil)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command := newRootCommand()
	if err := command.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		logs.FlushLogs()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := options.NewOptions()

	cmd := &cobra.Command{
		Use:   "confsync",
		Short: "Capture configuration from one environment and apply it to another",
		Long: heredoc.Doc(`
			confsync copies configuration items between environments.

			A capture reads the containers and items of an environment into a
			snapshot file. An apply writes a snapshot to another environment in
			dependency order, resolving name conflicts with the selected strategy.
			Environments are YAML files in the snapshot format.
		`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.NoColor {
				color.NoColor = true
			}
		},
	}

	opts.AddFlags(cmd.PersistentFlags())
	cmd.PersistentFlags().AddFlagSet(pflag.CommandLine)

	cmd.AddCommand(
		newCaptureCommand(opts),
		newValidateCommand(opts),
		newApplyCommand(opts),
	)
	return cmd
}
