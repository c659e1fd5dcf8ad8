// Copyright 2025 The Xyn Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xynlabs/xyn/internal/config"
	"github.com/xynlabs/xyn/internal/daemon"
	"github.com/xynlabs/xyn/internal/log"
)

func newServeCmd() *cobra.Command {
	var noWorkers bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and worker slots in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(daemon.Options{
				ServeAPI:   true,
				RunWorkers: !noWorkers,
				Version:    version,
			})
		},
	}
	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "serve the API only, without claiming runs")
	return cmd
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run worker slots only, without the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(daemon.Options{
				RunWorkers: true,
				Version:    version,
			})
		},
	}
}

func runDaemon(opts daemon.Options) error {
	logger := log.New(log.FromEnv())

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, cfg, opts, logger)
	if err != nil {
		return err
	}
	return d.Run(ctx)
}
