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
	"github.com/xynlabs/xyn/internal/log"
	"github.com/xynlabs/xyn/internal/packs"
	"github.com/xynlabs/xyn/internal/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply core schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(log.FromEnv())

			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := store.Open(ctx, cfg.DatabaseURL, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Bootstrap(ctx, true, nil); err != nil {
				return err
			}

			applied, err := st.AppliedMigrations(ctx)
			if err != nil {
				return err
			}
			logger.Info("schema up to date", "applied", len(applied))
			return nil
		},
	}
}

func newSeedPacksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-packs <dir>",
		Short: "Register pack definitions from a directory of YAML files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(log.FromEnv())

			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := store.Open(ctx, cfg.DatabaseURL, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			refs, err := packs.SeedDir(ctx, st, args[0], logger)
			if err != nil {
				return err
			}
			logger.Info("packs seeded", "count", len(refs), "refs", refs)
			return nil
		},
	}
}
