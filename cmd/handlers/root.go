/*
Copyright © 2025 Your Name

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
package handlers

import (
	"fmt"
	"os"
	"path/filepath"

	"curator/internal/blob"
	"curator/internal/classify"
	"curator/internal/config"
	"curator/internal/logger"
	"curator/internal/store"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "curator",
		Short: "Curator fetches, classifies, summarizes, and distributes feed content.",
		Long: `Curator runs a content curation pipeline over RSS/Atom feeds:
fetch raw articles, convert them to markdown, judge whether they are worth
summarizing, summarize them with an LLM, and assemble the results into
newsletters.

Each stage is idempotent: re-running skips work whose output already exists
unless --overwrite is given.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("error loading configuration: %w", err)
			}
			cfg = c
			logger.Init(c.App.LogLevel, c.App.LogJSON)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.curator.yaml)")

	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewItemsCmd())
	rootCmd.AddCommand(NewGUIDsCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStores opens the metadata and blob stores and verifies both are
// reachable. Failures here are fatal: no stage runs against missing storage.
func openStores() (*store.Store, *blob.Store, error) {
	st, err := store.NewStore(cfg.App.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	if err := st.CheckResources(); err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("metadata store unreachable: %w", err)
	}

	blobs, err := blob.NewStore(filepath.Join(cfg.App.DataDir, "blobs"))
	if err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("failed to open blob store: %w", err)
	}
	if err := blobs.CheckResources(); err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("blob store unreachable: %w", err)
	}
	return st, blobs, nil
}

// classifierConfig maps the configured thresholds onto the classifier,
// keeping the built-in pattern list.
func classifierConfig(c config.Classifier) classify.Config {
	cfg := classify.DefaultConfig()
	if c.MinContentLength > 0 {
		cfg.PaywallMinContentLength = c.MinContentLength
	}
	if c.MaxLinkRatio > 0 {
		cfg.MaxLinkRatio = c.MaxLinkRatio
	}
	if c.PaywallQuorum > 0 {
		cfg.PaywallQuorum = c.PaywallQuorum
	}
	if c.WorthMinContentLength > 0 {
		cfg.WorthMinContentLength = c.WorthMinContentLength
	}
	if c.MaxPunctuationRatio > 0 {
		cfg.MaxPunctuationRatio = c.MaxPunctuationRatio
	}
	if c.MinSentences > 0 {
		cfg.MinSentences = c.MinSentences
	}
	if c.MinParagraphs > 0 {
		cfg.MinParagraphs = c.MinParagraphs
	}
	if c.WorthQuorum > 0 {
		cfg.WorthQuorum = c.WorthQuorum
	}
	return cfg
}
