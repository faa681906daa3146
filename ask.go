package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/onnwee/renai/config"
	"github.com/onnwee/renai/sanitize"
)

func newAskCmd(load func() (*config.Config, error)) *cobra.Command {
	var showTier bool

	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Resolve one prompt through the answer tiers and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" {
				return errors.New("empty prompt")
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			c, err := openCore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			res := c.pipeline.ResolveDetailed(cmd.Context(), prompt)
			out := cmd.OutOrStdout()
			if showTier {
				_, _ = fmt.Fprintf(out, "%s %s\n", color.CyanString("[%s]", res.Tier), res.Text)
				return nil
			}
			_, _ = fmt.Fprintln(out, res.Text)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&showTier, "tier", "t", false, "prefix the reply with the tier that answered")
	return cmd
}

func newCacheCmd(load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the response cache",
	}
	cmd.AddCommand(newCacheListCmd(load), newCacheLookupCmd(load))
	return cmd
}

func newCacheListCmd(load func() (*config.Config, error)) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached prompts and responses in store order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			c, err := openCore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			entries := c.cache.Entries(cmd.Context())
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(out, "cache is empty")
				return nil
			}
			for i, e := range entries {
				if limit > 0 && i == limit {
					_, _ = fmt.Fprintf(out, "... %d more\n", len(entries)-limit)
					break
				}
				_, _ = fmt.Fprintf(out, "%s %s\n", color.YellowString("%q", e.Prompt), e.Response)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n entries (0 for all)")
	return cmd
}

func newCacheLookupCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <prompt>",
		Short: "Show which cache tier, if any, answers a prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			c, err := openCore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			key := sanitize.Normalize(strings.Join(args, " "))
			snap := c.cache.Snapshot(cmd.Context())
			out := cmd.OutOrStdout()
			if resp, ok := snap.Exact(key); ok {
				_, _ = fmt.Fprintf(out, "%s %s\n", color.GreenString("exact"), resp)
				return nil
			}
			if k, resp, ok := snap.Contained(key); ok {
				_, _ = fmt.Fprintf(out, "%s via %q: %s\n", color.GreenString("contained"), k, resp)
				return nil
			}
			_, _ = fmt.Fprintln(out, color.RedString("miss"))
			return nil
		},
	}
}
