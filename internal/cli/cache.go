package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"chant/internal/cache"
	"chant/internal/display"
	"chant/internal/logger"
	"chant/internal/registry"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear cached step sequences",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached step sequences",
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, closeFn, err := openCacheService(cmd)
		if err != nil {
			return err
		}
		defer closeFn()
		recs, err := svc.List(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), display.FormatCacheRecords(recs))
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [action-id]",
	Short: "Clear the whole cache, or the entries of one action",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := openCacheService(cmd)
		if err != nil {
			return err
		}
		defer closeFn()
		if len(args) == 1 {
			if err := svc.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared cached steps for %s.\n", args[0])
			return nil
		}
		if err := svc.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
		return nil
	},
}

func openCacheService(cmd *cobra.Command) (*cache.Service, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	repo, err := cache.Open(cmd.Context(), cfg.Cache)
	if err != nil {
		return nil, nil, fmt.Errorf("open cache: %w", err)
	}
	svc := cache.NewService(repo, registry.New(), logger.Log)
	return svc, func() { _ = repo.Close() }, nil
}

func init() {
	cacheCmd.AddCommand(cacheListCmd, cacheClearCmd)
}
