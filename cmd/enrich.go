package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaycrm/enrich-core/internal/enrich"
)

var enrichServices []string

var enrichCmd = &cobra.Command{
	Use:   "enrich <customer-id>",
	Short: "Run enrichment for one customer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := env.orch.Run(ctx, args[0], enrichServices)
		if err != nil {
			return err
		}

		fmt.Printf("Enrichment for %s (website: %s)\n\n", out.CustomerID, out.Website)
		for name, res := range out.Services {
			switch {
			case res.Success:
				fmt.Printf("  %-14s ok\n", name)
			case res.QuotaReached:
				fmt.Printf("  %-14s quota exhausted\n", name)
			default:
				fmt.Printf("  %-14s failed: %s\n", name, res.Err)
			}
		}
		for _, res := range out.AI {
			if res.Err != "" {
				fmt.Printf("  ai/%-11s failed: %s\n", res.Provider, res.Err)
			} else {
				fmt.Printf("  ai/%-11s ok (%s)\n", res.Provider, res.Completion.Model)
			}
		}

		if out.Enrichment != nil {
			fmt.Printf("\nDiscovered fields (enrichment %s, pending review):\n%s\n",
				out.Enrichment.ID, enrich.MarshalFields(out.Enrichment.Fields))
		}
		return nil
	},
}

func init() {
	enrichCmd.Flags().StringSliceVar(&enrichServices, "services", nil,
		"services to run (default all, including ai_discovery)")
	rootCmd.AddCommand(enrichCmd)
}
