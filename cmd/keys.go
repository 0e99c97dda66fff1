package main

import (
	"fmt"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/relaycrm/enrich-core/internal/ai"
	"github.com/relaycrm/enrich-core/internal/model"
)

var (
	keysModel    string
	keysDisabled bool
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage stored AI provider API keys",
}

var keysSetCmd = &cobra.Command{
	Use:   "set <provider> <api-key>",
	Short: "Store a provider key, encrypted at rest",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider := args[0]
		if !slices.Contains(ai.Providers(), provider) {
			return eris.Errorf("unknown provider %q (one of %v)", provider, ai.Providers())
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.keys.Save(ctx, provider, args[1], keysModel, !keysDisabled); err != nil {
			return err
		}
		fmt.Printf("key for %s saved (%s)\n", provider, model.MaskAPIKey(args[1]))
		return nil
	},
}

var keysShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show which providers currently resolve a key",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		for _, provider := range ai.Providers() {
			rec, err := env.keys.Resolve(ctx, provider)
			if err != nil {
				fmt.Printf("  %-10s unavailable: %v\n", provider, err)
				continue
			}
			origin := "stored"
			if rec.FromEnv {
				origin = "env"
			}
			fmt.Printf("  %-10s %s (%s, model %s)\n",
				provider, model.MaskAPIKey(rec.Secret), origin, rec.Model)
		}
		return nil
	},
}

func init() {
	keysSetCmd.Flags().StringVar(&keysModel, "model", "", "default model for this provider")
	keysSetCmd.Flags().BoolVar(&keysDisabled, "disabled", false, "store the key but keep the provider disabled")
	keysCmd.AddCommand(keysSetCmd, keysShowCmd)
	rootCmd.AddCommand(keysCmd)
}
