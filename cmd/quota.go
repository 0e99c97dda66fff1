package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect and manage daily API quotas",
}

var quotaStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current usage for every governed service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		quotas, err := env.quota.List(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SERVICE\tUSED\tLIMIT\tSUCCESS\tERRORS\tALERTED")
		for _, q := range quotas {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%v\n",
				q.Service, q.Used, q.Limit, q.SuccessCount, q.ErrorCount, q.AlertSent)
		}
		return w.Flush()
	},
}

var quotaHistoryLimit int

var quotaHistoryCmd = &cobra.Command{
	Use:   "history <service>",
	Short: "Show archived daily usage for a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.quota.History(ctx, args[0], quotaHistoryLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DATE\tUSED\tSUCCESS\tERRORS")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\n",
				e.Date.Format("2006-01-02"), e.Used, e.SuccessCount, e.ErrorCount)
		}
		return w.Flush()
	},
}

var quotaResetCmd = &cobra.Command{
	Use:   "reset <service>",
	Short: "Archive and zero a service's counters now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.quota.Reset(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("quota for %s reset\n", args[0])
		return nil
	},
}

func init() {
	quotaHistoryCmd.Flags().IntVar(&quotaHistoryLimit, "limit", 30, "max history entries")
	quotaCmd.AddCommand(quotaStatusCmd, quotaHistoryCmd, quotaResetCmd)
	rootCmd.AddCommand(quotaCmd)
}
