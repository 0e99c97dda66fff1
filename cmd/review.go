package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/relaycrm/enrich-core/internal/enrich"
	"github.com/relaycrm/enrich-core/internal/model"
)

var (
	reviewConfirm  []string
	reviewReject   []string
	reviewEdits    map[string]string
	reviewReviewer string
)

var reviewCmd = &cobra.Command{
	Use:   "review <enrichment-id>",
	Short: "Confirm, reject, or edit discovered fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := enrich.ReviewRequest{ReviewedBy: reviewReviewer}
		for _, f := range reviewConfirm {
			req.Decisions = append(req.Decisions, enrich.FieldDecision{Field: f, Action: model.ReviewConfirm})
		}
		for _, f := range reviewReject {
			req.Decisions = append(req.Decisions, enrich.FieldDecision{Field: f, Action: model.ReviewReject})
		}
		for f, v := range reviewEdits {
			req.Decisions = append(req.Decisions, enrich.FieldDecision{Field: f, Action: model.ReviewEdit, Value: v})
		}
		if len(req.Decisions) == 0 {
			return eris.New("nothing to do: pass --confirm, --reject, or --edit")
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.orch.Review(ctx, args[0], req)
		if err != nil {
			return err
		}

		fmt.Printf("Enrichment %s is now %s\n", rec.ID, rec.Status)
		for name, st := range rec.FieldStatuses {
			fmt.Printf("  %-16s %s\n", name, st)
		}
		return nil
	},
}

func init() {
	reviewCmd.Flags().StringSliceVar(&reviewConfirm, "confirm", nil, "fields to confirm")
	reviewCmd.Flags().StringSliceVar(&reviewReject, "reject", nil, "fields to reject")
	reviewCmd.Flags().StringToStringVar(&reviewEdits, "edit", nil, "field=value replacements (implies confirm)")
	reviewCmd.Flags().StringVar(&reviewReviewer, "by", "", "reviewer name recorded on the enrichment")
	rootCmd.AddCommand(reviewCmd)
}
