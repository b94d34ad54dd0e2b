package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"ex-remover/internal/config"
	"ex-remover/internal/domain"
	"ex-remover/internal/usecase"
)

func newCreditsCommand(ctx *commandContext) *cobra.Command {
	var (
		grant   int64
		buy     string
		confirm bool
	)
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Show or top up this installation's credits",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			be, err := ctx.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer be.Close()
			if grant > 0 || buy != "" || confirm {
				id, err := ctx.installationID()
				if err != nil {
					return err
				}
				release, err := ctx.lockInstallation(cmd.Context(), be, id)
				if err != nil {
					return err
				}
				defer release()
			}
			led, err := ctx.openLedger(cmd.Context(), be)
			if err != nil {
				return err
			}

			switch {
			case grant > 0:
				if err := led.Grant(cmd.Context(), grant); err != nil {
					return err
				}
				fmt.Fprintf(out, "granted %d credits\n", grant)
			case buy != "":
				pkg, ok := ctx.config.Credits.Package(buy)
				if !ok {
					return fmt.Errorf("%w: %s", domain.ErrUnknownPackage, buy)
				}
				if err := led.StartPurchase(cmd.Context(), pkg.Credits); err != nil {
					return err
				}
				fmt.Fprintf(out, "purchase of %d credits started\n", pkg.Credits)
				if pkg.Link != "" {
					fmt.Fprintf(out, "complete checkout at %s, then run `exremover credits --confirm`\n", pkg.Link)
				}
			case confirm:
				n, err := led.ConfirmPurchase(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "payment received: %d credits added\n", n)
			}

			pending, err := led.PendingPurchase(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, creditsTable(led, ctx.config.Credits.Packages, pending))
			return nil
		},
	}
	cmd.Flags().Int64Var(&grant, "grant", 0, "Add credits directly (operator top-up)")
	cmd.Flags().StringVar(&buy, "buy", "", "Start buying a credit package")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "Confirm the pending purchase after checkout")
	cmd.MarkFlagsMutuallyExclusive("grant", "buy", "confirm")
	return cmd
}

func creditsTable(led *usecase.CreditLedger, pkgs []config.CreditPackage, pending int64) string {
	rows := [][]string{
		{"installation", led.Installation()},
		{"balance", strconv.FormatInt(led.Balance(), 10)},
	}
	if pending > 0 {
		rows = append(rows, []string{"pending purchase", strconv.FormatInt(pending, 10)})
	}
	for _, p := range pkgs {
		rows = append(rows, []string{"package " + p.ID, fmt.Sprintf("%d credits", p.Credits)})
	}
	return renderTable([]string{"", ""}, rows, []columnAlignment{alignLeft, alignRight})
}

func newInfluencerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "influencer CODE",
		Short: "Show photos processed and payout for an influencer code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			be, err := ctx.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer be.Close()
			t, err := usecase.NewInfluencerTracker(be.Store, ctx.logger()).Tally(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Code", "Photos", "Payout"},
				[][]string{{t.Code, strconv.FormatInt(t.Photos, 10), "$" + t.PayoutString()}},
				[]columnAlignment{alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
}
