package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/gotrs-caseflow/internal/config"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Validate and list the configured inbound accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, err := config.LoadAccounts(cfg.Inbound.AccountsFile)
		if err != nil {
			return err
		}
		secrets, err := config.NewSecretValidator(cfg.Security.EncryptionKey)
		if err != nil {
			return err
		}
		if err := secrets.ValidateAccounts(reg.All()); err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tACTIVE\tMAILBOX\tCREATE CASE\tDISTRIBUTION\tTEAM\tREPLY")
		for _, a := range reg.All() {
			mailbox := "-"
			if a.Host != "" {
				mailbox = fmt.Sprintf("%s://%s", a.Type, a.Host)
			}
			mode := a.CaseDistribution.String()
			if mode == "" {
				mode = "-"
			}
			fmt.Fprintf(w, "%s\t%t\t%s\t%t\t%s\t%s\t%t\n", a.ID, a.Active, mailbox, a.CreateCase, mode, a.TeamID, a.Reply)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		for _, warning := range reg.Warnings() {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", warning)
		}
		return nil
	},
}
