package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/finchops/finch/internal/config"
)

var (
	rulesOrg  string
	rulesJSON bool
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect tenant workflow rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflow rules for an org",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		st, _, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		rules, err := st.ListRules(context.Background(), rulesOrg)
		if err != nil {
			return fmt.Errorf("failed to list rules: %w", err)
		}

		if rulesJSON {
			return json.NewEncoder(os.Stdout).Encode(rules)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTRIGGER\tORDER\tACTIVE\tACTIONS")
		for _, r := range rules {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%d\n",
				r.ID, r.Name, r.TriggerKey(), r.ExecutionOrder, r.Active, len(r.Actions))
		}
		return w.Flush()
	},
}

func init() {
	rulesListCmd.Flags().StringVar(&rulesOrg, "org", "", "org ID (required)")
	_ = rulesListCmd.MarkFlagRequired("org")
	rulesListCmd.Flags().BoolVar(&rulesJSON, "json", false, "output as JSON")
	rulesCmd.AddCommand(rulesListCmd)
}
