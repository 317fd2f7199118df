package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/order-intake/internal/model"
	"github.com/sells-group/order-intake/internal/store"
)

var (
	documentsStatus string
	documentsIssuer string
	documentsLimit  int
	documentsOut    string
	documentsPath   string
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Read persisted pipeline results",
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List processed documents, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		recs, err := st.ListDocuments(ctx, store.DocumentFilter{
			Status: model.ProcessState(documentsStatus),
			Issuer: model.Issuer(documentsIssuer),
			Limit:  documentsLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list documents")
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tISSUER\tSUBTYPE\tNUMBER\tSOURCE\tCREATED") //nolint:errcheck
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", //nolint:errcheck
				r.ID, r.Status, r.Issuer, r.Subtype, r.DocumentNumber, r.Source,
				r.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var documentsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one stored result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := validateOutput(documentsOut, documentsPath); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		rec, err := st.GetDocument(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "get document %s", args[0])
		}
		if rec.Result == nil {
			return eris.Errorf("document %s has no stored result", args[0])
		}
		return writeResult(cmd.OutOrStdout(), rec.Result, documentsOut, documentsPath)
	},
}

func init() {
	documentsListCmd.Flags().StringVar(&documentsStatus, "status", "", "filter by final state (summarized, failed)")
	documentsListCmd.Flags().StringVar(&documentsIssuer, "issuer", "", "filter by issuer")
	documentsListCmd.Flags().IntVar(&documentsLimit, "limit", 50, "max rows")
	documentsShowCmd.Flags().StringVar(&documentsOut, "out", "json", "output: json or xlsx")
	documentsShowCmd.Flags().StringVarP(&documentsPath, "output", "o", "", "write to file instead of stdout (required for xlsx)")
	documentsCmd.AddCommand(documentsListCmd, documentsShowCmd)
	rootCmd.AddCommand(documentsCmd)
}
