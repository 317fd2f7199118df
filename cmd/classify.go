package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/order-intake/internal/classify"
	"github.com/sells-group/order-intake/internal/ocr"
	"github.com/sells-group/order-intake/internal/patterns"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <path|url>",
	Short: "Print the detected issuer, subtype and document number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		lib, err := patterns.Default()
		if err != nil {
			return eris.Wrap(err, "load pattern library")
		}
		text, err := ocr.NewExtractor(cfg.OCR)
		if err != nil {
			return eris.Wrap(err, "init text extractor")
		}

		doc, err := newOpener().Open(ctx, args[0])
		if err != nil {
			return err
		}
		body, err := text.ExtractText(ctx, doc.Data)
		if err != nil {
			return eris.Wrap(err, "extract text")
		}

		c := classify.New(lib)
		id := c.Classify(classify.FirstPage(body), classify.FirstPages(body, cfg.Pipeline.ClassifyPages))

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(id)
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}
