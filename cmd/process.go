package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/order-intake/internal/export"
	"github.com/sells-group/order-intake/internal/model"
)

var (
	processFormat  string
	processOut     string
	processOutPath string
	processSave    bool
	catalogPath    string
)

var processCmd = &cobra.Command{
	Use:   "process <path|url>",
	Short: "Run the pipeline on one document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		hint, err := parseFormatHint(processFormat)
		if err != nil {
			return err
		}
		if err := validateOutput(processOut, processOutPath); err != nil {
			return err
		}

		env, err := initEnv(ctx, catalogPath)
		if err != nil {
			return err
		}
		defer env.Close()

		res, procErr := env.processRef(ctx, args[0], hint, processSave)
		if res == nil {
			return procErr
		}

		if err := writeResult(cmd.OutOrStdout(), res, processOut, processOutPath); err != nil {
			return err
		}
		return procErr
	},
}

func init() {
	processCmd.Flags().StringVar(&processFormat, "format", "", "skip classification: issuer/subtype, e.g. rede_sul/purchase_order")
	processCmd.Flags().StringVar(&processOut, "out", "json", "output: json or xlsx")
	processCmd.Flags().StringVarP(&processOutPath, "output", "o", "", "write to file instead of stdout (required for xlsx)")
	processCmd.Flags().BoolVar(&processSave, "save", false, "persist the result in the store")
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "cross-reference catalog file (xlsx, csv or json) loaded in memory")
	rootCmd.AddCommand(processCmd)
}

// parseFormatHint turns the --format flag into a FormatKey; empty means none.
func parseFormatHint(s string) (*model.FormatKey, error) {
	if s == "" {
		return nil, nil
	}
	k, err := model.ParseFormatKey(s)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func validateOutput(out, path string) error {
	switch out {
	case "json":
		return nil
	case "xlsx":
		if path == "" {
			return eris.New("--out xlsx requires --output")
		}
		return nil
	default:
		return eris.Errorf("unknown output %q (json or xlsx)", out)
	}
}

// processRef opens ref, runs the pipeline and optionally saves the result.
// The result is nil only when the document could not be read.
func (e *appEnv) processRef(ctx context.Context, ref string, hint *model.FormatKey, save bool) (*model.ExtractionResult, error) {
	doc, err := e.Opener.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	return e.processBytes(ctx, ref, doc.Data, hint, save)
}

func (e *appEnv) processBytes(ctx context.Context, source string, data []byte, hint *model.FormatKey, save bool) (*model.ExtractionResult, error) {
	res, procErr := e.Pipeline.Process(ctx, data, hint)
	res.Source = source

	if save {
		if err := e.Store.SaveDocument(ctx, model.NewDocumentRecord(res)); err != nil {
			return res, eris.Wrapf(err, "save %s", source)
		}
		zap.L().Debug("document saved", zap.String("id", res.ID), zap.String("source", source))
	}
	return res, procErr
}

// writeResult renders res as indented JSON or as a workbook.
func writeResult(w io.Writer, res *model.ExtractionResult, out, path string) error {
	if out == "xlsx" {
		return export.SaveXLSX(path, res)
	}

	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return eris.Wrapf(err, "create %s", path)
		}
		defer f.Close() //nolint:errcheck
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(res), "encode result")
}
