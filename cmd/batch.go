package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/order-intake/internal/fetcher"
	"github.com/sells-group/order-intake/internal/model"
)

var (
	batchFormat string
	batchOutDir string
	batchSave   bool
)

var batchCmd = &cobra.Command{
	Use:   "batch <dir>",
	Short: "Process every document in a directory concurrently",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		hint, err := parseFormatHint(batchFormat)
		if err != nil {
			return err
		}

		docs, err := collectDocuments(args[0])
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, catalogPath)
		if err != nil {
			return err
		}
		defer env.Close()

		results, err := processBatch(ctx, docs, cfg.Batch.MaxConcurrentDocuments, func(ctx context.Context, doc fetcher.Document) (*model.ExtractionResult, error) {
			return env.processBytes(ctx, doc.Name, doc.Data, hint, batchSave)
		})
		if err != nil {
			return err
		}

		if batchOutDir != "" {
			if err := writeBatchResults(batchOutDir, results); err != nil {
				return err
			}
		}
		printBatchReport(cmd.OutOrStdout(), results)

		if misses := env.Pipeline.Resolver().Misses(); len(misses) > 0 {
			zap.L().Info("vendor codes without cross-reference",
				zap.Int("count", len(misses)),
				zap.Strings("codes", misses),
			)
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFormat, "format", "", "skip classification for every document: issuer/subtype")
	batchCmd.Flags().StringVar(&batchOutDir, "out-dir", "", "write one JSON result per document into this directory")
	batchCmd.Flags().BoolVar(&batchSave, "save", false, "persist results in the store")
	rootCmd.AddCommand(batchCmd)
}

// collectDocuments reads every regular file under dir, skipping dotfiles.
// ZIP archives are expanded; their entries are named archive.zip/entry.
func collectDocuments(dir string) ([]fetcher.Document, error) {
	var docs []fetcher.Document
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return eris.Wrapf(err, "read %s", path)
		}
		rel, _ := filepath.Rel(dir, path)
		rel = filepath.ToSlash(rel)

		if !fetcher.IsZIP(data) {
			docs = append(docs, fetcher.Document{Name: rel, Data: data})
			return nil
		}
		entries, err := fetcher.UnpackZIP(data)
		if err != nil {
			return eris.Wrapf(err, "unpack %s", path)
		}
		for _, e := range entries {
			docs = append(docs, fetcher.Document{Name: rel + "/" + e.Name, Data: e.Data})
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "collect documents in %s", dir)
	}
	return docs, nil
}

// processFunc is the callback signature for running the pipeline on a document.
type processFunc func(ctx context.Context, doc fetcher.Document) (*model.ExtractionResult, error)

// batchResult pairs a document name with its outcome.
type batchResult struct {
	Name   string
	Result *model.ExtractionResult
	Err    error
}

// processBatch processes documents concurrently. A failed document never
// aborts the batch; results come back in input order.
func processBatch(ctx context.Context, docs []fetcher.Document, concurrency int, process processFunc) ([]batchResult, error) {
	if len(docs) == 0 {
		zap.L().Info("no documents found")
		return nil, nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("documents", len(docs)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	results := make([]batchResult, len(docs))
	var succeeded, failed atomic.Int64

	for i, doc := range docs {
		g.Go(func() error {
			log := zap.L().With(zap.String("document", doc.Name))

			res, err := process(gctx, doc)

			results[i] = batchResult{Name: doc.Name, Result: res, Err: err}

			if err != nil {
				failed.Add(1)
				log.Error("document failed", zap.Error(err))
				return nil // don't abort batch on individual failure
			}

			succeeded.Add(1)
			log.Info("document complete",
				zap.String("status", string(res.Status)),
				zap.Int("items", res.Summary.TotalItems),
				zap.Int("warnings", len(res.Warnings)),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return results, nil
}

func writeBatchResults(dir string, results []batchResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "create %s", dir)
	}
	for _, r := range results {
		if r.Result == nil {
			continue
		}
		name := strings.NewReplacer("/", "_", `\`, "_").Replace(r.Name)
		path := filepath.Join(dir, strings.TrimSuffix(name, filepath.Ext(name))+".json")
		if err := writeResult(io.Discard, r.Result, "json", path); err != nil {
			return err
		}
	}
	return nil
}

// printBatchReport writes one line per document, failures last.
func printBatchReport(w io.Writer, results []batchResult) {
	sorted := append([]batchResult(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Err == nil && sorted[j].Err != nil
	})
	for _, r := range sorted {
		switch {
		case r.Result == nil:
			fmt.Fprintf(w, "%-40s  error   %v\n", r.Name, r.Err) //nolint:errcheck
		case r.Err != nil:
			fmt.Fprintf(w, "%-40s  failed  %s\n", r.Name, r.Result.FailureReason) //nolint:errcheck
		default:
			id := r.Result.Identity
			fmt.Fprintf(w, "%-40s  ok      %s/%s %s items=%d branches=%d value=%s unresolved=%d warnings=%d\n", //nolint:errcheck
				r.Name, id.Issuer, id.Subtype, id.DocumentNumber,
				r.Result.Summary.TotalItems, r.Result.Summary.TotalBranches,
				r.Result.Summary.TotalValue.StringFixed(2),
				r.Result.Summary.ItemsWithoutCrossReference, len(r.Result.Warnings))
		}
	}
}
