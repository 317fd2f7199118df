package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/order-intake/internal/fetcher"
	"github.com/sells-group/order-intake/internal/model"
)

var (
	inboxKeep bool
	inboxSave bool
)

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Work with the FTP document inbox",
}

var inboxPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Download and process every document waiting in the FTP inbox",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Inbox.URL == "" {
			return eris.New("inbox url is required (INTAKE_INBOX_URL)")
		}
		inbox, err := fetcher.NewFTPInbox(cfg.Inbox.URL, fetcher.FTPOptions{
			User:     cfg.Inbox.User,
			Password: cfg.Inbox.Password,
			Timeout:  time.Duration(cfg.Inbox.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, catalogPath)
		if err != nil {
			return err
		}
		defer env.Close()

		results, err := pullInbox(ctx, env, inbox, pullOptions{
			LocalDir: cfg.Inbox.LocalDir,
			Keep:     inboxKeep,
			Save:     inboxSave,
		})
		if err != nil {
			return err
		}
		printBatchReport(cmd.OutOrStdout(), results)
		return nil
	},
}

func init() {
	inboxPullCmd.Flags().BoolVar(&inboxKeep, "keep", false, "leave documents in the inbox after processing")
	inboxPullCmd.Flags().BoolVar(&inboxSave, "save", true, "persist results in the store")
	inboxCmd.AddCommand(inboxPullCmd)
	rootCmd.AddCommand(inboxCmd)
}

// documentInbox is the part of fetcher.FTPInbox that pullInbox needs.
type documentInbox interface {
	List(ctx context.Context) ([]fetcher.InboxEntry, error)
	Fetch(ctx context.Context, name string) (*fetcher.Document, error)
	MarkProcessed(ctx context.Context, name string) error
}

type pullOptions struct {
	// LocalDir keeps a copy of every downloaded document when set.
	LocalDir string
	// Keep leaves processed documents in the inbox.
	Keep bool
	Save bool
}

// pullInbox processes every inbox document. Documents that end Summarized
// move to the processed/ directory; failed ones stay for review.
func pullInbox(ctx context.Context, env *appEnv, inbox documentInbox, opts pullOptions) ([]batchResult, error) {
	entries, err := inbox.List(ctx)
	if err != nil {
		return nil, err
	}
	if opts.LocalDir != "" {
		if err := os.MkdirAll(opts.LocalDir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "create %s", opts.LocalDir)
		}
	}

	docs := make([]fetcher.Document, len(entries))
	for i, e := range entries {
		docs[i] = fetcher.Document{Name: e.Name}
	}

	concurrency := 1
	if cfg.Batch.MaxConcurrentDocuments > 0 {
		concurrency = cfg.Batch.MaxConcurrentDocuments
	}
	return processBatch(ctx, docs, concurrency, func(ctx context.Context, d fetcher.Document) (*model.ExtractionResult, error) {
		doc, err := inbox.Fetch(ctx, d.Name)
		if err != nil {
			return nil, err
		}
		if opts.LocalDir != "" {
			if err := os.WriteFile(filepath.Join(opts.LocalDir, filepath.Base(doc.Name)), doc.Data, 0o644); err != nil {
				return nil, eris.Wrapf(err, "keep local copy of %s", doc.Name)
			}
		}

		res, procErr := env.processBytes(ctx, "inbox:"+doc.Name, doc.Data, nil, opts.Save)
		if procErr != nil || opts.Keep {
			return res, procErr
		}
		if err := inbox.MarkProcessed(ctx, doc.Name); err != nil {
			zap.L().Warn("inbox: move to processed failed", zap.String("document", doc.Name), zap.Error(err))
		}
		return res, nil
	})
}
