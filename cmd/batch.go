package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/docintel/internal/pipeline"
)

var (
	batchDir   string
	batchJob   string
	batchLimit int
)

// supportedExts mirrors what ocr.LoadDocument accepts.
var supportedExts = map[string]bool{
	".pdf": true, ".txt": true, ".md": true,
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true,
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Process every supported document in a directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		files, err := collectFiles(batchDir, batchLimit)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			zap.L().Info("no supported documents found", zap.String("dir", batchDir))
			return nil
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("processing batch",
			zap.Int("documents", len(files)),
			zap.Int("concurrency", cfg.Batch.MaxConcurrentDocuments),
		)

		reqs := make([]pipeline.Request, len(files))
		for i, f := range files {
			reqs[i] = pipeline.Request{FilePath: f, JobID: batchJob}
		}

		records, firstErr := env.Pipeline.ProcessBatch(ctx, reqs, cfg.Batch.MaxConcurrentDocuments)

		var succeeded, failed, review int
		for _, rec := range records {
			switch {
			case rec == nil:
				failed++
			case rec.Result != nil && rec.Result.Success:
				succeeded++
				if len(rec.Result.ReviewReasons) > 0 {
					review++
				}
			default:
				failed++
			}
		}

		zap.L().Info("batch complete",
			zap.Int("succeeded", succeeded),
			zap.Int("failed", failed),
			zap.Int("needs_review", review),
		)

		if firstErr != nil {
			return eris.Wrap(firstErr, "batch processing")
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchDir, "dir", "", "directory of documents to process (required)")
	batchCmd.Flags().StringVar(&batchJob, "job", "", "job ID to attach to every record")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of documents, 0 means all")
	_ = batchCmd.MarkFlagRequired("dir")
	rootCmd.AddCommand(batchCmd)
}

// collectFiles lists supported documents under dir, sorted by name.
func collectFiles(dir string, limit int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "read dir %s", dir)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if supportedExts[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}
