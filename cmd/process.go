package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/docintel/internal/pipeline"
)

var (
	processFile   string
	processText   string
	processID     string
	processUser   string
	processJob    string
	processOCRCfd int
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process a single document",
	RunE: func(cmd *cobra.Command, args []string) error {
		if processFile == "" && processText == "" {
			return eris.New("either --file or --text is required")
		}

		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Pipeline.Process(ctx, pipeline.Request{
			DocumentID:    processID,
			UserID:        processUser,
			JobID:         processJob,
			Text:          processText,
			FilePath:      processFile,
			OCRConfidence: processOCRCfd,
		})
		if err != nil {
			return eris.Wrap(err, "process document")
		}

		if rec.Result != nil {
			zap.L().Info("processing complete",
				zap.String("document_id", rec.DocumentID),
				zap.String("category", string(rec.Category)),
				zap.Bool("success", rec.Result.Success),
				zap.Int("overall_confidence", rec.Result.OverallConfidence),
				zap.Int("fields", len(rec.Result.Fields)),
			)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

func init() {
	processCmd.Flags().StringVar(&processFile, "file", "", "path to a document file (pdf, image, or text)")
	processCmd.Flags().StringVar(&processText, "text", "", "raw OCR text, bypasses file loading")
	processCmd.Flags().StringVar(&processID, "id", "", "document ID (generated when empty)")
	processCmd.Flags().StringVar(&processUser, "user", "", "user ID to attach to the record")
	processCmd.Flags().StringVar(&processJob, "job", "", "job ID to attach to the record")
	processCmd.Flags().IntVar(&processOCRCfd, "ocr-confidence", 0, "overall OCR quality in [0,100], 0 means unknown")
	rootCmd.AddCommand(processCmd)
}
