package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/docintel/internal/model"
	"github.com/sells-group/docintel/internal/store"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect and export stored processing records",
}

var showCmd = &cobra.Command{
	Use:   "show <document-id>",
	Short: "Print one processing record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		rec, err := st.GetRecord(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "get record %s", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

var (
	exportOut        string
	exportCategory   string
	exportReviewOnly bool
	exportLimit      int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export processing records to an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		filter := store.RecordFilter{
			ReviewOnly: exportReviewOnly,
			Limit:      exportLimit,
		}
		if exportCategory != "" {
			filter.Category = model.NormalizeCategory(exportCategory)
		}

		records, err := st.ListRecords(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list records")
		}
		if len(records) == 0 {
			zap.L().Info("no records matched the filter")
			return nil
		}

		if err := writeWorkbook(exportOut, records); err != nil {
			return err
		}

		zap.L().Info("export complete",
			zap.String("path", exportOut),
			zap.Int("records", len(records)),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "records.xlsx", "output workbook path")
	exportCmd.Flags().StringVar(&exportCategory, "category", "", "restrict to one document category")
	exportCmd.Flags().BoolVar(&exportReviewOnly, "review-only", false, "export only records flagged for human review")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "max number of records, 0 means all")

	recordsCmd.AddCommand(showCmd)
	recordsCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(recordsCmd)
}

// writeWorkbook writes a summary sheet plus a per-field sheet.
func writeWorkbook(path string, records []model.Record) error {
	f := xlsx.NewFile()

	summary, err := f.AddSheet("Records")
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}
	addRow(summary, "Document ID", "File", "Category", "Success", "Confidence", "Review Reasons")

	fields, err := f.AddSheet("Fields")
	if err != nil {
		return eris.Wrap(err, "export: add fields sheet")
	}
	addRow(fields, "Document ID", "Field", "Value", "Confidence")

	for _, rec := range records {
		success, confidence := "", ""
		var reasons string
		if rec.Result != nil {
			success = strconv.FormatBool(rec.Result.Success)
			confidence = strconv.Itoa(rec.Result.OverallConfidence)
			reasons = strings.Join(rec.Result.ReviewReasons, "; ")
		}
		addRow(summary, rec.DocumentID, rec.FileName, string(rec.Category), success, confidence, reasons)

		if rec.Result == nil {
			continue
		}
		names := make([]string, 0, len(rec.Result.Fields))
		for name := range rec.Result.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			addRow(fields,
				rec.DocumentID,
				name,
				fmt.Sprint(rec.Result.Fields[name]),
				strconv.Itoa(rec.Result.FieldConfidence[name]),
			)
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, cells ...string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().SetString(c)
	}
}
