package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/metaextract/internal/effectsize"
)

var effectSizeInput string

var effectSizeCmd = &cobra.Command{
	Use:   "effectsize",
	Short: "Convert raw statistic records to Hedges' g",
	Long:  "Reads a JSON array of raw records and writes one conversion result per record to stdout.",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(effectSizeInput)
		if err != nil {
			return eris.Wrapf(err, "open %s", effectSizeInput)
		}
		defer f.Close() //nolint:errcheck

		results, err := convertRecords(f, effectsize.NewCalculator(cfg.Quality.Limits()))
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	},
}

// convertRecords decodes a JSON array of raw records and converts each one.
func convertRecords(r io.Reader, calc *effectsize.Calculator) ([]effectsize.Result, error) {
	var records []map[string]any
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, eris.Wrap(err, "decode records")
	}

	results := make([]effectsize.Result, len(records))
	valid := 0
	for i, rec := range records {
		results[i] = calc.Calculate(rec)
		if results[i].Valid {
			valid++
		}
	}
	zap.L().Info("effect sizes converted",
		zap.Int("records", len(records)),
		zap.Int("valid", valid),
	)
	return results, nil
}

func init() {
	effectSizeCmd.Flags().StringVar(&effectSizeInput, "input", "", "JSON file holding an array of raw records")
	_ = effectSizeCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(effectSizeCmd)
}

