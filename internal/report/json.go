package report

import (
	"context"
	"encoding/json"
	"io"
)

// JSONReporter outputs the structured report.
type JSONReporter struct {
	// Compact outputs single-line JSON when true (no indentation).
	Compact bool
}

// Format returns "json".
func (r *JSONReporter) Format() string {
	return "json"
}

// jsonOutput is the top-level JSON structure.
type jsonOutput struct {
	SchemaVersion string `json:"schema_version"`
	Tool          string `json:"tool"`
	*Report
}

// Generate writes the session report as JSON to w.
func (r *JSONReporter) Generate(ctx context.Context, rep *Report, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	if !r.Compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(jsonOutput{
		SchemaVersion: "1.0",
		Tool:          "labvault",
		Report:        rep,
	})
}
