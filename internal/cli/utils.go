// Package cli provides CLI output utilities for Kotaeru.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hyperjump/kotaeru/internal/index"
	"github.com/hyperjump/kotaeru/internal/models"
)

// OutputFormat is the format for CLI output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// WriteQueryResult writes a query result to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteQueryResult(w io.Writer, result *models.QueryResult, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	default:
		writeQueryResultText(w, result)
		return nil
	}
}

func writeQueryResultText(w io.Writer, result *models.QueryResult) {
	fmt.Fprintf(w, "\n%s\n", result.Answer)
	if len(result.Sources) > 0 {
		fmt.Fprintln(w, "\n--- Sources ---")
		for i, src := range result.Sources {
			name := src.SourcePath
			if name == "" {
				name = src.DocumentID
			}
			fmt.Fprintf(w, "%d. %s (chunk %d, score %.4f)\n", i+1, name, src.ChunkIndex, src.Score)
		}
	}
	if result.Prompt != "" {
		fmt.Fprintf(w, "\n--- Prompt ---\n%s\n", result.Prompt)
	}
	status := ""
	if result.Degraded {
		status = " [degraded: keyword fallback]"
	}
	if result.Failed {
		status = " [failed]"
	}
	fmt.Fprintf(w, "\nAnswered in %s%s\n", result.Latency.Round(time.Millisecond), status)
}

// WriteIndexResult writes the outcome of an indexing run to w.
func WriteIndexResult(w io.Writer, result *index.Result, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	default:
		fmt.Fprintf(w, "Indexed %d documents (%d chunks, %d unchanged)\n",
			result.Documents, result.Chunks, result.Skipped)
		return nil
	}
}

// WriteStats writes index statistics to w.
func WriteStats(w io.Writer, stats *index.Stats, diskBytes int64, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"documents":        stats.Documents,
			"chunks":           stats.Chunks,
			"vectors":          stats.Vectors,
			"disk_usage_bytes": diskBytes,
		})
	default:
		fmt.Fprintf(w, "Documents: %d\nChunks:    %d\nVectors:   %d\n", stats.Documents, stats.Chunks, stats.Vectors)
		if diskBytes > 0 {
			fmt.Fprintf(w, "Disk:      %s\n", FormatBytes(diskBytes))
		}
		return nil
	}
}

// FormatBytes renders a byte count with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
