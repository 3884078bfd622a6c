package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

func encodeReport(w io.Writer, format string, rep *Report) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return err
		}
		return enc.Close()
	default:
		return writeText(w, rep)
	}
}

func writeText(w io.Writer, rep *Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := []struct {
		name  string
		value any
	}{
		{"mode", rep.Mode},
		{"threads", rep.Threads},
		{"keys", rep.Keys},
		{"inserted", rep.Inserted},
		{"duplicates", rep.Duplicates},
		{"erased", rep.Erased},
		{"missing", rep.Missing},
		{"leaked", rep.Leaked},
		{"size", rep.Size},
		{"capacity", rep.Capacity},
		{"submaps", fmt.Sprintf("%d %v", rep.SubMaps, rep.SubMapCapacities)},
		{"insert", fmt.Sprintf("%.3fs (%.0f ops/s)", rep.InsertSeconds, rep.InsertsPerSecond)},
		{"find", fmt.Sprintf("%.3fs (%.0f ops/s)", rep.FindSeconds, rep.FindsPerSecond)},
		{"erase", fmt.Sprintf("%.3fs", rep.EraseSeconds)},
		{"ok", rep.OK},
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(tw, "%s:\t%v\n", r.name, r.value); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// saveReport replaces path with the encoded report in one rename, so a
// reader never sees a partial file.
func saveReport(path, format string, rep *Report) error {
	var buf bytes.Buffer
	if err := encodeReport(&buf, format, rep); err != nil {
		return err
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("writing report %s: %w", path, err)
	}
	return nil
}
