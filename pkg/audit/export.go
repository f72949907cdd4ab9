package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
)

func exportJSON(entries []*Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}

func exportNDJSON(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			return nil, fmt.Errorf("failed to encode entry: %w", err)
		}
	}

	return buf.Bytes(), nil
}

func exportCSV(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{
		"ID",
		"Timestamp",
		"ActorID",
		"ActorEmail",
		"TenantID",
		"Action",
		"TargetType",
		"TargetID",
		"IPAddress",
		"RequestID",
	}

	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, entry := range entries {
		row := []string{
			strconv.FormatInt(entry.ID, 10),
			entry.Timestamp.Format("2006-01-02 15:04:05"),
			entry.ActorID,
			entry.ActorEmail,
			entry.TenantID,
			string(entry.Action),
			string(entry.TargetType),
			entry.TargetID,
			entry.Origin.IPAddress,
			entry.Origin.RequestID,
		}

		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return buf.Bytes(), nil
}

// ParseExportFormat validates a format string from a request
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case ExportFormatJSON, ExportFormatNDJSON, ExportFormatCSV:
		return ExportFormat(s), nil
	case "":
		return ExportFormatJSON, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}
