package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/quasar-go/glagol-go/pkg/log"
)

// RunExport exports the log file to the specified format.
func RunExport(path, format, output string) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch format {
	case "jsonl":
		return exportJSONL(reader, w)
	case "csv":
		return exportCSV(reader, w)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

var csvHeader = []string{
	"timestamp", "connection_id", "direction", "layer", "category",
	"device_id", "type", "request_id", "detail", "duration_ms",
}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := cw.Write(csvRow(event)); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(event log.Event) []string {
	var requestID, detail, duration string
	switch {
	case event.Message != nil:
		requestID = event.Message.RequestID
		detail = event.Message.Command
		if event.Message.CardText != "" {
			detail = event.Message.CardText
		}
		if event.Message.RoundTrip != nil {
			duration = millis(event.Message.RoundTrip.Seconds())
		}
	case event.Cloud != nil:
		detail = event.Cloud.Method + " " + event.Cloud.Path
		if event.Cloud.StatusCode != 0 {
			detail += " " + strconv.Itoa(event.Cloud.StatusCode)
		}
		if event.Cloud.Duration > 0 {
			duration = millis(event.Cloud.Duration.Seconds())
		}
	case event.StateChange != nil:
		detail = event.StateChange.OldState + "->" + event.StateChange.NewState
	case event.Error != nil:
		detail = event.Error.Message
	}

	return []string{
		event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		event.ConnectionID,
		event.Direction.String(),
		event.Layer.String(),
		event.Category.String(),
		event.DeviceID,
		eventLabel(event),
		requestID,
		detail,
		duration,
	}
}

func millis(seconds float64) string {
	return strconv.FormatFloat(seconds*1000, 'f', 3, 64)
}
