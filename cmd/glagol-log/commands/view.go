// Package commands implements the glagol-log CLI commands.
package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/quasar-go/glagol-go/pkg/log"
)

// maxFrameText bounds how much of a raw frame the view prints.
const maxFrameText = 240

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [conn:id] DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	connID := shortenConnID(event.ConnectionID)

	layerStr := event.Layer.String()
	if event.Category == log.CategoryControl {
		layerStr = "CTRL"
	}

	header := fmt.Sprintf("%s [conn:%s] %-3s %s %s", ts, connID, event.Direction, layerStr, eventLabel(event))
	if event.DeviceID != "" {
		header += " device=" + event.DeviceID
	}
	fmt.Fprintln(w, header)

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.Message != nil:
		formatMessageDetails(w, event.Message)
	case event.Cloud != nil:
		formatCloudDetails(w, event.Cloud)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.ControlMsg != nil:
		formatControlDetails(w, event.ControlMsg)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// eventLabel names the payload carried by an event.
func eventLabel(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.Message != nil:
		return event.Message.Type.String()
	case event.Cloud != nil:
		return "Call"
	case event.StateChange != nil:
		return "State"
	case event.ControlMsg != nil:
		return event.ControlMsg.Type.String()
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}

func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Data) == 0 {
		return
	}
	text := string(frame.Data)
	cut := len(text) > maxFrameText
	if cut {
		text = text[:maxFrameText]
	}
	fmt.Fprintf(w, "  Data: %s", text)
	if cut || frame.Truncated {
		fmt.Fprint(w, " (truncated)")
	}
	fmt.Fprintln(w)
}

func formatMessageDetails(w io.Writer, msg *log.MessageEvent) {
	if msg.RequestID != "" {
		fmt.Fprintf(w, "  RequestID: %s\n", msg.RequestID)
	}
	if msg.Command != "" {
		fmt.Fprintf(w, "  Command: %s\n", msg.Command)
	}
	if msg.CardText != "" {
		fmt.Fprintf(w, "  Card: %s\n", msg.CardText)
	}
	if msg.RoundTrip != nil {
		fmt.Fprintf(w, "  RoundTrip: %s\n", formatDuration(*msg.RoundTrip))
	}
	if msg.Payload != nil {
		if payloadJSON, err := json.Marshal(msg.Payload); err == nil {
			fmt.Fprintf(w, "  Payload: %s\n", payloadJSON)
		}
	}
}

func formatCloudDetails(w io.Writer, call *log.CloudCallEvent) {
	fmt.Fprintf(w, "  %s %s", call.Method, call.Path)
	if call.StatusCode != 0 {
		fmt.Fprintf(w, " -> %d", call.StatusCode)
	}
	fmt.Fprintln(w)
	if call.Duration > 0 {
		fmt.Fprintf(w, "  Duration: %s\n", formatDuration(call.Duration))
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity)
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatControlDetails(w io.Writer, c *log.ControlMsgEvent) {
	if c.Sequence != 0 {
		fmt.Fprintf(w, "  Sequence: %d\n", c.Sequence)
	}
	if c.CloseCode != nil {
		fmt.Fprintf(w, "  CloseCode: %d\n", *c.CloseCode)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer)
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: %d\n", *err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// ParseLayerFlag parses a layer string from command-line flag (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "wire":
		return log.LayerWire, nil
	case "service":
		return log.LayerService, nil
	case "cloud":
		return log.LayerCloud, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, wire, service, or cloud)", s)
	}
}

// ParseDirectionFlag parses a direction string from command-line flag (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "control":
		return log.CategoryControl, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, control, state, or error)", s)
	}
}

// ParseMessageTypeFlag parses a wire message type (case-insensitive).
func ParseMessageTypeFlag(s string) (log.MessageType, error) {
	switch strings.ToLower(s) {
	case "command":
		return log.MessageTypeCommand, nil
	case "state":
		return log.MessageTypeState, nil
	case "response":
		return log.MessageTypeResponse, nil
	case "unknown":
		return log.MessageTypeUnknown, nil
	default:
		return 0, fmt.Errorf("invalid message type: %s (must be command, state, response, or unknown)", s)
	}
}

// RunView prints every event matching filter.
func RunView(path string, filter log.Filter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
	return nil
}
