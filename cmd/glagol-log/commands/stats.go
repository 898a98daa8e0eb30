package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/quasar-go/glagol-go/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Commands          map[string]int
	Connections       map[string]*ConnectionStats
	CloudCalls        int
	CloudFailures     int
	RouteChanges      int
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats holds statistics for a single connection.
type ConnectionStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	DeviceID  string
	Platform  string
	Responses int
	TotalRTT  time.Duration
}

// Collect reads every event from r into a Stats.
func Collect(r *log.Reader) (*Stats, error) {
	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Commands:          make(map[string]int),
		Connections:       make(map[string]*ConnectionStats),
	}

	for {
		event, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}
	return stats, nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	switch {
	case event.Message != nil && event.Message.Type == log.MessageTypeCommand && event.Message.Command != "":
		s.Commands[event.Message.Command]++
	case event.Cloud != nil:
		s.CloudCalls++
		if event.Cloud.StatusCode == 0 || event.Cloud.StatusCode >= 400 {
			s.CloudFailures++
		}
	case event.StateChange != nil && event.StateChange.Entity == log.StateEntityRoute:
		s.RouteChanges++
	case event.Error != nil:
		s.Errors++
	}

	// Cloud calls carry no connection.
	if event.ConnectionID == "" {
		return
	}
	conn, ok := s.Connections[event.ConnectionID]
	if !ok {
		conn = &ConnectionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
		s.Connections[event.ConnectionID] = conn
	}
	conn.Events++
	if event.Timestamp.After(conn.LastSeen) {
		conn.LastSeen = event.Timestamp
	}
	if event.DeviceID != "" && conn.DeviceID == "" {
		conn.DeviceID = event.DeviceID
	}
	if event.Platform != "" && conn.Platform == "" {
		conn.Platform = event.Platform
	}
	if m := event.Message; m != nil && m.Type == log.MessageTypeResponse && m.RoundTrip != nil {
		conn.Responses++
		conn.TotalRTT += *m.RoundTrip
	}
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats, err := Collect(reader)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Glagol Capture Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerService, log.LayerCloud} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryControl, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}

	if len(stats.Commands) > 0 {
		names := make([]string, 0, len(stats.Commands))
		for name := range stats.Commands {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Commands:")
		for _, name := range names {
			fmt.Fprintf(w, "  %-20s %d\n", name+":", stats.Commands[name])
		}
	}

	if stats.CloudCalls > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Cloud Calls: %d (%d failed)\n", stats.CloudCalls, stats.CloudFailures)
	}
	if stats.RouteChanges > 0 {
		fmt.Fprintf(w, "Route Changes: %d\n", stats.RouteChanges)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	if len(stats.Connections) > 0 {
		type connInfo struct {
			id    string
			stats *ConnectionStats
		}
		conns := make([]connInfo, 0, len(stats.Connections))
		for id, cs := range stats.Connections {
			conns = append(conns, connInfo{id, cs})
		}
		sort.Slice(conns, func(i, j int) bool {
			return conns[i].stats.FirstSeen.Before(conns[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, c := range conns {
			duration := c.stats.LastSeen.Sub(c.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortenConnID(c.id), c.stats.Events, duration)
			if c.stats.DeviceID != "" {
				fmt.Fprintf(w, "           Device: %s", c.stats.DeviceID)
				if c.stats.Platform != "" {
					fmt.Fprintf(w, " (%s)", c.stats.Platform)
				}
				fmt.Fprintln(w)
			}
			if c.stats.Responses > 0 {
				avg := c.stats.TotalRTT / time.Duration(c.stats.Responses)
				fmt.Fprintf(w, "           Responses: %d (avg rtt %s)\n", c.stats.Responses, formatDuration(avg))
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
