package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/quasar-go/glagol-go/pkg/log"
)

// FilterOptions specifies filtering criteria shared by view and filter.
type FilterOptions struct {
	ConnID      string
	DeviceID    string
	TimeStart   string
	TimeEnd     string
	Layer       string
	Direction   string
	Category    string
	MessageType string
}

// Build converts the flag values into a log.Filter.
func (o FilterOptions) Build() (log.Filter, error) {
	filter := log.Filter{
		ConnectionID: o.ConnID,
		DeviceID:     o.DeviceID,
	}

	if o.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, o.TimeStart)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}

	if o.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, o.TimeEnd)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}

	if o.Layer != "" {
		l, err := ParseLayerFlag(o.Layer)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Layer = &l
	}

	if o.Direction != "" {
		d, err := ParseDirectionFlag(o.Direction)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Direction = &d
	}

	if o.Category != "" {
		c, err := ParseCategoryFlag(o.Category)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Category = &c
	}

	if o.MessageType != "" {
		m, err := ParseMessageTypeFlag(o.MessageType)
		if err != nil {
			return log.Filter{}, err
		}
		filter.MessageType = &m
	}

	return filter, nil
}

// RunFilter copies the events of path matching opts into a new capture file
// and returns how many were written.
func RunFilter(path, output string, opts FilterOptions) (int, error) {
	filter, err := opts.Build()
	if err != nil {
		return 0, err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output logger: %w", err)
	}
	defer logger.Close()

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to read event: %w", err)
		}
		logger.Log(event)
		count++
	}
	return count, nil
}
