package interactive

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/quasar-go/glagol-go/pkg/service"
)

var errUsage = errors.New("usage")

// usage lists the intent commands with their arguments.
var usage = map[string]string{
	"say":    "say <device-id> <text>",
	"cmd":    "cmd <device-id> <voice command>",
	"volume": "volume <device-id> <0..1 | 0..100>",
	"play":   "play <device-id>",
	"pause":  "pause <device-id>",
	"stop":   "stop <device-id>",
	"next":   "next <device-id>",
	"prev":   "prev <device-id>",
	"rewind": "rewind <device-id> <seconds>",
	"music":  "music <device-id> <catalogue-id | query>",
	"action": "action <device-id> <name>",
}

// parseIntent turns a console command into a device id and an intent.
// ok is false when cmd is not an intent command.
func parseIntent(cmd string, args []string) (deviceID string, in service.Intent, ok bool, err error) {
	if _, known := usage[cmd]; !known {
		return "", nil, false, nil
	}
	if len(args) == 0 {
		return "", nil, true, fmt.Errorf("%w: %s", errUsage, usage[cmd])
	}
	deviceID, rest := args[0], args[1:]
	text := strings.Join(rest, " ")

	needText := func() error {
		if text == "" {
			return fmt.Errorf("%w: %s", errUsage, usage[cmd])
		}
		return nil
	}

	switch cmd {
	case "say":
		if err := needText(); err != nil {
			return "", nil, true, err
		}
		return deviceID, service.SayText{Text: text}, true, nil

	case "cmd":
		if err := needText(); err != nil {
			return "", nil, true, err
		}
		return deviceID, service.Command{Text: text}, true, nil

	case "volume":
		if len(rest) != 1 {
			return "", nil, true, fmt.Errorf("%w: %s", errUsage, usage[cmd])
		}
		level, err := parseLevel(rest[0])
		if err != nil {
			return "", nil, true, err
		}
		return deviceID, service.SetVolume{Level: level}, true, nil

	case "play":
		return deviceID, service.Play{}, true, nil
	case "pause":
		return deviceID, service.Pause{}, true, nil
	case "stop":
		return deviceID, service.Stop{}, true, nil
	case "next":
		return deviceID, service.Next{}, true, nil
	case "prev":
		return deviceID, service.Prev{}, true, nil

	case "rewind":
		if len(rest) != 1 {
			return "", nil, true, fmt.Errorf("%w: %s", errUsage, usage[cmd])
		}
		pos, err := strconv.ParseFloat(rest[0], 64)
		if err != nil || pos < 0 {
			return "", nil, true, fmt.Errorf("invalid position %q", rest[0])
		}
		return deviceID, service.Rewind{Position: pos}, true, nil

	case "music":
		if err := needText(); err != nil {
			return "", nil, true, err
		}
		pm := service.PlayMusic{Query: text}
		if len(rest) == 1 && isCatalogueID(rest[0]) {
			pm.ID = rest[0]
		}
		return deviceID, pm, true, nil

	case "action":
		if err := needText(); err != nil {
			return "", nil, true, err
		}
		return deviceID, service.ServerAction{Action: text}, true, nil
	}
	return "", nil, false, nil
}

// parseLevel accepts a fraction (0.4) or a percentage (40).
func parseLevel(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil || v < 0 || v > 100 {
		return 0, fmt.Errorf("invalid volume %q", s)
	}
	if v > 1 || strings.HasSuffix(s, "%") {
		v /= 100
	}
	return v, nil
}

// isCatalogueID reports whether s looks like a track id ("12345") or a
// playlist id ("owner:kind").
func isCatalogueID(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != ':' {
			return false
		}
	}
	return true
}
