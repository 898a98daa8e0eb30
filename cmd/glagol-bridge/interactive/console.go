// Package interactive provides the interactive command-line interface
// for glagol-bridge.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/quasar-go/glagol-go/pkg/fault"
	"github.com/quasar-go/glagol-go/pkg/service"
)

// commandTimeout bounds a single console command.
const commandTimeout = 15 * time.Second

// Console handles interactive mode for glagol-bridge.
type Console struct {
	router *service.Router
	rl     *readline.Instance
}

// New creates a console. Attach a router before calling Run.
func New() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "glagol> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl}, nil
}

// Attach sets the router commands are executed on.
func (c *Console) Attach(router *service.Router) {
	c.router = router
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "devices", "ls":
			c.cmdDevices()

		case "status":
			c.cmdStatus(args)

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			c.cmdIntent(ctx, cmd, args)
		}
	}
}

func (c *Console) printHelp() {
	names := make([]string, 0, len(usage))
	for name := range usage {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("\nGlagol Bridge Commands:\n  Speaker:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "    %s\n", usage[name])
	}
	b.WriteString(`
  General:
    devices              - List registered speakers
    status [device-id]   - Show speaker state
    help                 - Show this help
    quit                 - Exit bridge`)
	fmt.Fprintln(c.rl.Stdout(), b.String())
}

func (c *Console) cmdIntent(ctx context.Context, cmd string, args []string) {
	out := c.rl.Stdout()

	deviceID, in, ok, err := parseIntent(cmd, args)
	if !ok {
		fmt.Fprintf(out, "Unknown command: %s (type 'help' for commands)\n", cmd)
		return
	}
	if err != nil {
		fmt.Fprintf(out, "%v\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	res, err := c.router.Execute(ctx, deviceID, in)
	if err != nil {
		fmt.Fprintf(out, "Error (%s): %v\n", fault.Classify(err), err)
		if errors.Is(err, service.ErrUnknownDevice) {
			fmt.Fprintln(out, "Use 'devices' to list registered speakers.")
		}
		return
	}

	switch {
	case res.Reply != nil && res.Reply.Card != nil:
		fmt.Fprintf(out, "[%s] %s (%s)\n", res.Route, res.Reply.Card.Text, res.Reply.RoundTrip.Round(time.Millisecond))
	case res.Reply != nil:
		fmt.Fprintf(out, "[%s] ok (%s)\n", res.Route, res.Reply.RoundTrip.Round(time.Millisecond))
	case res.Assumed != nil:
		v, _ := res.Assumed.Volume()
		fmt.Fprintf(out, "[%s] sent, volume assumed %.2f\n", res.Route, v)
	default:
		fmt.Fprintf(out, "[%s] sent\n", res.Route)
	}
}

func (c *Console) cmdDevices() {
	out := c.rl.Stdout()
	devices := c.router.Devices()
	if len(devices) == 0 {
		fmt.Fprintln(out, "No speakers registered")
		return
	}

	fmt.Fprintf(out, "\nSpeakers (%d):\n", len(devices))
	fmt.Fprintln(out, "-------------------------------------------")
	for _, d := range devices {
		fmt.Fprintf(out, "  ID: %s\n", d.Identity.DeviceID)
		if d.Identity.Name != "" {
			fmt.Fprintf(out, "      Name: %s\n", d.Identity.Name)
		}
		fmt.Fprintf(out, "      Platform: %s\n", d.Identity.Platform)
		if !d.Endpoint.IsZero() {
			fmt.Fprintf(out, "      Address: %s\n", d.Endpoint.Address())
		}
		fmt.Fprintf(out, "      State: %s (route: %s)\n", d.State, d.Route)
		if !d.NextRetry.IsZero() {
			fmt.Fprintf(out, "      Next retry: %s\n", d.NextRetry.Format("15:04:05"))
		}
		fmt.Fprintln(out)
	}
}

func (c *Console) cmdStatus(args []string) {
	out := c.rl.Stdout()
	for _, d := range c.router.Devices() {
		if len(args) > 0 && d.Identity.DeviceID != args[0] {
			continue
		}
		fmt.Fprintf(out, "%s: %s", d.Identity.DeviceID, d.State)
		if d.Snapshot == nil {
			fmt.Fprintln(out, " (no state)")
			continue
		}
		vol, _ := d.Snapshot.Volume()
		fmt.Fprintf(out, " volume=%.2f playing=%t alice=%s", vol, d.Snapshot.Playing(), d.Snapshot.AliceState())
		if title := d.Snapshot.TrackTitle(); title != "" {
			fmt.Fprintf(out, " track=%q", title)
		}
		fmt.Fprintln(out)
	}
}
