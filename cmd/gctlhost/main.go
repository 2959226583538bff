// Command gctlhost is an interactive REPL client for the controller
// engine, the direct analogue of the teacher firmware's
// host/cmd/gopper-host: connect to a device, print what it reports,
// and accept typed commands against it. Unlike the teacher's
// single-purpose dictionary/get_uptime client, this REPL drives the
// full operations layer (§4.5) — move, home, probe, hold/resume/
// cancel/reset, and raw G-code — against either a GRBL or TinyG
// device.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"gctl/config"
	"gctl/logx"
	"gctl/ops"
	"gctl/protocoldrv"
	"gctl/serial"
)

var (
	device  = flag.String("device", "/dev/ttyACM0", "serial device path")
	dialect = flag.String("dialect", "grbl", "controller dialect: grbl or tinyg")
	baud    = flag.Int("baud", 115200, "baud rate")
	verbose = flag.Bool("verbose", false, "enable debug logging")
)

func main() {
	flag.Parse()

	if *verbose {
		logx.SetLevel(logx.LevelDebug)
	}

	cfg, err := config.Load([]byte(fmt.Sprintf(`{"port":%q,"baud_rate":%d,"dialect":%q}`, *device, *baud, *dialect)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logx.New("gctlhost")

	var drv *protocoldrv.Driver
	switch cfg.Dialect {
	case config.DialectTinyG:
		drv = protocoldrv.NewTinyGDriver(logger, cfg.PlannerQueueSize, cfg.MaxUnackedRequests)
	default:
		drv = protocoldrv.NewGRBLDriver(logger, cfg.RxBufferSize)
	}

	fmt.Printf("gctlhost: connecting to %s (%s, %d baud)...\n", cfg.Port, cfg.Dialect, cfg.BaudRate)

	serialCfg := serial.DefaultConfig(cfg.Port)
	serialCfg.Baud = cfg.BaudRate
	serialCfg.RetryOnFailure = cfg.Retry

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := drv.Open(ctx, serialCfg, cfg.Retry); err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}

	readyCtx, readyCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := drv.WaitReady(readyCtx); err != nil {
		fmt.Fprintf(os.Stderr, "device did not come ready: %v\n", err)
	}
	readyCancel()

	controller := ops.New(drv, cfg)

	fmt.Println("connected. type 'help' for commands, 'quit' to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		args, err := shlex.Split(line)
		if err != nil || len(args) == 0 {
			fmt.Fprintf(os.Stderr, "parse error: %v\n", err)
			continue
		}
		if err := dispatch(ctx, controller, args); err != nil {
			if err == errQuit {
				break
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}

	drv.Close()
	fmt.Println("goodbye.")
}

var errQuit = fmt.Errorf("quit")

func dispatch(ctx context.Context, c *ops.Controller, args []string) error {
	switch args[0] {
	case "quit", "exit", "q":
		return errQuit

	case "help", "?":
		printHelp()
		return nil

	case "status":
		printStatus(c)
		return nil

	case "send":
		if len(args) < 2 {
			return fmt.Errorf("usage: send <gcode line>")
		}
		c.SendGcode(strings.Join(args[1:], " "))
		return nil

	case "move":
		pos, feed, err := parsePosFeed(args[1:])
		if err != nil {
			return err
		}
		return c.Move(ctx, pos, feed)

	case "home":
		var axes []byte
		for _, a := range args[1:] {
			if len(a) == 1 {
				axes = append(axes, strings.ToUpper(a)[0])
			}
		}
		return c.Home(ctx, axes)

	case "probe":
		pos, feed, err := parsePosFeed(args[1:])
		if err != nil {
			return err
		}
		trip, err := c.Probe(ctx, pos, feed)
		if err != nil {
			return err
		}
		fmt.Printf("tripped at %v\n", trip)
		return nil

	case "hold":
		c.Hold()
		return nil

	case "resume":
		c.Resume()
		return nil

	case "cancel":
		return c.Cancel(ctx)

	case "reset":
		return c.Reset(ctx)

	case "jog":
		if len(args) != 3 {
			return fmt.Errorf("usage: jog <axis> <inc>")
		}
		inc, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return err
		}
		if !c.RealTimeMove(strings.ToUpper(args[1])[0], inc) {
			return fmt.Errorf("jog rejected: overshoot limit")
		}
		return nil

	case "sync":
		return c.WaitSync(ctx)

	case "settings", "dict":
		for k, v := range c.Drv.Machine.Settings() {
			fmt.Printf("%s = %s\n", k, v)
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q (try 'help')", args[0])
	}
}

// parsePosFeed parses "X10 Y5 F300"-style arguments into a fixed
// six-slot X, Y, Z, A, B, C position vector (axes not named are 0),
// plus an optional feed rate taken from an F word.
func parsePosFeed(args []string) ([]float64, float64, error) {
	pos := make(map[byte]float64)
	var feed float64
	for _, a := range args {
		if len(a) < 2 {
			return nil, 0, fmt.Errorf("bad axis word %q", a)
		}
		letter := strings.ToUpper(a)[0]
		v, err := strconv.ParseFloat(a[1:], 64)
		if err != nil {
			return nil, 0, fmt.Errorf("bad axis word %q: %w", a, err)
		}
		if letter == 'F' {
			feed = v
			continue
		}
		pos[letter] = v
	}
	out := make([]float64, 6)
	axes := []byte{'X', 'Y', 'Z', 'A', 'B', 'C'}
	for i, a := range axes {
		out[i] = pos[a]
	}
	return out, feed, nil
}

func printStatus(c *ops.Controller) {
	s := c.Status()
	fmt.Printf("ready=%v held=%v moving=%v error=%v\n", s.Ready, s.Held, s.Moving, s.Error)
	fmt.Printf("mpos=%v wpos=%v units=%s feed=%g\n", s.MPos, s.WPos, s.Units, s.Feed)
	fmt.Printf("queue: len=%d idxToSend=%d idxToAck=%d\n", s.Comms.SendQueueLength, s.Comms.IdxToSend, s.Comms.IdxToAck)
}

func printHelp() {
	fmt.Println(`commands:
  status                  print machine status
  send <gcode>             enqueue a raw line
  move <X10 Y5 ...> [F300] move to position
  home [axes]              run homing cycle
  probe <X0 Y0 Z-5> [F100] probe toward a target
  hold / resume            feed hold / cycle resume
  cancel                   cancel running program
  reset                    soft reset
  jog <axis> <inc>         real-time jog
  sync                     wait for the machine to sync
  settings / dict          print reported firmware settings/parameters
  quit                     exit`)
}
