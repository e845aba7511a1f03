package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/bellmanlabs/bellman/internal/config"
	"github.com/bellmanlabs/bellman/internal/daemon"
	"github.com/bellmanlabs/bellman/internal/uds"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "daemon":
		runDaemon(os.Args[2:])
	case "init":
		runInit(os.Args[2:])
	case "enqueue":
		runEnqueue(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "events":
		runEvents(os.Args[2:])
	case "sub":
		runSub(os.Args[2:])
	case "dlq":
		runDLQ(os.Args[2:])
	case "down":
		runDown(os.Args[2:])
	case "version":
		fmt.Printf("bellmand %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runDaemon(_ []string) {
	dataDir := findDataDir()
	if dataDir == "" {
		fmt.Fprintln(os.Stderr, "error: .bellman/ directory not found. Run 'bellmand init <dir>' first.")
		os.Exit(1)
	}

	cfg, err := config.Load(filepath.Join(dataDir, "config.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	d, err := daemon.New(dataDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}

	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

func runInit(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: bellmand init <project_dir>")
		os.Exit(1)
	}

	dataDir := filepath.Join(args[0], ".bellman")
	for _, sub := range []string{"queue", "events", "dead_letters", "locks", "logs", "ingress", "outbox", "quarantine"} {
		if err := os.MkdirAll(filepath.Join(dataDir, sub), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "init: %v\n", err)
			os.Exit(1)
		}
	}

	configPath := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		data, err := yaml.Marshal(config.Default())
		if err != nil {
			fmt.Fprintf(os.Stderr, "init: marshal config: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(configPath, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "init: write config: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("initialized %s\n", dataDir)
}

func runEnqueue(args []string) {
	var tenantID, correlationID, commandType, payloadJSON string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--tenant":
			i = requireValue(args, i, "--tenant")
			tenantID = args[i]
		case "--correlation":
			i = requireValue(args, i, "--correlation")
			correlationID = args[i]
		case "--type":
			i = requireValue(args, i, "--type")
			commandType = args[i]
		case "--payload":
			i = requireValue(args, i, "--payload")
			payloadJSON = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", args[i])
			fmt.Fprintln(os.Stderr, "usage: bellmand enqueue --tenant <id> --type <command_type> [--correlation <id>] [--payload <json>]")
			os.Exit(1)
		}
	}

	if tenantID == "" || commandType == "" {
		fmt.Fprintln(os.Stderr, "--tenant and --type are required")
		fmt.Fprintln(os.Stderr, "usage: bellmand enqueue --tenant <id> --type <command_type> [--correlation <id>] [--payload <json>]")
		os.Exit(1)
	}

	var payload map[string]any
	if payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			fmt.Fprintf(os.Stderr, "invalid --payload JSON: %v\n", err)
			os.Exit(1)
		}
	}

	send("enqueue", daemon.EnqueueParams{
		TenantID:      tenantID,
		CorrelationID: correlationID,
		CommandType:   commandType,
		Payload:       payload,
	})
}

func runStatus(_ []string) {
	send("queue_status", nil)
}

func runEvents(args []string) {
	var params daemon.EventsListParams

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--tenant":
			i = requireValue(args, i, "--tenant")
			params.TenantID = args[i]
		case "--after":
			i = requireValue(args, i, "--after")
			params.After = parseInt64(args[i], "--after")
		case "--limit":
			i = requireValue(args, i, "--limit")
			params.Limit = int(parseInt64(args[i], "--limit"))
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", args[i])
			fmt.Fprintln(os.Stderr, "usage: bellmand events [--tenant <id>] [--after <cursor>] [--limit <n>]")
			os.Exit(1)
		}
	}

	send("events_list", params)
}

func runSub(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: bellmand sub <create|replay> [options]")
		os.Exit(1)
	}
	switch args[0] {
	case "create":
		runSubCreate(args[1:])
	case "replay":
		runSubReplay(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown sub subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: bellmand sub <create|replay> [options]")
		os.Exit(1)
	}
}

func runSubCreate(args []string) {
	var params daemon.SubCreateParams

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--tenant":
			i = requireValue(args, i, "--tenant")
			params.TenantID = args[i]
		case "--callback":
			i = requireValue(args, i, "--callback")
			params.CallbackURL = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", args[i])
			fmt.Fprintln(os.Stderr, "usage: bellmand sub create --tenant <id> [--callback <url>]")
			os.Exit(1)
		}
	}

	if params.TenantID == "" {
		fmt.Fprintln(os.Stderr, "--tenant is required")
		os.Exit(1)
	}

	send("sub_create", params)
}

func runSubReplay(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: bellmand sub replay <subscription_id> [--after <cursor>]")
		os.Exit(1)
	}

	params := daemon.SubReplayParams{SubscriptionID: args[0]}
	rest := args[1:]

	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--after":
			i = requireValue(rest, i, "--after")
			after := parseInt64(rest[i], "--after")
			params.After = &after
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", rest[i])
			fmt.Fprintln(os.Stderr, "usage: bellmand sub replay <subscription_id> [--after <cursor>]")
			os.Exit(1)
		}
	}

	send("sub_replay", params)
}

func runDLQ(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: bellmand dlq list [--active]")
		os.Exit(1)
	}
	switch args[0] {
	case "list":
		params := daemon.DLQListParams{}
		for _, arg := range args[1:] {
			switch arg {
			case "--active":
				params.ActiveOnly = true
			default:
				fmt.Fprintf(os.Stderr, "unknown flag: %s\n", arg)
				fmt.Fprintln(os.Stderr, "usage: bellmand dlq list [--active]")
				os.Exit(1)
			}
		}
		send("dlq_list", params)
	default:
		fmt.Fprintf(os.Stderr, "unknown dlq subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: bellmand dlq list [--active]")
		os.Exit(1)
	}
}

func runDown(_ []string) {
	send("shutdown", nil)
}

// send dispatches one op to the running daemon and prints the response
// data as indented JSON.
func send(op string, params any) {
	dataDir := findDataDir()
	if dataDir == "" {
		fmt.Fprintln(os.Stderr, "error: .bellman/ directory not found. Run 'bellmand init <dir>' first.")
		os.Exit(1)
	}

	client := uds.NewClient(filepath.Join(dataDir, uds.DefaultSocketName))
	resp, err := client.Do(op, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", op, err)
		os.Exit(1)
	}

	if !resp.Success {
		code := ""
		msg := "unknown error"
		if resp.Error != nil {
			code = resp.Error.Code
			msg = resp.Error.Message
		}
		fmt.Fprintf(os.Stderr, "%s failed [%s]: %s\n", op, code, msg)
		os.Exit(1)
	}

	if len(resp.Data) == 0 {
		fmt.Println("ok")
		return
	}
	out, _ := json.MarshalIndent(json.RawMessage(resp.Data), "", "  ")
	fmt.Println(string(out))
}

func requireValue(args []string, i int, flag string) int {
	if i+1 >= len(args) {
		fmt.Fprintf(os.Stderr, "%s requires a value\n", flag)
		os.Exit(1)
	}
	return i + 1
}

func parseInt64(s, flag string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s must be an integer: %v\n", flag, err)
		os.Exit(1)
	}
	return n
}

// findDataDir searches for .bellman/ in the current directory and
// ancestors, unless BELLMAN_DIR points at one directly.
func findDataDir() string {
	if env := os.Getenv("BELLMAN_DIR"); env != "" {
		return env
	}
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".bellman")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `bellmand %s — Appointment orchestration daemon

Usage: bellmand <command> [options]

Setup:
  init <dir>        Initialize .bellman/ directory
  daemon            Run daemon process
  down              Graceful shutdown via the running daemon

Commands:
  enqueue --tenant <id> --type <command_type> [--correlation <id>] [--payload <json>]
                    Enqueue a command for dispatch
  status            Show pending queue entries
  events [--tenant <id>] [--after <cursor>] [--limit <n>]
                    List events from the stream
  sub create --tenant <id> [--callback <url>]
                    Create a replay subscription
  sub replay <subscription_id> [--after <cursor>]
                    Replay events past a subscription's cursor
  dlq list [--active]
                    List dead letter entries

Utilities:
  version           Print version
  help              Show this help

The daemon and CLI locate state through the nearest .bellman/ ancestor
directory, or BELLMAN_DIR when set.
`, version)
}
