// cmd/tools/agent-registrar/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"nurture-engine/internal/agentverse"
	"nurture-engine/internal/common/config"
	"nurture-engine/internal/common/logger"
)

func main() {
	registerCmd := flag.NewFlagSet("register", flag.ExitOnError)
	discoverCmd := flag.NewFlagSet("discover", flag.ExitOnError)

	// Register command flags
	name := registerCmd.String("name", "", "Agent name (defaults to the configured agent_name)")
	endpoint := registerCmd.String("endpoint", "", "Public endpoint for this agent (defaults to config)")

	// Discover command flags
	capabilities := discoverCmd.String("capabilities", "crm", "Comma-separated capability filter (e.g. crm,calendar,email)")
	limit := discoverCmd.Int("limit", 10, "Maximum number of agents to return")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New("warn", "console")
	defer zapLog.Sync()
	client := agentverse.NewClient(&cfg.Agentverse, logger.NewZapAdapter(zapLog))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "register":
		registerCmd.Parse(os.Args[2:])
		reg := agentverse.SelfRegistration(&cfg.Agentverse)
		if *name != "" {
			reg.Name = *name
		}
		if *endpoint != "" {
			reg.Endpoint = *endpoint
		}
		record, err := client.Register(ctx, reg)
		if err != nil {
			fmt.Printf("Error registering agent: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Registered %s\n", record.Name)
		fmt.Printf("  ID:           %s\n", record.ID)
		fmt.Printf("  Address:      %s\n", record.Address)
		fmt.Printf("  Capabilities: %s\n", strings.Join(record.Capabilities, ", "))

	case "discover":
		discoverCmd.Parse(os.Args[2:])
		caps := strings.Split(*capabilities, ",")
		for i := range caps {
			caps[i] = strings.TrimSpace(caps[i])
		}
		records, err := client.Discover(ctx, caps, *limit)
		if err != nil {
			fmt.Printf("Error discovering agents: %v\n", err)
			os.Exit(1)
		}
		if len(records) == 0 {
			fmt.Println("No agents found.")
			return
		}
		for _, record := range records {
			fmt.Printf("%-24s %-36s %s\n", record.Name, record.Address, strings.Join(record.Capabilities, ","))
		}
		fmt.Printf("Found %d agents.\n", len(records))

	case "help":
		fallthrough
	default:
		help()
	}
}

func help() {
	fmt.Print(`
Usage: agent-registrar <command> [flags]

Commands:
  register  Register this agent on the discovery network
  discover  Find peer agents by capability
  help      Show this help message

Examples:
  agent-registrar register -name nurture-engine
  agent-registrar discover -capabilities crm,calendar -limit 5

Use 'agent-registrar <command> -h' for more information about a command.

`)
}
