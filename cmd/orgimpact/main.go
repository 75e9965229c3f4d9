// Command orgimpact serves AI workforce impact reports: a web panel, an MCP
// stdio server and a few offline tools around the same store.
package main

import (
	"fmt"
	"os"
	"sort"
)

// command is one orgimpact subcommand.
type command struct {
	Name        string
	Description string
	Run         func(args []string) error
}

func commands() map[string]*command {
	return map[string]*command{
		"serve": {
			Name:        "serve",
			Description: "Run the web panel, report executor and maintenance jobs",
			Run:         serveCmd,
		},
		"mcp": {
			Name:        "mcp",
			Description: "Run the MCP server on stdio",
			Run:         mcpCmd,
		},
		"render": {
			Name:        "render",
			Description: "Render a report file as chart JSON, Mermaid, ASCII or PNG",
			Run:         renderCmd,
		},
		"import-roles": {
			Name:        "import-roles",
			Description: "Load a role catalog into the job role table",
			Run:         importRolesCmd,
		},
		"init": {
			Name:        "init",
			Description: "Write settings.json and reload a running server",
			Run:         initCmd,
		},
		"version": {
			Name:        "version",
			Description: "Show version information",
			Run: func([]string) error {
				printVersion()
				return nil
			},
		},
	}
}

func main() {
	cmds := commands()

	if len(os.Args) < 2 {
		printUsage(cmds)
		os.Exit(0)
	}

	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage(cmds)
		os.Exit(0)
	}

	cmd, ok := cmds[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
		printUsage(cmds)
		os.Exit(1)
	}

	if err := cmd.Run(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage(cmds map[string]*command) {
	fmt.Println("orgimpact - AI workforce impact org charts")
	fmt.Println()
	fmt.Println("Usage: orgimpact <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")

	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-14s %s\n", name, cmds[name].Description)
	}
}
