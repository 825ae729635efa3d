package main

import (
	"bufio"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lotas/werkbank/internal/api"
	"github.com/lotas/werkbank/internal/applog"
	"github.com/lotas/werkbank/internal/channel"
	"github.com/lotas/werkbank/internal/export"
	"github.com/lotas/werkbank/internal/session"
	"github.com/lotas/werkbank/internal/snapshot"
	"github.com/lotas/werkbank/internal/storage"
	"github.com/lotas/werkbank/internal/tui"
	"github.com/lotas/werkbank/internal/types"
)

const defaultServer = "http://127.0.0.1:8000"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "tree":
			runTree(os.Args[2:])
			return
		case "snapshot":
			runSnapshot(os.Args[2:])
			return
		case "exec":
			runExec(os.Args[2:])
			return
		case "help", "--help", "-h":
			printHelp()
			return
		}
	}

	fs := flag.NewFlagSet("werkbank", flag.ExitOnError)
	server := fs.String("server", "", "Backend server URL (env: WERKBANK_SERVER)")
	chatMode := fs.String("chat-mode", "agent", "Agent chat mode (agent or edit)")
	provider := fs.String("provider", "", "Model provider passed to the agent (env: WERKBANK_PROVIDER)")
	fs.Parse(os.Args[1:])

	serverURL := resolveServer(*server)

	if dir, err := dataDir(); err == nil {
		if err := applog.Init(dir); err == nil {
			defer applog.Close()
		}
	}
	applog.Info("start", "server", serverURL)

	opts := types.ChatOptions{
		Mode:     *chatMode,
		Provider: resolveEnv(*provider, "WERKBANK_PROVIDER"),
		APIKey:   os.Getenv("WERKBANK_API_KEY"),
	}

	client := api.New(serverURL)
	sess := session.New(client, 0)
	ch := channel.New(serverURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ch.Run(ctx)

	model := tui.NewModel(sess, ch, serverURL, opts)
	p := tea.NewProgram(model, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Print(`werkbank — terminal workspace client

Usage:
  werkbank                                     Start the TUI (default)
    --server <url>         Backend server URL (default: http://127.0.0.1:8000)
    --chat-mode <mode>     Agent chat mode: agent or edit (default: agent)
    --provider <name>      Model provider passed to the agent

  werkbank tree                                Print the workspace tree
    --server <url>         Backend server URL
    --json                 Output JSON instead of plain text
    --markdown             Output markdown instead of plain text
    --out <file>           Output file path (default: stdout)

  werkbank snapshot [--label "text"]           Snapshot the tree (only if changed)
  werkbank snapshot list                       List saved snapshots
  werkbank snapshot diff [rev]                 Compare a snapshot with the live tree
  werkbank snapshot delete <rev> [--yes]       Delete a snapshot

  werkbank exec <command...>                   Run a command on the backend
    --server <url>         Backend server URL

Environment:
  WERKBANK_SERVER     Default backend URL (overridden by --server)
  WERKBANK_PROVIDER   Default model provider (overridden by --provider)
  WERKBANK_API_KEY    API key forwarded to the agent
`)
}

// resolveServer returns the server URL from the flag if set, otherwise the
// WERKBANK_SERVER environment variable, otherwise the default.
func resolveServer(flagValue string) string {
	if v := resolveEnv(flagValue, "WERKBANK_SERVER"); v != "" {
		return strings.TrimSuffix(v, "/")
	}
	return defaultServer
}

func resolveEnv(flagValue, envName string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(envName)
}

func dataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "werkbank"), nil
}

func openDB() (*sql.DB, error) {
	dbPath, err := storage.DefaultDBPath()
	if err != nil {
		return nil, err
	}
	return storage.OpenDB(dbPath)
}

// reorderArgs moves flag arguments before positional arguments so that
// flag.Parse handles them correctly (it stops at the first non-flag arg).
func reorderArgs(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "-") {
			flags = append(flags, args[i])
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				flags = append(flags, args[i+1])
				i++
			}
		} else {
			positional = append(positional, args[i])
		}
	}
	return append(flags, positional...)
}

func runTree(args []string) {
	fs := flag.NewFlagSet("tree", flag.ExitOnError)
	server := fs.String("server", "", "Backend server URL")
	jsonFlag := fs.Bool("json", false, "Output JSON instead of plain text")
	mdFlag := fs.Bool("markdown", false, "Output markdown instead of plain text")
	outFile := fs.String("out", "", "Output file path (default: stdout)")
	fs.Parse(args)

	serverURL := resolveServer(*server)
	client := api.New(serverURL)
	nodes, err := client.FetchTree(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var output string
	switch {
	case *jsonFlag:
		output, err = export.JSON(serverURL, nodes)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating JSON: %v\n", err)
			os.Exit(1)
		}
	case *mdFlag:
		output = export.Markdown(serverURL, nodes)
	default:
		output = export.Text(nodes)
	}

	if *outFile != "" {
		if err := os.WriteFile(*outFile, []byte(output), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
			os.Exit(1)
		}
	} else {
		fmt.Print(output)
	}
}

func runExec(args []string) {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	server := fs.String("server", "", "Backend server URL")
	fs.Parse(reorderArgs(args))

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: werkbank exec [--server url] <command...>")
		os.Exit(1)
	}
	command := strings.Join(fs.Args(), " ")

	client := api.New(resolveServer(*server))
	result, err := client.Execute(context.Background(), command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if result.Stdout != "" {
		fmt.Print(result.Stdout)
	}
	if result.Stderr != "" {
		fmt.Fprint(os.Stderr, result.Stderr)
	}
}

func runSnapshot(args []string) {
	// If no args or first arg is a flag, it's the auto-create flow.
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		runSnapshotCreate(args)
		return
	}

	subcmd := args[0]
	subArgs := args[1:]

	switch subcmd {
	case "create":
		runSnapshotCreate(subArgs)
	case "list":
		runSnapshotList(subArgs)
	case "diff":
		runSnapshotDiff(subArgs)
	case "delete":
		runSnapshotDelete(subArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown snapshot command %q. Use create, list, diff, or delete.\n", subcmd)
		os.Exit(1)
	}
}

func runSnapshotCreate(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	server := fs.String("server", "", "Backend server URL")
	label := fs.String("label", "", "Optional label for the snapshot")
	fs.Parse(args)

	serverURL := resolveServer(*server)
	client := api.New(serverURL)
	nodes, err := client.FetchTree(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	db, err := openDB()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	rev, created, diff, err := snapshot.Create(db, serverURL, nodes, *label)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating snapshot: %v\n", err)
		os.Exit(1)
	}

	if !created {
		fmt.Printf("No changes since snapshot #%d\n", rev)
		return
	}

	fmt.Printf("Snapshot #%d created\n", rev)
	if diff != nil && (len(diff.Added) > 0 || len(diff.Removed) > 0) {
		fmt.Println()
		fmt.Print(snapshot.FormatDiff(diff))
	}
}

func runSnapshotList(args []string) {
	fs := flag.NewFlagSet("snapshot list", flag.ExitOnError)
	server := fs.String("server", "", "Backend server URL (empty = all servers)")
	fs.Parse(args)

	db, err := openDB()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	var snaps []storage.SnapshotSummary
	if *server != "" {
		snaps, err = storage.ListSnapshotsByServer(db, resolveServer(*server))
	} else {
		snaps, err = storage.ListSnapshots(db)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing snapshots: %v\n", err)
		os.Exit(1)
	}

	if len(snaps) == 0 {
		fmt.Println("No snapshots found.")
		return
	}

	fmt.Printf("%-5s %6s  %-28s %-20s  %s\n", "REV", "FILES", "SERVER", "LABEL", "CREATED")
	for _, s := range snaps {
		fmt.Printf("%5d %6d  %-28s %-20s  %s\n",
			s.Rev,
			s.FileCount,
			s.Server,
			s.Label,
			s.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
}

func runSnapshotDiff(args []string) {
	fs := flag.NewFlagSet("snapshot diff", flag.ExitOnError)
	server := fs.String("server", "", "Backend server URL")
	fs.Parse(reorderArgs(args))

	serverURL := resolveServer(*server)

	db, err := openDB()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// Default to the latest revision.
	rev := 0
	if fs.NArg() > 0 {
		rev, err = strconv.Atoi(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid revision number: %s\n", fs.Arg(0))
			os.Exit(1)
		}
	}
	if rev == 0 {
		latest, err := storage.GetLatestSnapshot(db, serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if latest == nil {
			fmt.Fprintf(os.Stderr, "No snapshots found for %s\n", serverURL)
			os.Exit(1)
		}
		rev = latest.Rev
	}

	client := api.New(serverURL)
	nodes, err := client.FetchTree(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	result, err := snapshot.Diff(db, serverURL, rev, nodes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(snapshot.FormatDiff(result))
}

func runSnapshotDelete(args []string) {
	fs := flag.NewFlagSet("snapshot delete", flag.ExitOnError)
	server := fs.String("server", "", "Backend server URL")
	yes := fs.Bool("yes", false, "Skip confirmation prompt")
	fs.Parse(reorderArgs(args))

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: werkbank snapshot delete <rev> [--server url] [--yes]")
		os.Exit(1)
	}

	rev, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid revision number: %s\n", fs.Arg(0))
		os.Exit(1)
	}

	if !*yes {
		fmt.Printf("Delete snapshot #%d? [y/N] ", rev)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return
		}
	}

	db, err := openDB()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := storage.DeleteSnapshot(db, resolveServer(*server), rev); err != nil {
		fmt.Fprintf(os.Stderr, "Error deleting snapshot: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Snapshot #%d deleted.\n", rev)
}
