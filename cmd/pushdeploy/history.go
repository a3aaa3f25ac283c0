package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mattjoyce/pushdeploy/internal/config"
	"github.com/mattjoyce/pushdeploy/internal/history"
	"github.com/mattjoyce/pushdeploy/internal/storage"
)

func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	opts := configFlags(fs)
	statePath := fs.String("state", "", "Path to the state database (skips config loading)")
	limit := fs.Int("limit", 20, "Number of deployments to show")
	asJSON := fs.Bool("json", false, "Output JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be positive")
		return 1
	}

	path := *statePath
	if path == "" {
		cfg, err := config.Load(*opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		path = cfg.State.Path
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	deployments, err := history.New(db).Recent(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read history: %v\n", err)
		return 1
	}

	if *asJSON {
		if deployments == nil {
			deployments = []*history.Deployment{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(deployments); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode history: %v\n", err)
			return 1
		}
		return 0
	}

	if len(deployments) == 0 {
		fmt.Println("No deployments recorded.")
		return 0
	}
	fmt.Println(renderHistory(deployments))
	return 0
}

var (
	historyHeader = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	historyCell   = lipgloss.NewStyle().Padding(0, 1)
	statusColors  = map[history.Status]lipgloss.Color{
		history.StatusSucceeded: lipgloss.Color("#00FF00"),
		history.StatusRunning:   lipgloss.Color("#FFFF00"),
		history.StatusFailed:    lipgloss.Color("#FF0000"),
	}
)

func renderHistory(deployments []*history.Deployment) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#874BFD"))).
		Headers("STARTED", "STATUS", "EXIT", "COMMIT", "PUSHER", "DURATION", "ID")

	for _, d := range deployments {
		exit := "-"
		if d.ExitCode != nil {
			exit = strconv.Itoa(*d.ExitCode)
		}
		duration := "-"
		if d.DurationMS != nil {
			duration = (time.Duration(*d.DurationMS) * time.Millisecond).String()
		}
		commit := d.CommitID
		if len(commit) > 7 {
			commit = commit[:7]
		}
		t.Row(
			d.StartedAt.Local().Format("2006-01-02 15:04:05"),
			string(d.Status),
			exit,
			commit,
			d.Pusher,
			duration,
			d.ID,
		)
	}

	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return historyHeader
		}
		if col == 1 && row >= 0 && row < len(deployments) {
			if c, ok := statusColors[deployments[row].Status]; ok {
				return historyCell.Foreground(c)
			}
		}
		return historyCell
	})
	return t.String()
}
