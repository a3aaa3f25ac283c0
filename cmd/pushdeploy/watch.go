package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/pushdeploy/internal/config"
	"github.com/mattjoyce/pushdeploy/internal/tui/watch"
)

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	opts := configFlags(fs)
	url := fs.String("url", "", "Receiver base URL (default: derived from listen)")
	token := fs.String("token", "", "API token (default: api.token)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *url == "" || *token == "" {
		cfg, err := config.Load(*opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config (pass --url and --token to skip): %v\n", err)
			return 1
		}
		if *url == "" {
			*url = localURL(cfg.Listen)
		}
		if *token == "" {
			*token = cfg.API.Token
		}
	}
	if *token == "" {
		fmt.Fprintln(os.Stderr, "watch needs an API token: set api.token on the receiver and pass --token")
		return 1
	}

	p := tea.NewProgram(watch.New(*url, *token))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "watch failed: %v\n", err)
		return 1
	}
	return 0
}
