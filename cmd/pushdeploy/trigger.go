package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	ghwebhooks "github.com/go-playground/webhooks/v6/github"
	"github.com/google/go-github/v57/github"
	"github.com/google/uuid"

	"github.com/mattjoyce/pushdeploy/internal/config"
	"github.com/mattjoyce/pushdeploy/internal/webhook"
)

// pushEvent is the subset of a GitHub push payload the receiver reads.
type pushEvent struct {
	Ref        string `json:"ref"`
	HeadCommit struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"head_commit"`
	Pusher struct {
		Name string `json:"name"`
	} `json:"pusher"`
}

func runTrigger(args []string) int {
	fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
	opts := configFlags(fs)
	url := fs.String("url", "", "Receiver base URL (default: derived from listen)")
	ref := fs.String("ref", "", "Ref to push (default: the configured deploy branch)")
	commit := fs.String("commit", "manual", "Commit id to report")
	message := fs.String("message", "manual re-trigger", "Commit message to report")
	pusher := fs.String("pusher", defaultPusher(), "Pusher name to report")
	timeout := fs.Duration("timeout", 0, "Request timeout (0 waits for the deployment)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	target := *url
	if target == "" {
		target = localURL(cfg.Listen)
	}
	target += cfg.Webhook.Path

	var ev pushEvent
	ev.Ref = *ref
	if ev.Ref == "" {
		ev.Ref = cfg.Webhook.Branch
	}
	ev.HeadCommit.ID = *commit
	ev.HeadCommit.Message = *message
	ev.Pusher.Name = *pusher

	body, err := json.Marshal(ev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode payload: %v\n", err)
		return 1
	}

	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build request: %v\n", err)
		return 1
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(cfg.Webhook.SignatureHeader, webhook.Sign(cfg.Webhook.Secret, body))
	req.Header.Set(cfg.Webhook.EventHeader, string(ghwebhooks.PushEvent))
	req.Header.Set(github.DeliveryIDHeader, uuid.NewString())

	client := &http.Client{Timeout: *timeout}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var parsed webhook.Response
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.Status == "" {
		fmt.Printf("%s %s\n", resp.Status, bytes.TrimSpace(respBody))
	} else {
		fmt.Printf("%s %s: %s", resp.Status, parsed.Status, parsed.Message)
		if parsed.DeploymentID != "" {
			fmt.Printf(" (deployment %s)", parsed.DeploymentID)
		}
		fmt.Printf(" in %s\n", time.Since(start).Round(time.Millisecond))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 1
	}
	return 0
}

func defaultPusher() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "pushdeploy"
}
