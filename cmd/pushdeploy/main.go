package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/mattjoyce/pushdeploy/internal/config"
)

var version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	os.Exit(run(os.Args[1], os.Args[2:]))
}

func run(cmd string, args []string) int {
	switch cmd {
	case "serve", "start":
		return runServe(args)
	case "history":
		return runHistory(args)
	case "watch":
		return runWatch(args)
	case "trigger":
		return runTrigger(args)
	case "check", "doctor":
		return runCheck(args)
	case "version":
		fmt.Printf("pushdeploy version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`pushdeploy - deploy on GitHub push

Usage:
  pushdeploy <command> [flags]

Commands:
  serve      Run the webhook receiver in the foreground
  history    Show recent deployments
  watch      Follow a running receiver in a live TUI
  trigger    Send a signed push event to a receiver (manual re-deploy)
  check      Verify the script, shell, state and log locations
  version    Show version information
  help       Show this help message

Common flags:
  --config <path>     YAML configuration file (optional)
  --env-file <path>   dotenv file loaded first (default: .env)

Configuration can come entirely from the environment:
  WEBHOOK_SECRET, DEPLOY_SCRIPT, PORT, LOG_FILE, PUSHDEPLOY_LISTEN,
  PUSHDEPLOY_STATE_PATH, PUSHDEPLOY_API_TOKEN, PUSHDEPLOY_LOG_LEVEL
`)
}

// configFlags registers the flags every command uses to find configuration.
func configFlags(fs *flag.FlagSet) *config.Options {
	opts := &config.Options{}
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML configuration file")
	fs.StringVar(&opts.EnvFile, "env-file", ".env", "Path to dotenv file")
	return opts
}

// localURL turns a listen address into a URL reachable from this host.
func localURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
