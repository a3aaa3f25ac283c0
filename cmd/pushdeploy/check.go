package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mattjoyce/pushdeploy/internal/config"
	"github.com/mattjoyce/pushdeploy/internal/doctor"
)

func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	opts := configFlags(fs)
	asJSON := fs.Bool("json", false, "Output JSON")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()
	if *asJSON {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode result: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid || (*strict && len(result.Warnings) > 0) {
		return 1
	}
	return 0
}
