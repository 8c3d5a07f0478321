package main

import (
	"fmt"
	"os"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/cmd/planning-pipeline/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
