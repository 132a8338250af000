package main

import (
	"os"

	"github.com/mykarfour/quiz-attempt-engine/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
