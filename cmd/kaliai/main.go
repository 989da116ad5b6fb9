package main

import (
	"os"

	"github.com/AMCarbonaro/KaliAI/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
