package main

import (
	"os"

	"github.com/porthorian/sessionauth/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
