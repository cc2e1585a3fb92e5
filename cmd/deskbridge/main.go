package main

import (
	"os"

	"github.com/deskbridge/deskbridge/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}
