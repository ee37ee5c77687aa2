package main

import (
	"github.com/jurijkreutz/determined/backend"
	"github.com/jurijkreutz/determined/frontend"
)

func main() {
	// Run the full backend in the background, then hand the terminal to
	// the interactive shell.
	go backend.RunBackend()
	frontend.RunFrontend()
}
