package main

import (
	"github.com/subosito/gotenv"
)

func main() {
	// Credentials may live in a local .env during development; a missing
	// file is fine
	_ = gotenv.Load()

	Execute()
}
