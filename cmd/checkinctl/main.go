package main

import (
	"os"

	"checkin/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		os.Exit(app.ExitCode(err))
	}
}
