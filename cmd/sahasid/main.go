package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sahasi-app/sahasi/internal/daemon"
	"github.com/sahasi-app/sahasi/internal/session"
	"go.uber.org/fx"
)

func main() {
	// Optional .env next to the binary; SAHASI_* variables override the
	// config file.
	_ = godotenv.Load()

	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: sessionName}),
	)

	app.Run()
}
