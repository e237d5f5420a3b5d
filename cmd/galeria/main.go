package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/eringen/galeria"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "init":
		err = runInit(args)
	case "hash-password":
		err = runHashPassword(args)
	case "version":
		fmt.Printf("galeria %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`galeria - a self-hosted image gallery

Usage:
  galeria [command] [-config file.yaml]

Commands:
  serve           Run the web server (default)
  init            Create the database schema and seed the admin account
  hash-password   Print a bcrypt hash for ADMIN_PASS_HASH
  version         Print the galeria version
  help            Show this help message

Configuration comes from an optional YAML file overlaid by environment
variables (ADMIN_USER, ADMIN_PASS, SESSION_SECRET, STORAGE_MODE, ...).`)
}

func loadConfig(name string, args []string) (galeria.Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	path := fs.String("config", galeria.EnvOr("GALERIA_CONFIG", ""), "YAML config file")
	if err := fs.Parse(args); err != nil {
		return galeria.Config{}, err
	}
	return galeria.LoadConfig(*path)
}

func runServe(args []string) error {
	cfg, err := loadConfig("serve", args)
	if err != nil {
		return err
	}
	app := galeria.New(cfg, galeria.DefaultViews())
	defer app.Close()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		app.Echo.Logger.Info("shutting down")
		app.Echo.Close()
	}()

	return app.Start()
}
