// mydrive-user creates an account from the command line, for instances where
// open registration is not wanted or a first user has to exist before the
// server is exposed.
//
// Usage:
//
//	mydrive-user -config /etc/mydrive.yaml -username alice
//
// The password is read from the terminal without echo, or from stdin when
// stdin is not a terminal.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/AlexanderSatryo135/myDrive/internal/auth"
	"github.com/AlexanderSatryo135/myDrive/internal/config"
	"github.com/AlexanderSatryo135/myDrive/internal/database"
	"github.com/AlexanderSatryo135/myDrive/internal/logging"
	"github.com/AlexanderSatryo135/myDrive/internal/vfs"
)

func main() {
	configPath := flag.String("config", os.Getenv("MYDRIVE_CONFIG"), "Path to a YAML config file (optional)")
	username := flag.String("username", "", "Account to create")
	flag.Parse()

	if err := logging.Init(logging.Config{Level: "warn", Format: "console", OutputPath: "stderr"}); err != nil {
		panic("logging init: " + err.Error())
	}
	defer logging.Sync()

	if *username == "" {
		fmt.Fprintln(os.Stderr, "Error: -username is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatal("config error", zap.Error(err))
	}

	password, err := readPassword()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading password: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		logging.Fatal("migration failed", zap.Error(err))
	}

	a := auth.New(store.DB(), cfg.JWTSecret, cfg.TokenTTL)
	if err := a.Register(ctx, *username, password); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Create the tenant root up front so it shows up for WebDAV clients too.
	roots, err := vfs.NewRoots(cfg.StorageRoot)
	if err == nil {
		_, err = roots.Root(*username)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: user created but storage root not prepared: %v\n", err)
	}

	fmt.Printf("User %q created\n", *username)
}

func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Print("Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	fmt.Print("Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(first), nil
}
