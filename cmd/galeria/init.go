package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/eringen/galeria"
)

// runInit creates the tables and seeds the single admin from ADMIN_USER and
// ADMIN_PASS. An existing admin is left alone.
func runInit(args []string) error {
	cfg, err := loadConfig("init", args)
	if err != nil {
		return err
	}
	if cfg.StorageMode != galeria.StorageDatabase {
		if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
			return fmt.Errorf("create upload dir: %w", err)
		}
		fmt.Printf("Upload directory %s ready.\n", cfg.UploadDir)
		fmt.Println("Filesystem mode keeps the admin in ADMIN_USER / ADMIN_PASS_HASH; nothing to seed.")
		return nil
	}

	db, err := galeria.OpenDB(cfg.DatabaseDriver, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()
	fmt.Println("Tables admins and images checked/created.")

	if cfg.AdminUser == "" || cfg.AdminPassword == "" {
		fmt.Println("ADMIN_USER or ADMIN_PASS not set. Admin not created.")
		return nil
	}
	created, err := galeria.NewDBCredentials(db).EnsureAdmin(context.Background(), cfg.AdminUser, cfg.AdminPassword)
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("Admin user (%s) created.\n", cfg.AdminUser)
	} else {
		fmt.Println("An admin user already exists; left unchanged.")
	}
	return nil
}

// runHashPassword reads a password from the first argument or stdin and
// prints its bcrypt hash.
func runHashPassword(args []string) error {
	var password string
	if len(args) > 0 {
		password = args[0]
	} else {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return errors.New("empty password")
	}
	hash, err := galeria.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
