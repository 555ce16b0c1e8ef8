// Package cli implements the passvault command-line client. The master
// password is read from the terminal and the encryption key is derived
// locally with argon2id; only the derived key, base64-encoded, ever goes to
// the server.
package cli

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dzaharov/passvault/internal/client"
	"github.com/dzaharov/passvault/internal/cryptox"
)

type App struct {
	out io.Writer
}

func NewApp() *App {
	return &App{out: os.Stdout}
}

// Run dispatches one subcommand: unlock, list, add, get, or rotate.
func (a *App) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("passvault", flag.ContinueOnError)
	server := fs.String("server", "http://localhost:8080", "vault server base URL")
	token := fs.String("token", os.Getenv("PASSVAULT_TOKEN"), "bearer token (or PASSVAULT_TOKEN)")
	saltB64 := fs.String("salt", os.Getenv("PASSVAULT_SALT"), "per-user key salt, base64 (issued at registration)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: passvault [flags] unlock|list|add|get|rotate")
	}

	salt, err := base64.StdEncoding.DecodeString(*saltB64)
	if err != nil || len(salt) == 0 {
		return fmt.Errorf("a valid base64 -salt is required")
	}

	c := client.New(*server, *token)

	switch cmd := fs.Arg(0); cmd {
	case "unlock":
		return a.unlock(ctx, c, salt)
	case "list":
		return a.list(ctx, c, salt)
	case "add":
		return a.add(ctx, c, salt, fs.Args()[1:])
	case "get":
		if fs.NArg() < 2 {
			return fmt.Errorf("usage: passvault get <entry-id>")
		}
		return a.get(ctx, c, salt, fs.Arg(1))
	case "rotate":
		return a.rotate(ctx, c, salt)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *App) unlock(ctx context.Context, c *client.Client, salt []byte) error {
	key, err := a.deriveKey("Master password: ", salt)
	if err != nil {
		return err
	}

	result, err := c.Unlock(ctx, key)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "vault unlocked at %s (%d attempts remaining in window)\n",
		result.UnlockedAt.Format("15:04:05"), result.AttemptsRemaining)
	return nil
}

func (a *App) list(ctx context.Context, c *client.Client, salt []byte) error {
	key, err := a.deriveKey("Master password: ", salt)
	if err != nil {
		return err
	}

	entries, err := c.ListEntries(ctx, key)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Fprintln(a.out, "vault is empty")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(a.out, "%s  [%s]  %s  %s\n", e.ID, e.Category, e.Title, e.Username)
	}
	return nil
}

func (a *App) add(ctx context.Context, c *client.Client, salt []byte, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	title := fs.String("title", "", "entry title")
	username := fs.String("username", "", "username")
	email := fs.String("email", "", "email")
	website := fs.String("website", "", "website URL")
	notes := fs.String("notes", "", "notes")
	category := fs.String("category", "login", "category: login|card|note|wifi|other")
	favorite := fs.Bool("favorite", false, "mark as favorite")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *title == "" {
		return fmt.Errorf("-title is required")
	}

	key, err := a.deriveKey("Master password: ", salt)
	if err != nil {
		return err
	}
	secret, err := readPassword("Password to store: ")
	if err != nil {
		return err
	}

	id, err := c.CreateEntry(ctx, key, client.EntryData{
		Title:    *title,
		Username: *username,
		Email:    *email,
		Password: secret,
		Website:  *website,
		Notes:    *notes,
		Category: *category,
		Favorite: *favorite,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "created entry %s\n", id)
	return nil
}

func (a *App) get(ctx context.Context, c *client.Client, salt []byte, id string) error {
	key, err := a.deriveKey("Master password: ", salt)
	if err != nil {
		return err
	}

	e, err := c.GetEntry(ctx, key, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "title:    %s\n", e.Title)
	fmt.Fprintf(a.out, "username: %s\n", e.Username)
	fmt.Fprintf(a.out, "password: %s\n", e.Password)
	if e.Website != "" {
		fmt.Fprintf(a.out, "website:  %s\n", e.Website)
	}
	if e.Notes != "" {
		fmt.Fprintf(a.out, "notes:    %s\n", e.Notes)
	}
	return nil
}

func (a *App) rotate(ctx context.Context, c *client.Client, salt []byte) error {
	currentKey, err := a.deriveKey("Current master password: ", salt)
	if err != nil {
		return err
	}
	newKey, err := a.deriveKey("New master password: ", salt)
	if err != nil {
		return err
	}
	confirmKey, err := a.deriveKey("Repeat new master password: ", salt)
	if err != nil {
		return err
	}
	if newKey != confirmKey {
		return fmt.Errorf("new passwords do not match")
	}

	result, err := c.ChangeMasterPassword(ctx, currentKey, newKey)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "re-encrypted %d of %d entries\n", result.ReencryptedEntries, result.TotalEntries)
	if len(result.SkippedEntries) > 0 {
		fmt.Fprintf(a.out, "WARNING: %d entries could not be re-encrypted and are still under the old key:\n",
			len(result.SkippedEntries))
		for _, id := range result.SkippedEntries {
			fmt.Fprintf(a.out, "  %s\n", id)
		}
		fmt.Fprintln(a.out, "run rotate again with the old password to retry them")
	}
	return nil
}

// deriveKey prompts for a password and derives the wire-format vault key.
func (a *App) deriveKey(prompt string, salt []byte) (string, error) {
	password, err := readPassword(prompt)
	if err != nil {
		return "", err
	}
	key := cryptox.DeriveMasterKey([]byte(password), salt)
	return cryptox.EncodeKey(key), nil
}
