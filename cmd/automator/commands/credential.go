package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/chaosslabs/personal-automator/pkg/automator/store"
)

// newCredentialCmd creates the `automator credential` command group.
func newCredentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credential",
		Aliases: []string{"cred", "credentials"},
		Short:   "Manage vault-sealed credential values",
	}

	cmd.AddCommand(
		newCredentialListCmd(),
		newCredentialSetCmd(),
		newCredentialClearCmd(),
		newCredentialDeleteCmd(),
	)
	return cmd
}

func newCredentialListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List credential metadata (values are never shown)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, cleanup, err := buildDaemon(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			creds, err := d.service.ListCredentials()
			if err != nil {
				return fmt.Errorf("list credentials: %w", err)
			}
			if len(creds) == 0 {
				fmt.Println("no credentials declared")
				return nil
			}
			for _, c := range creds {
				fmt.Printf("%-4d %-24s %-12s value=%v\n", c.ID, c.Name, c.Type, c.HasValue)
			}
			return nil
		},
	}
}

// newCredentialSetCmd prompts for a secret value without echoing it and
// seals it into the vault, creating the credential's metadata if it does
// not already exist (grounded on the teacher's masked password prompt).
func newCredentialSetCmd() *cobra.Command {
	var credType string
	var description string

	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Set a credential's value (prompts for the value, not echoed)",
		Long: `Declares the credential if it does not exist yet, then prompts for
its value on the terminal without echoing keystrokes, and seals it
into the vault.

Examples:
  automator credential set github-token
  automator credential set webhook-secret --type secret`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			d, cleanup, err := buildDaemon(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			value, err := readPassword(fmt.Sprintf("Value for %q: ", name))
			if err != nil {
				return fmt.Errorf("read value: %w", err)
			}
			if value == "" {
				return fmt.Errorf("empty credential value rejected")
			}

			existing, err := findCredentialByName(d, name)
			if err == nil {
				if err := d.service.UpdateCredentialValue(existing.ID, value); err != nil {
					return fmt.Errorf("update credential value: %w", err)
				}
				fmt.Printf("updated value for credential %q (id=%d)\n", name, existing.ID)
				return nil
			}

			created, err := d.service.CreateCredentialWithValue(store.Credential{
				Name:        name,
				Type:        store.CredentialType(credType),
				Description: description,
			}, value)
			if err != nil {
				return fmt.Errorf("create credential: %w", err)
			}
			fmt.Printf("created credential %q (id=%d)\n", name, created.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&credType, "type", string(store.CredSecret), "credential type: api_key, oauth_token, env_var, secret")
	cmd.Flags().StringVar(&description, "description", "", "optional description")
	return cmd
}

func newCredentialClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <name>",
		Short: "Clear a credential's value, keeping its metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, cleanup, err := buildDaemon(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			existing, err := findCredentialByName(d, args[0])
			if err != nil {
				return err
			}
			if err := d.service.ClearCredentialValue(existing.ID); err != nil {
				return fmt.Errorf("clear credential value: %w", err)
			}
			fmt.Printf("cleared value for credential %q (id=%d)\n", args[0], existing.ID)
			return nil
		},
	}
}

func newCredentialDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a credential and its value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, cleanup, err := buildDaemon(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			existing, err := findCredentialByName(d, args[0])
			if err != nil {
				return err
			}
			if err := d.service.DeleteCredential(existing.ID); err != nil {
				return fmt.Errorf("delete credential: %w", err)
			}
			fmt.Printf("deleted credential %q (id=%d)\n", args[0], existing.ID)
			return nil
		},
	}
}

func findCredentialByName(d *daemon, name string) (store.Credential, error) {
	creds, err := d.service.ListCredentials()
	if err != nil {
		return store.Credential{}, fmt.Errorf("list credentials: %w", err)
	}
	for _, c := range creds {
		if c.Name == name {
			return c, nil
		}
	}
	return store.Credential{}, fmt.Errorf("no credential named %q", name)
}

// readPassword reads a value from the terminal without echoing it, falling
// back to plain stdin reading when stdin is not a terminal (piped input).
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := int(os.Stdin.Fd())
	value, err := term.ReadPassword(fd)
	if err != nil {
		var buf [1024]byte
		n, readErr := os.Stdin.Read(buf[:])
		if readErr != nil {
			return "", readErr
		}
		value = buf[:n]
	}
	fmt.Println()

	return strings.TrimRight(string(value), "\r\n"), nil
}
