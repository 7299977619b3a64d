package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/leadclaw/pkg/leadclaw/bot"
)

// newConfigCmd creates the `leadclaw config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage assistant configuration and credentials",
		Long: `Manage LeadClaw configuration and credentials.

Examples:
  leadclaw config init
  leadclaw config show
  leadclaw config set-key
  leadclaw config vault-init
  leadclaw config vault-set api_key`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigSetKeyCmd(),
		newConfigVaultInitCmd(),
		newConfigVaultSetCmd(),
		newConfigVaultListCmd(),
	)

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config.yaml",
		RunE: func(_ *cobra.Command, _ []string) error {
			path := "config.yaml"
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}

			if err := bot.SaveConfigToFile(bot.DefaultConfig(), path); err != nil {
				return err
			}

			fmt.Printf("Configuration written to ./%s\n", path)
			fmt.Println("Edit it to set your assistant ID and channel tokens, then run 'leadclaw serve'.")
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			// Never print resolved secrets.
			cfg.Agent.APIKey = redact(cfg.Agent.APIKey)
			cfg.Channels.Telegram.Token = redact(cfg.Channels.Telegram.Token)
			cfg.Channels.Discord.Token = redact(cfg.Channels.Discord.Token)
			cfg.Email.Password = redact(cfg.Email.Password)

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the agent API key in the OS keyring",
		RunE: func(_ *cobra.Command, _ []string) error {
			if !bot.KeyringAvailable() {
				return fmt.Errorf("OS keyring unavailable. Use 'leadclaw config vault-init' instead")
			}

			key, err := bot.ReadPassword("API key: ")
			if err != nil {
				return err
			}
			if key == "" {
				return fmt.Errorf("no key entered")
			}

			if err := bot.StoreKeyring("api_key", key); err != nil {
				return fmt.Errorf("storing key: %w", err)
			}
			fmt.Println("API key stored in the OS keyring.")
			return nil
		},
	}
}

func newConfigVaultInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vault-init",
		Short: "Create an encrypted credential vault",
		RunE: func(_ *cobra.Command, _ []string) error {
			vault := bot.NewVault(bot.VaultFile)
			if vault.Exists() {
				return fmt.Errorf("vault already exists at %s", vault.Path())
			}

			password, err := bot.ReadPassword("Master password: ")
			if err != nil {
				return err
			}
			confirm, err := bot.ReadPassword("Confirm password: ")
			if err != nil {
				return err
			}
			if password != confirm {
				return fmt.Errorf("passwords do not match")
			}
			if len(password) < 8 {
				return fmt.Errorf("password must be at least 8 characters")
			}

			if err := vault.Create(password); err != nil {
				return err
			}
			fmt.Printf("Vault created at %s\n", vault.Path())
			return nil
		},
	}
}

func newConfigVaultSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vault-set <name>",
		Short: "Store a secret in the encrypted vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			vault := bot.NewVault(bot.VaultFile)
			if !vault.Exists() {
				return fmt.Errorf("no vault found. Run 'leadclaw config vault-init' first")
			}

			password, err := bot.ReadPassword("Vault password: ")
			if err != nil {
				return err
			}
			if err := vault.Unlock(password); err != nil {
				return err
			}
			defer vault.Lock()

			value, err := bot.ReadPassword(fmt.Sprintf("Value for %s: ", args[0]))
			if err != nil {
				return err
			}
			if err := vault.Set(args[0], value); err != nil {
				return err
			}

			fmt.Printf("Secret %q stored in the vault.\n", args[0])
			return nil
		},
	}
}

func newConfigVaultListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vault-list",
		Short: "List secret names stored in the vault",
		RunE: func(_ *cobra.Command, _ []string) error {
			vault := bot.NewVault(bot.VaultFile)
			if !vault.Exists() {
				return fmt.Errorf("no vault found. Run 'leadclaw config vault-init' first")
			}

			password, err := bot.ReadPassword("Vault password: ")
			if err != nil {
				return err
			}
			if err := vault.Unlock(password); err != nil {
				return err
			}
			defer vault.Lock()

			keys := vault.List()
			if len(keys) == 0 {
				fmt.Println("Vault is empty.")
				return nil
			}
			for _, k := range keys {
				fmt.Println(k)
			}
			return nil
		},
	}
}

// redact masks a secret for display.
func redact(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 6 {
		return "******"
	}
	return s[:3] + "..." + s[len(s)-2:]
}
