// Darasa — bearer-token bridge between an OIDC identity provider, HashiCorp
// Vault, and a Moodle LMS.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "darasa",
	Short: "Darasa — per-identity Moodle token bridge backed by Vault.",
	Long: `Darasa exchanges a caller's OIDC bearer token for a Vault session and uses
it to store and retrieve that identity's personal Moodle web-service token.
Tokens are validated live against Moodle before they are stored or used, and
secret paths derive only from the Vault entity ID.`,
	RunE:          runServer, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serverCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
