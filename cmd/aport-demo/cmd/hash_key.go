package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aporthq/aport-go/internal/mockapi"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate an Argon2id hash for a mock API key",
	Long: `Generate an Argon2id hash of an API key for the mock API config.

The output is a PHC-format string that goes straight into the
mock_api.api_key_hashes list:

  mock_api:
    require_auth: true
    api_key_hashes:
      - "$argon2id$v=19$m=48128,t=1,p=1$..."

Security note: the key will appear in shell history.
Consider using an environment variable instead:
  aport-demo hash-key "$APORT_MOCK_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := mockapi.HashKey(args[0])
		if err != nil {
			return fmt.Errorf("failed to hash key: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}
