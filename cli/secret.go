package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"switchyard.dev/signing"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "generate a webhook signing secret",
	Long: `Secret prints a fresh signing secret suitable for an integration's
signing block. Receivers verify deliveries by recomputing the HMAC-SHA256
over "<message-id>.<timestamp>.<body>" with this secret and comparing it to
the signature header on the request.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		secret, err := signing.GenerateSecret()
		if err != nil {
			return fmt.Errorf("generate secret: %w", err)
		}
		fmt.Println(secret)
		return nil
	},
}
