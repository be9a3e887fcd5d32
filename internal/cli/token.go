package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/xela07ax/spaceai-governance/internal/infra"
	"github.com/xela07ax/spaceai-governance/internal/infra/auth"
)

func newTokenCmd() *cobra.Command {
	var (
		configPath string
		keyPath    string
		license    string
		scopes     []string
		ttl        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token USER_ID",
		Short: "Issue an RS256 token for a caller",
		Long: `Issue a token signed with the gateway private key. The key is taken from
--private-key, then from $AUTH_PRIVATE_KEY_DATA or auth.private_key_path in the config.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pem []byte
			if keyPath != "" {
				data, err := os.ReadFile(keyPath)
				if err != nil {
					return fmt.Errorf("read private key: %w", err)
				}
				pem = data
			} else {
				cfg, err := infra.LoadConfig(configPath)
				if err != nil {
					return err
				}
				pem = cfg.Auth.PrivateKey
				if ttl == 0 {
					ttl = cfg.Auth.TokenTTL
				}
			}
			key, err := auth.ParseRSAPrivateKey(pem)
			if err != nil {
				return err
			}
			tok, err := auth.NewIssuer(key, ttl).Issue(args[0], license, scopes)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "gateway config file")
	cmd.Flags().StringVar(&keyPath, "private-key", "", "PEM private key file")
	cmd.Flags().StringVar(&license, "license", "", "license key bound to the token")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "granted scopes, repeatable")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.token_ttl)")
	return cmd
}
