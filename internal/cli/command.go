package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xela07ax/spaceai-governance/internal/admin"
)

func newCommandCmd(g *globalFlags) *cobra.Command {
	var (
		target    string
		params    []string
		override  bool
		masterKey string
	)
	cmd := &cobra.Command{
		Use:   "command NAME",
		Short: "Execute an admin command with the master key",
		Long: `Execute one of the admin plane commands, for example:

  govctl command EMERGENCY_STOP --param reason="incident 42"
  govctl command DISABLE_SKILL --param skillId=stripe_payment
  govctl command FORCE_EXECUTE --target stripe_payment --param amount=10 --override`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if masterKey == "" {
				masterKey = os.Getenv(envMasterKey)
			}
			if masterKey == "" {
				return fmt.Errorf("master key is required (--master-key or $%s)", envMasterKey)
			}
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			res, err := g.client().Command(cmd.Context(), admin.Command{
				Command:  admin.CommandName(strings.ToUpper(args[0])),
				Target:   target,
				Params:   p,
				Override: override,
			}, masterKey)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("%s failed: %s", res.Command, res.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "command target (customer, agent, capability)")
	cmd.Flags().StringArrayVar(&params, "param", nil, "command parameter key=value, repeatable")
	cmd.Flags().BoolVar(&override, "override", false, "confirm a destructive override")
	cmd.Flags().StringVar(&masterKey, "master-key", "", "admin master key ($"+envMasterKey+")")
	return cmd
}

func newCommandsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List admin commands supported by the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := g.client().Commands(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}
