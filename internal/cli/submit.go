package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xela07ax/spaceai-governance/internal/domain"
)

const envToken = "GOVERNOR_TOKEN"

func newSubmitCmd(g *globalFlags) *cobra.Command {
	var (
		kind     string
		params   []string
		priority string
		token    string
	)
	cmd := &cobra.Command{
		Use:   "submit ACTION",
		Short: "Submit a request to the governance pipeline",
		Long: `Submit a capability, workflow or system request:

  govctl submit stripe_payment --param amount=10
  govctl submit month_close --kind workflow`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv(envToken)
			}
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			req := domain.Request{
				Kind:    domain.RequestKind(kind),
				Action:  args[0],
				Params:  p,
				Context: domain.RequestContext{Priority: domain.Priority(priority)},
			}
			if err := req.Validate(); err != nil {
				return err
			}
			res, err := g.client().Submit(cmd.Context(), req, token)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("request %s failed: %s", res.RequestID, strings.Join(res.Errors, "; "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(domain.KindCapability), "request kind: capability, workflow or system")
	cmd.Flags().StringArrayVar(&params, "param", nil, "request parameter key=value, repeatable")
	cmd.Flags().StringVar(&priority, "priority", string(domain.PriorityNormal), "request priority")
	cmd.Flags().StringVar(&token, "token", "", "caller JWT ($"+envToken+")")
	return cmd
}
