package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	envServer    = "GOVERNOR_SERVER"
	envMasterKey = "GOVERNOR_MASTER_KEY"
)

type globalFlags struct {
	server  string
	timeout time.Duration
}

// NewRootCmd дерево команд govctl; каждый вызов строит новое дерево
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "govctl",
		Short: "Operator console for the governance gateway",
		Long: `govctl talks to the governance gateway console API.

It executes master-key admin commands, submits requests on behalf of a
token holder and issues RS256 tokens for callers.`,
		SilenceUsage: true,
	}
	server := os.Getenv(envServer)
	if server == "" {
		server = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&g.server, "server", server, "gateway console URL ($"+envServer+")")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 30*time.Second, "HTTP timeout")

	root.AddCommand(
		newCommandCmd(g),
		newCommandsCmd(g),
		newSubmitCmd(g),
		newTokenCmd(),
	)
	return root
}

// Execute точка входа бинарника
func Execute() error {
	return NewRootCmd().Execute()
}

func (g *globalFlags) client() *Client {
	return NewClient(g.server, g.timeout)
}

// parseParams разбирает key=value; значение читается как YAML-скаляр (10 -> int, true -> bool)
func parseParams(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]interface{}, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("parameter %q must be key=value", p)
		}
		var val interface{}
		if err := yaml.Unmarshal([]byte(v), &val); err != nil || val == nil {
			val = v
		}
		out[k] = val
	}
	return out, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
