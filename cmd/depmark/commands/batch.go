package commands

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/depmark/depmark/pkg/engine"
	"github.com/depmark/depmark/pkg/script"
)

func newBatchCommand() *cobra.Command {
	var (
		timeout = script.DefaultTimeout
		sets    []string
	)

	cmd := &cobra.Command{
		Use:   "batch <script>",
		Short: "Run a Starlark batch file as one transaction",
		Long: `Run a Starlark batch file as one transaction.

The script drives the engine through built-in functions (install,
remove, keep, hold, markauto, tag, ...); each returns True when the
engine accepted the request. All accepted changes land in a single
transaction, so a failing script leaves the state file untouched and a
successful one can be undone in one step.

Pass "-" to read the script from standard input. Values given with
--set are exposed to the script through the input dict.`,
		Example: `  # Apply a pinned selection set
  depmark batch baseline.star

  # Parameterized run from stdin
  cat sweep.star | depmark batch - --set profile=minimal`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, true, func(s *session) error {
				var (
					src []byte
					err error
				)
				if args[0] == "-" {
					src, err = io.ReadAll(os.Stdin)
				} else {
					src, err = os.ReadFile(args[0])
				}
				if err != nil {
					return fmt.Errorf("reading script: %w", err)
				}

				input := make(map[string]interface{}, len(sets))
				for _, kv := range sets {
					k, v, ok := strings.Cut(kv, "=")
					if !ok {
						return fmt.Errorf("invalid --set %q, want key=value", kv)
					}
					input[k] = v
				}

				runner := script.NewRunner(s.eng, timeout, s.log)

				var res *script.Result
				sum, err := s.transact(commandLine(cmd, args), nil, func(undo *engine.UndoGroup) error {
					res, err = runner.Run(s.ctx, string(src), input, undo)
					return err
				})
				if err != nil {
					return err
				}

				if jsonOutput {
					txID := ""
					if sum.Changed > 0 {
						txID = sum.ID.String()
					}
					return printJSON(struct {
						Transaction string                 `json:"transaction,omitempty"`
						Applied     int                    `json:"applied"`
						Changed     int                    `json:"changed"`
						Refused     []string               `json:"refused,omitempty"`
						Output      map[string]interface{} `json:"output,omitempty"`
						Duration    string                 `json:"duration"`
					}{
						Transaction: txID,
						Applied:     res.Applied,
						Changed:     sum.Changed,
						Refused:     res.Refused,
						Output:      res.Output,
						Duration:    res.ExecutionTime.String(),
					})
				}

				fmt.Printf("script applied %d change(s) in %s\n", res.Applied, res.ExecutionTime.Round(time.Millisecond))
				if len(res.Output) > 0 {
					keys := make([]string, 0, len(res.Output))
					for k := range res.Output {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					for _, k := range keys {
						fmt.Printf("  %s = %v\n", k, res.Output[k])
					}
				}
				if len(res.Refused) > 0 {
					return fmt.Errorf("refused: %s", strings.Join(res.Refused, ", "))
				}
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", timeout, "Abort the script after this long")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Script input as key=value (repeatable)")

	return cmd
}
