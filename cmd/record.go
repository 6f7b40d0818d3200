package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/marcus/offsync/internal/engine"
	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/output"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	recordPayload string
	recordPrior   string
)

var recordCmd = &cobra.Command{
	Use:   "record <create|update|delete> <resource-kind>",
	Short: "Queue a mutation for later sync",
	Long: `Queue a create/update/delete mutation against a resource kind. The
payload is JSON, passed with --payload or piped on stdin. The mutation is
durably queued even while offline and synced on the next drain.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, resourceKind := args[0], args[1]
		if !models.IsValidMutationKind(kind) {
			return fmt.Errorf("unknown mutation kind %q (want create, update, or delete)", kind)
		}

		payload, err := readPayload(recordPayload)
		if err != nil {
			return err
		}

		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		in := engine.RecordActionInput{
			Kind:         models.MutationKind(kind),
			ResourceKind: resourceKind,
			Payload:      payload,
		}
		if recordPrior != "" {
			prior, err := validateJSON([]byte(recordPrior))
			if err != nil {
				return fmt.Errorf("--prior: %w", err)
			}
			in.PriorPayload = prior
		}

		id, err := rt.Engine.RecordAction(cmd.Context(), in)
		if err != nil {
			return err
		}

		if jsonOut {
			return output.JSON(map[string]string{"id": id})
		}
		output.Success("recorded %s", id)
		return nil
	},
}

// readPayload takes the inline flag value or falls back to stdin.
func readPayload(inline string) ([]byte, error) {
	if inline != "" {
		return validateJSON([]byte(inline))
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read payload from stdin: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no payload: pass --payload or pipe JSON on stdin")
	}
	return validateJSON(data)
}

func validateJSON(data []byte) ([]byte, error) {
	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return data, nil
}

func addPayloadFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&recordPayload, "payload", "p", "", "mutation payload as JSON (default: stdin)")
	fs.StringVar(&recordPrior, "prior", "", "optional pre-image JSON for client-side diffing")
}

func init() {
	addPayloadFlags(recordCmd.Flags())
	rootCmd.AddCommand(recordCmd)
}
