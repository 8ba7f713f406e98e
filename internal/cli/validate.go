package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/insanalamin/mechaway/internal/workflow"
)

// validateResult is the JSON output shape of the validate command.
type validateResult struct {
	File  string `json:"file"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
	Nodes int    `json:"nodes,omitempty"`
	Edges int    `json:"edges,omitempty"`
}

// NewValidateCommand creates the validate command: schema, structural,
// and graph checks on a workflow definition file, without touching
// any storage.
func NewValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow.json>",
		Short: "Validate a workflow definition file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := args[0]
			result := validateResult{File: file}

			raw, err := os.ReadFile(file)
			if err != nil {
				return err
			}

			w, err := validateDefinition(raw)
			if err != nil {
				result.Error = err.Error()
			} else {
				result.Valid = true
				result.Nodes = len(w.Nodes)
				result.Edges = len(w.Edges)
			}

			if opts.Format == "json" {
				out, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			} else if result.Valid {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d nodes, %d edges)\n", file, result.Nodes, result.Edges)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: invalid: %s\n", file, result.Error)
			}

			if !result.Valid {
				return fmt.Errorf("validation failed")
			}
			return nil
		},
	}
}

func validateDefinition(raw []byte) (*workflow.Workflow, error) {
	w, err := workflow.Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if _, err := workflow.Compile(w); err != nil {
		return nil, err
	}
	return w, nil
}
