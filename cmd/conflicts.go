package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/output"
	"github.com/spf13/cobra"
)

var (
	resolveChoice  string
	resolvePayload string
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List and resolve sync conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		entries, err := rt.Engine.UnresolvedConflicts()
		if err != nil {
			return err
		}

		if jsonOut {
			return output.JSON(entries)
		}
		if len(entries) == 0 {
			output.Info("no unresolved conflicts")
			return nil
		}
		for i := range entries {
			output.Conflict(&entries[i])
		}
		return nil
	},
}

var conflictsShowCmd = &cobra.Command{
	Use:   "show <conflict-id>",
	Short: "Show a conflict's field-level detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		entry, err := rt.Store.GetConflict(args[0])
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("conflict %s not found", args[0])
		}

		if jsonOut {
			return output.JSON(entry)
		}

		rendered, err := output.RenderMarkdown(conflictMarkdown(entry))
		if err != nil {
			return err
		}
		fmt.Println(rendered)
		return nil
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id>",
	Short: "Resolve a conflict by choosing local, server, or a merged payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		choice := resolveChoice
		if choice == "" {
			if !output.Interactive() {
				return fmt.Errorf("no --choice given and stdout is not a terminal")
			}
			if choice, err = promptChoice(args[0]); err != nil {
				return err
			}
		}
		if !models.IsValidResolutionChoice(choice) {
			return fmt.Errorf("unknown choice %q (want local, server, or merge)", choice)
		}

		res := models.Resolution{Choice: models.ResolutionChoice(choice)}
		if res.Choice == models.ChoiceMerge {
			if resolvePayload == "" {
				return fmt.Errorf("merge resolution requires --payload")
			}
			merged, err := validateJSON([]byte(resolvePayload))
			if err != nil {
				return fmt.Errorf("--payload: %w", err)
			}
			res.MergedPayload = merged
		}

		final, err := rt.Engine.Resolve(cmd.Context(), args[0], res)
		if err != nil {
			return err
		}

		if jsonOut {
			return output.JSON(map[string]any{"resolved": args[0], "data": json.RawMessage(final)})
		}
		output.Success("resolved %s (%s)", args[0], choice)
		return nil
	},
}

func promptChoice(conflictID string) (string, error) {
	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Resolve " + conflictID).
			Options(
				huh.NewOption("Keep local changes", string(models.ChoiceLocal)),
				huh.NewOption("Accept server state", string(models.ChoiceServer)),
				huh.NewOption("Merge manually (requires --payload)", string(models.ChoiceMerge)),
			).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return "", err
	}
	return choice, nil
}

func conflictMarkdown(e *models.ConflictLedgerEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Conflict %s\n\n", e.ID)
	fmt.Fprintf(&b, "- **Mutation:** %s\n", e.MutationID)
	fmt.Fprintf(&b, "- **Detected:** %s\n\n", e.CreatedAt.Local().Format("2006-01-02 15:04:05"))

	if len(e.FieldConflicts) == 0 {
		b.WriteString("No field-level detail was recorded for this conflict.\n")
		return b.String()
	}

	b.WriteString("| Field | Local | Server |\n|---|---|---|\n")
	for _, fc := range e.FieldConflicts {
		fmt.Fprintf(&b, "| `%s` | `%s` | `%s` |\n", fc.Field, string(fc.LocalValue), string(fc.ServerValue))
	}
	return b.String()
}

func init() {
	conflictsResolveCmd.Flags().StringVarP(&resolveChoice, "choice", "c", "", "resolution choice: local, server, or merge")
	conflictsResolveCmd.Flags().StringVar(&resolvePayload, "payload", "", "merged payload JSON (required for merge)")

	conflictsCmd.AddCommand(conflictsShowCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}
