package handlers

import (
	"errors"
	"fmt"

	"curator/internal/store"

	"github.com/spf13/cobra"
)

// NewGUIDsCmd creates the guid maintenance command
func NewGUIDsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guids",
		Short: "Maintain item identifiers",
	}

	cmd.AddCommand(newGUIDsUpdateCmd())

	return cmd
}

func newGUIDsUpdateCmd() *cobra.Command {
	var execute bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Re-derive guids from item links",
		Long: `Re-derive every item's guid from its normalized link, for records
created before the current hashing scheme. Runs as a dry run by default;
pass --execute to apply the changes.

The update refuses to run if two distinct links would collide on the same
derived guid.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGUIDsUpdate(execute)
		},
	}

	cmd.Flags().BoolVar(&execute, "execute", false, "Apply the changes instead of printing them")

	return cmd
}

func runGUIDsUpdate(execute bool) error {
	st, _, err := openStores()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	changes, err := st.PlanGUIDUpdates()
	if err != nil {
		var collision *store.GUIDCollisionError
		if errors.As(err, &collision) {
			return fmt.Errorf("refusing to update guids: %w", err)
		}
		return fmt.Errorf("failed to plan guid updates: %w", err)
	}

	if len(changes) == 0 {
		fmt.Println("All guids already match the current derivation.")
		return nil
	}

	for _, change := range changes {
		fmt.Printf("%s -> %s (%s)\n", change.OldGUID, change.NewGUID, change.Link)
	}

	if !execute {
		fmt.Printf("\nDry run: %d items would change. Pass --execute to apply.\n", len(changes))
		return nil
	}

	applied, err := st.ApplyGUIDUpdates(changes)
	if err != nil {
		return fmt.Errorf("guid update failed after %d items: %w", applied, err)
	}
	fmt.Printf("\nUpdated %d items.\n", applied)
	return nil
}
