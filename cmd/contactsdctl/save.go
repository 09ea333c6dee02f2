package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/contactsdb/internal/storage"
	"github.com/steveyegge/contactsdb/internal/types"
)

var (
	saveFirstName string
	saveLastName  string
	saveEmail     string
	savePhone     string
)

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Create a new local contact from --first/--last/--email/--phone",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := &types.Contact{SyncTarget: types.SyncTargetLocal}
		if saveFirstName != "" || saveLastName != "" {
			c.Details = append(c.Details, types.Detail{
				Type:   types.DetailName,
				Fields: map[string]any{"FirstName": saveFirstName, "LastName": saveLastName},
			})
		}
		if saveEmail != "" {
			c.Details = append(c.Details, types.Detail{
				Type:   types.DetailEmailAddress,
				Fields: map[string]any{"Address": saveEmail},
			})
		}
		if savePhone != "" {
			c.Details = append(c.Details, types.Detail{
				Type:   types.DetailPhoneNumber,
				Fields: map[string]any{"Number": savePhone},
			})
		}

		result, err := pipe.Save(rootCtx, []*types.Contact{c}, storage.ContactMask{})
		if err != nil {
			return err
		}
		if errs := result.Errors; len(errs) > 0 {
			return errs[0]
		}
		return printContact(c)
	},
}

func init() {
	saveCmd.Flags().StringVar(&saveFirstName, "first", "", "First name")
	saveCmd.Flags().StringVar(&saveLastName, "last", "", "Last name")
	saveCmd.Flags().StringVar(&saveEmail, "email", "", "Email address")
	saveCmd.Flags().StringVar(&savePhone, "phone", "", "Phone number")
	rootCmd.AddCommand(saveCmd)
}

func printContact(c *types.Contact) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	}
	label, _ := c.FirstDetailOfType(types.DetailDisplayLabel)
	fmt.Printf("contact %d (%s) sync_target=%s\n", c.ID, label.Fields["Label"], c.SyncTarget)
	return nil
}
