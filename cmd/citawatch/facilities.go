package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmrobles/citawatch/internal/portal"
)

var facilitiesCmd = &cobra.Command{
	Use:   "facilities",
	Short: "List the known embassy codes",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tCONSULATE ID\tCAS FACILITY ID")
		for _, code := range portal.FacilityCodes() {
			f, err := portal.LookupFacility(code)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%d\t%d\n", f.Code, f.ConsulateID, f.CASFacilityID)
		}
		return w.Flush()
	},
}
