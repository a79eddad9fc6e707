package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List registered devices and their index counts",
	RunE:  runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	_, st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}

	if len(stats.Devices) == 0 {
		fmt.Println("No devices registered")
		return nil
	}

	fmt.Printf("%-12s %-12s %-12s %10s %10s %10s  %s\n",
		"DEVICE", "KIND", "STATUS", "PATIENTS", "STUDIES", "IMAGES", "LAST INDEXED")
	for _, d := range stats.Devices {
		lastIndexed := "-"
		if !d.LastIndexed.IsZero() {
			lastIndexed = d.LastIndexed.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-12s %-12s %-12s %10d %10d %10d  %s\n",
			d.ID, d.Kind, d.Status, d.TotalPatients, d.TotalStudies, d.TotalInstances, lastIndexed)
	}

	fmt.Printf("\nTotals: %d patients, %d studies, %d series, %d images\n",
		stats.Totals.Patients, stats.Totals.Studies, stats.Totals.Series, stats.Totals.Instances)
	return nil
}
