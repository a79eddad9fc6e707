package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"pacs-index/internal/store"
)

var (
	searchModality string
	searchDate     string
	searchDevice   string
	searchLimit    int
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search patients across all indexed devices",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSearch,
}

var locationsCmd = &cobra.Command{
	Use:   "locations <patient-id>",
	Short: "List every indexed image file for a patient",
	Args:  cobra.ExactArgs(1),
	RunE:  runLocations,
}

func init() {
	searchCmd.Flags().StringVar(&searchModality, "modality", "", "filter by study modality (CT, MR, CR, ...)")
	searchCmd.Flags().StringVar(&searchDate, "date", "", "filter by study date (yyyymmdd)")
	searchCmd.Flags().StringVar(&searchDevice, "device", "", "restrict to one device")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 50, "maximum results")
	locationsCmd.Flags().StringVar(&searchDevice, "device", "", "restrict to one device")
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(locationsCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	_, st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := store.SearchOptions{
		Modality:  searchModality,
		StudyDate: searchDate,
		DeviceID:  searchDevice,
		Limit:     searchLimit,
	}
	if len(args) == 1 {
		opts.Query = args[0]
	}

	results, err := st.SearchPatients(ctx, opts)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No patients found")
		return nil
	}

	fmt.Printf("%-16s %-24s %-12s %8s %8s %-16s\n", "PATIENT ID", "NAME", "DEVICE", "STUDIES", "IMAGES", "MODALITIES")
	for _, p := range results {
		fmt.Printf("%-16s %-24s %-12s %8d %8d %-16s\n",
			p.PatientID, p.Name, p.DeviceID, p.StudyCount, p.ImageCount, p.Modalities)
	}
	return nil
}

func runLocations(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	_, st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	locations, err := st.ImageLocations(ctx, args[0], searchDevice)
	if err != nil {
		return err
	}

	if len(locations) == 0 {
		fmt.Println("No images indexed for patient")
		return nil
	}

	fmt.Printf("%-12s %-10s %-8s %-20s %s\n", "DEVICE", "DATE", "MOD", "STUDY", "FILE")
	for _, loc := range locations {
		fmt.Printf("%-12s %-10s %-8s %-20s %s\n",
			loc.DeviceID, loc.StudyDate, loc.Modality, loc.StudyDescription, loc.FilePath)
	}
	return nil
}
