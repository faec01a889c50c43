package cmd

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// telemetry mirrors status.Telemetry's JSON shape. Duplicated here
// rather than imported so radioctl stays a thin HTTP client with no
// dependency on the daemon's internal packages.
type telemetry struct {
	Name      string  `json:"name"`
	SNR       float64 `json:"snr"`
	FOffset   float64 `json:"foffset"`
	Gain      float64 `json:"gain"`
	PLLLock   bool    `json:"pll_lock"`
	Rotations int     `json:"rotations"`
	Muted     bool    `json:"muted"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "list the live channels and their current telemetry",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	url := apiAddr + "/api/status"
	verbosef("GET %s", url)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("radioctl: fetch status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("radioctl: status reporter returned %s", resp.Status)
	}

	var channels []telemetry
	if err := json.NewDecoder(resp.Body).Decode(&channels); err != nil {
		return fmt.Errorf("radioctl: decode status: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSNR(dB)\tFOFFSET(Hz)\tGAIN\tLOCK\tROTATIONS\tMUTED")
	for _, t := range channels {
		fmt.Fprintf(tw, "%s\t%.1f\t%.2f\t%.3f\t%v\t%d\t%v\n",
			t.Name, 10*math.Log10(t.SNR), t.FOffset, t.Gain, t.PLLLock, t.Rotations, t.Muted)
	}
	return tw.Flush()
}
