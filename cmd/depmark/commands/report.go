package commands

import (
	"fmt"
	"strings"

	"github.com/depmark/depmark/pkg/engine"
)

// markReport is the JSON shape shared by the marking commands.
type markReport struct {
	Transaction string            `json:"transaction,omitempty"`
	Changed     int               `json:"changed"`
	Refused     []string          `json:"refused,omitempty"`
	Sweep       engine.SweepStats `json:"sweep"`
	Stats       engine.Statistics `json:"stats"`
}

// reportMark prints the outcome of a marking transaction and surfaces
// refusals as a command failure so scripts notice the exit code.
func reportMark(sum *txSummary, refused []string) error {
	if jsonOutput {
		rep := markReport{
			Changed: sum.Changed,
			Refused: refused,
			Sweep:   sum.Sweep,
			Stats:   sum.Stats,
		}
		if sum.Changed > 0 {
			rep.Transaction = sum.ID.String()
		}
		if err := printJSON(rep); err != nil {
			return err
		}
	} else {
		st := sum.Stats
		fmt.Printf("changed %d package state(s) (install %d, delete %d, keep %d, broken %d)\n",
			sum.Changed, st.Install, st.Delete, st.Keep, st.Broken)
		if sw := sum.Sweep; sw.Collected > 0 || sw.Reinstated > 0 || sw.Conflicted > 0 {
			fmt.Printf("sweep: collected %d, reinstated %d, conflicted %d\n",
				sw.Collected, sw.Reinstated, sw.Conflicted)
		}
	}
	if len(refused) > 0 {
		return fmt.Errorf("refused: %s", strings.Join(refused, ", "))
	}
	return nil
}

// humanBytes renders a byte count the way the status display wants it.
// Negative values keep their sign so net size deltas read naturally.
func humanBytes(n int64) string {
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%s%.1f GiB", sign, float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%s%.1f MiB", sign, float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%s%.1f KiB", sign, float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%s%d B", sign, n)
	}
}
