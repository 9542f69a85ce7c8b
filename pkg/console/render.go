package console

import (
	"fmt"
	"io"
	"strings"

	"github.com/mlsorensen/gobalance"
	"github.com/mlsorensen/gobalance/pkg/boards/balanceboard/comms"
)

// Render writes one update as a single line, the calibration table as
// several.
func Render(w io.Writer, u gobalance.WeightUpdate) error {
	_, err := io.WriteString(w, Format(u))
	return err
}

// Format returns the text Render writes for u.
func Format(u gobalance.WeightUpdate) string {
	var sb strings.Builder
	switch u.Kind {
	case gobalance.KindRaw:
		fmt.Fprintf(&sb, "%s: %s", u.Label, comms.Dump(u.Raw))
	case gobalance.KindStatus:
		fmt.Fprintf(&sb, "Status: battery %d, extension %s", u.Battery, connected(u.ExtensionConnected))
	case gobalance.KindCalibration:
		sb.WriteString(strings.TrimRight(u.Label, "\n"))
	case gobalance.KindWeight:
		for i, g := range u.Corners {
			if i > 0 {
				sb.WriteString("  ")
			}
			fmt.Fprintf(&sb, "%s: %6.0f %s", comms.Corner(i), g, u.Unit)
		}
		fmt.Fprintf(&sb, "  total: %d kg", u.Kilograms)
	default:
		fmt.Fprintf(&sb, "%s: %s", u.Kind, comms.Dump(u.Raw))
	}
	if u.Error != nil {
		fmt.Fprintf(&sb, "  (error: %v)", u.Error)
	}
	sb.WriteByte('\n')
	return sb.String()
}

func connected(b bool) string {
	if b {
		return "connected"
	}
	return "not connected"
}

// ReuseHint is printed on a clean exit so the next run can skip discovery.
func ReuseHint(prog, address string) string {
	return fmt.Sprintf("YOU MAY USE \"%s %s\" FOR IMMEDIATE CONNECTION\n", prog, address)
}
