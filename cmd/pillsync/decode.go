package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/brewtap/pillsync/internal/rapt"
)

// decodeCmd represents the decode command
var decodeCmd = &cobra.Command{
	Use:   "decode <hex-payload>",
	Short: "Decode a captured Pill telemetry payload",
	Long: `Decode one RAPT Pill manufacturer payload from hex and print the readings.

The payload is the 23 vendor bytes starting with "PT", without the two
company-ID bytes. Separators (spaces or colons) and an 0x prefix are accepted:

  pillsync decode 50540200...
  pillsync decode "50:54:02:00:..."`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

var decodeFahrenheit bool

func init() {
	decodeCmd.Flags().BoolVar(&decodeFahrenheit, "fahrenheit", false, "Print the temperature in Fahrenheit")
}

func runDecode(cmd *cobra.Command, args []string) error {
	raw, err := parseHexPayload(args[0])
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	m, err := rapt.Decode(raw)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Payload version\t%d\n", m.Version)
	fmt.Fprintf(w, "Gravity\t%.4f\n", rapt.Gravity(m.GravityRaw))
	if m.HasVelocity {
		fmt.Fprintf(w, "Gravity velocity\t%.4f\n", m.GravityVelocity)
	}
	if decodeFahrenheit {
		fmt.Fprintf(w, "Temperature\t%.2fF\n", rapt.TemperatureFahrenheit(m.TemperatureRaw))
	} else {
		fmt.Fprintf(w, "Temperature\t%.2fC\n", rapt.TemperatureCelsius(m.TemperatureRaw))
	}
	fmt.Fprintf(w, "Battery\t%d%%\n", rapt.BatteryPercent(m.BatteryRaw))
	fmt.Fprintf(w, "Accelerometer\t%.2f %.2f %.2f\n", rapt.Accel(m.X), rapt.Accel(m.Y), rapt.Accel(m.Z))
	return w.Flush()
}

func parseHexPayload(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)

	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return raw, nil
}
