package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ecuworks/diagdash/internal/tooth"
)

var (
	crankDegrees int
	crankMissing int
	camDegrees   int
	camBits      string
)

var patternCmd = &cobra.Command{
	Use:   "pattern",
	Short: "Print trigger-wheel tooth patterns",
}

var patternCrankCmd = &cobra.Command{
	Use:   "crank",
	Short: "Print a crankshaft tooth pattern",
	Example: `  diagdash pattern crank --degrees 6 --missing 2   # 60-2 wheel
  diagdash pattern crank --degrees 10 --missing 1   # 36-1 wheel`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := tooth.NewCrankConfig(crankDegrees, crankMissing)
		if err != nil {
			return err
		}
		p := tooth.EncodeCrank(cfg)
		fmt.Println(formatPattern(p))
		fmt.Printf("%d teeth per revolution, %d missing\n", cfg.TeethPerRev(), cfg.MissingTeeth)
		return nil
	},
}

var patternCamCmd = &cobra.Command{
	Use:   "cam",
	Short: "Print a camshaft tooth pattern",
	Example: `  diagdash pattern cam --degrees 12
  diagdash pattern cam --bits 1,1,1,1,1,1,0,1,1,1,1,1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			cfg tooth.CamConfig
			err error
		)
		if camBits != "" {
			bits, perr := parseBits(camBits)
			if perr != nil {
				return perr
			}
			cfg, err = tooth.CamPattern(bits)
		} else {
			cfg, err = tooth.CamDegrees(camDegrees)
		}
		if err != nil {
			return err
		}
		p := tooth.EncodeCam(cfg)
		fmt.Println(formatPattern(p))
		fmt.Printf("%d tooth positions per revolution\n", len(p))
		return nil
	},
}

func init() {
	patternCrankCmd.Flags().IntVar(&crankDegrees, "degrees", 6, "Degrees per tooth (must divide 360)")
	patternCrankCmd.Flags().IntVar(&crankMissing, "missing", 2, "Missing teeth in the reference gap")
	patternCamCmd.Flags().IntVar(&camDegrees, "degrees", 12, "Degrees per tooth (must divide 360)")
	patternCamCmd.Flags().StringVar(&camBits, "bits", "", "Explicit comma-separated bit pattern")

	patternCmd.AddCommand(patternCrankCmd, patternCamCmd)
	rootCmd.AddCommand(patternCmd)
}

func parseBits(s string) ([]tooth.Bit, error) {
	parts := strings.Split(s, ",")
	bits := make([]tooth.Bit, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("bad bit %q: %w", p, err)
		}
		bits = append(bits, tooth.Bit(n))
	}
	return bits, nil
}

func formatPattern(p tooth.Pattern) string {
	var b strings.Builder
	for _, bit := range p {
		b.WriteByte('0' + byte(bit))
	}
	return b.String()
}
