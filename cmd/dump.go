package cmd

import (
	"fmt"
	"os"

	"github.com/billm/baaaht/softbus/pkg/dump"
	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Inspect bus table dumps",
}

var dumpShowCmd = &cobra.Command{
	Use:   "show <file>",
	Short: "Render a dump file as tables",
	Long: `Render a dump written by "softbus demo --dump" or the dump package.
The format is chosen from the file extension (.yaml, .yml, .msgpack).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := dump.ReadFile(args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), renderSnapshot(snap))
		return nil
	},
}

var dumpConvertCmd = &cobra.Command{
	Use:   "convert <in> <out>",
	Short: "Convert a dump between yaml and msgpack",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := dump.ReadFile(args[0])
		if err != nil {
			return err
		}
		format, err := dump.FormatFor(args[1])
		if err != nil {
			return err
		}
		f, err := os.Create(args[1])
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", args[1], err)
		}
		if err := dump.Encode(f, format, snap); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		rootLog.Debug("Dump converted", "from", args[0], "to", args[1], "format", format)
		return nil
	},
}

func init() {
	dumpCmd.AddCommand(dumpShowCmd, dumpConvertCmd)
}
