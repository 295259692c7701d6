package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/smazurov/camcore/internal/platform"
)

// CreateInputsCmd creates the inputs command.
func CreateInputsCmd() *cobra.Command {
	var platformFile string
	var asJSON bool
	var dumpFile string

	cmd := &cobra.Command{
		Use:   "inputs",
		Short: "List the camera inputs of the platform",
		Long: `Loads the platform description and prints every camera input with its CSI root, ` +
			`virtual channel, resolution, pixel format and frame rate. The built-in default platform ` +
			`is used when the file does not exist.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			plat, err := platform.LoadOrDefault(platformFile)
			if err != nil {
				return fmt.Errorf("load platform: %w", err)
			}

			if dumpFile != "" {
				if err := platform.Save(dumpFile, plat); err != nil {
					return fmt.Errorf("write platform: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Platform %q written to %s\n", plat.Name, dumpFile)
			}

			infos := plat.InputInfos()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tROOT\tVC\tRESOLUTION\tFORMAT\tFPS\tINTERLACED")
			for _, in := range infos {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%dx%d\t%s\t%g\t%t\n",
					in.ID, in.Name, in.Root, in.VC,
					in.Resolution.Width, in.Resolution.Height,
					in.Format, in.FPS, in.Interlaced)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%d inputs on platform %q\n", len(infos), plat.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&platformFile, "platform", "platform.toml", "Platform description file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print inputs as JSON")
	cmd.Flags().StringVar(&dumpFile, "dump", "", "Also write the effective platform description to this file")

	return cmd
}
