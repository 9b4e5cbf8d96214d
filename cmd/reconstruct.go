package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/ranger/internal/multipart"
	"github.com/tanq16/ranger/internal/output"
	"github.com/tanq16/ranger/internal/utils"
)

func newReconstructCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconstruct [CAPTURE] [OUTPUT]",
		Short: "Rebuild content from a saved multipart/byteranges response body",
		Long: `Decode a recorded multipart/byteranges body and write the part bodies in
order. The parts must be a contiguous, ascending cover of the content.

Example:
  curl -s -H 'Range: bytes=0-99,100-199' http://host/download/a > capture.bin
  ranger reconstruct capture.bin a.bin`,
		Args: cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			n, err := multipart.ReconstructFile(args[0], args[1])
			if err != nil {
				output.PrintError("Reconstruct failed: " + err.Error())
				os.Exit(1)
			}
			output.PrintSuccess(fmt.Sprintf("Wrote %s to %s", utils.FormatBytes(uint64(n)), args[1]))
		},
	}
}
