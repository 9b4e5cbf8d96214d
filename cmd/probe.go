package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/ranger/internal/fetcher"
	"github.com/tanq16/ranger/internal/output"
	"github.com/tanq16/ranger/internal/utils"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe [URL]",
		Short: "Show the size and range support of a URL",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			f := fetcher.New(utils.NewRangerHTTPClient(globalHTTPConfig))
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			info, err := f.Probe(ctx, args[0])
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			output.PrintHeader(args[0])
			output.PrintField("size", fmt.Sprintf("%s (%d bytes)", utils.FormatBytes(uint64(max(info.Size, 0))), info.Size))
			output.PrintField("ranges", fmt.Sprint(info.AcceptsRanges))
			if info.Name != "" {
				output.PrintField("name", info.Name)
			}
			if info.ContentType != "" {
				output.PrintField("content type", info.ContentType)
			}
			if info.ETag != "" {
				output.PrintField("etag", info.ETag)
			}
			if !info.LastModified.IsZero() {
				output.PrintField("last modified", info.LastModified.Local().Format(time.DateTime))
			}
		},
	}
}
