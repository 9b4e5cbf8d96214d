package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/ranger/internal/byterange"
	"github.com/tanq16/ranger/internal/fetcher"
	"github.com/tanq16/ranger/internal/output"
	"github.com/tanq16/ranger/internal/utils"
)

func newFetchCmd() *cobra.Command {
	var (
		outputPath   string
		rangeList    string
		split        int
		connections  int
		retries      int
		chunkTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "fetch [URL] [--output OUTPUT_PATH] [--ranges LIST | --split N]",
		Short: "Download byte ranges of a URL in parallel into one file",
		Long: `Download byte ranges of a URL concurrently, writing each at its offset.

Without --ranges the resource is probed and split into --split ranges
(default: one per connection).

Examples:
  ranger fetch http://host/download/iso -o disk.iso
  ranger fetch http://host/download/iso -o head.bin --ranges 0-1023,4096-8191
  ranger fetch http://host/download/iso --split 16 -c 4`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			link := args[0]
			if parsed, err := url.Parse(link); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
				output.PrintError("Invalid URL: " + link)
				os.Exit(1)
			}
			cfg := globalHTTPConfig
			cfg.HighThreadMode = connections > 5
			client := utils.NewRangerHTTPClient(cfg)
			f := fetcher.New(client)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var ranges []byterange.ByteRange
			var info *fetcher.Info
			if rangeList != "" {
				var err error
				if ranges, err = byterange.ParseList(rangeList); err != nil {
					output.PrintError("Invalid --ranges: " + err.Error())
					os.Exit(1)
				}
			}
			if len(ranges) == 0 || outputPath == "" {
				var err error
				if info, err = f.Probe(ctx, link); err != nil {
					output.PrintError(err.Error())
					os.Exit(1)
				}
			}
			if len(ranges) == 0 {
				var err error
				if ranges, err = planRanges(info, split, connections); err != nil {
					output.PrintError(err.Error())
					os.Exit(1)
				}
			}
			outputPath = resolveOutputPath(outputPath, info, link)

			var total int64
			for _, r := range ranges {
				total += r.Len()
			}
			progress := output.NewProgress(filepath.Base(outputPath), total)
			if retries == 0 {
				// zero on the job means the default
				retries = -1
			}
			progress.Start()
			res, err := f.Fetch(ctx, fetcher.Job{
				URL:          link,
				Ranges:       ranges,
				OutputPath:   outputPath,
				Concurrency:  connections,
				ChunkTimeout: chunkTimeout,
				Retries:      retries,
				Progress:     progress.Add,
			})
			progress.Stop()
			if err != nil {
				reportFetchFailure(res, err)
				os.Exit(1)
			}
			output.PrintSuccess(fmt.Sprintf("Fetched %d ranges (%s) into %s in %s",
				len(res.Chunks), utils.FormatBytes(uint64(total)), outputPath, res.Elapsed.Round(time.Millisecond)))
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (inferred from the server if not provided)")
	cmd.Flags().StringVarP(&rangeList, "ranges", "r", "", "Comma separated inclusive ranges (eg. 0-1023,2048-4095)")
	cmd.Flags().IntVarP(&split, "split", "s", 0, "Split the whole resource into N ranges")
	cmd.Flags().IntVarP(&connections, "connections", "c", utils.DefaultConnections, "Number of parallel connections (above 5 enables high-thread-mode)")
	cmd.Flags().IntVar(&retries, "retries", fetcher.DefaultRetries, "Retries per range for network errors and 5xx (0 disables)")
	cmd.Flags().DurationVar(&chunkTimeout, "chunk-timeout", fetcher.DefaultChunkTimeout, "Deadline for each range request attempt")
	cmd.MarkFlagsMutuallyExclusive("ranges", "split")
	return cmd
}

// planRanges covers a probed resource. Servers without range support get a
// single whole-resource request.
func planRanges(info *fetcher.Info, split, connections int) ([]byterange.ByteRange, error) {
	if info.Size <= 0 {
		return nil, errors.New("server did not report a size; pass --ranges")
	}
	if !info.AcceptsRanges {
		output.PrintWarning("Server does not advertise range support, using a single connection")
		return []byterange.ByteRange{{Start: 0, End: info.Size - 1}}, nil
	}
	if split <= 0 {
		split = max(connections, 1)
	}
	return byterange.Split(info.Size, split), nil
}

func resolveOutputPath(outputPath string, info *fetcher.Info, link string) string {
	if outputPath == "" {
		if info != nil && info.Name != "" {
			outputPath = info.Name
		} else if parsed, err := url.Parse(link); err == nil {
			outputPath = path.Base(parsed.Path)
		}
		if outputPath == "" || outputPath == "/" || outputPath == "." {
			outputPath = "download"
		}
	}
	if _, err := os.Stat(outputPath); err == nil {
		renewed := utils.RenewOutputPath(outputPath)
		output.PrintWarning(fmt.Sprintf("%s exists, writing to %s", outputPath, renewed))
		outputPath = renewed
	}
	return outputPath
}

func reportFetchFailure(res *fetcher.Result, err error) {
	output.PrintError("Fetch failed: " + err.Error())
	if res == nil {
		return
	}
	counts := map[fetcher.State]int{}
	for _, c := range res.Chunks {
		counts[c.State]++
	}
	for _, s := range []fetcher.State{fetcher.Completed, fetcher.Failed, fetcher.Cancelled} {
		output.PrintField(s.String(), fmt.Sprint(counts[s]))
	}
}
