package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tanq16/ranger/internal/config"
	"github.com/tanq16/ranger/internal/output"
	"github.com/tanq16/ranger/internal/server"
	"github.com/tanq16/ranger/internal/utils"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		resource   config.Resource
		listen     string
		strict     bool
		chunkSize  string
		rateLimit  string
	)

	cmd := &cobra.Command{
		Use:   "serve [--config FILE | --file PATH | --s3 BUCKET/KEY | --blob URL --key KEY]",
		Short: "Serve resources with range and multipart/byteranges support",
		Long: `Serve files, S3 objects or blobs under /download/{id}.

Examples:
  ranger serve --config ranger.yaml
  ranger serve --file ./installer.msi --listen :9000
  ranger serve --s3 mybucket/videos/a.mp4 --region us-east-1
  ranger serve --blob file:///srv/blobs --key archive.tar --id archive`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			var cfg config.Config
			var err error
			if configPath != "" {
				cfg, err = config.LoadFromFile(configPath)
			} else {
				cfg = config.Default()
			}
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			if err := cfg.LoadFromEnv(); err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}

			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.Listen = listen
			}
			if flags.Changed("strict") {
				cfg.StrictRanges = strict
			}
			if flags.Changed("chunk-size") {
				if cfg.ChunkSize, err = utils.ParseBytes(chunkSize); err != nil {
					output.PrintError("Invalid --chunk-size: " + err.Error())
					os.Exit(1)
				}
			}
			if flags.Changed("rate-limit") {
				if cfg.RateLimit, err = utils.ParseBytes(rateLimit); err != nil {
					output.PrintError("Invalid --rate-limit: " + err.Error())
					os.Exit(1)
				}
			}
			if resource.Kind() != "" || resource.Key != "" {
				if resource.ID == "" {
					resource.ID = defaultResourceID(resource)
				}
				cfg.Resources = append(cfg.Resources, resource)
			}
			if err := cfg.Validate(); err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(cfg)
			defer srv.Close()
			if err := srv.OpenResources(ctx); err != nil {
				output.PrintError("Error opening resources: " + err.Error())
				os.Exit(1)
			}
			output.PrintHeader("Ranger listening on " + cfg.Listen)
			for _, r := range cfg.Resources {
				output.PrintField(r.ID, "/download/"+r.ID)
			}
			if err := srv.ListenAndServe(ctx); err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			output.PrintSuccess("Server stopped")
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	cmd.Flags().StringVarP(&resource.Path, "file", "f", "", "Serve a local file")
	cmd.Flags().StringVar(&resource.S3, "s3", "", "Serve an S3 object (BUCKET/KEY or s3://BUCKET/KEY)")
	cmd.Flags().StringVar(&resource.Blob, "blob", "", "Serve from a gocloud bucket URL (file://, s3://, gs://, mem://)")
	cmd.Flags().StringVar(&resource.Key, "key", "", "Object key inside --blob")
	cmd.Flags().StringVar(&resource.ID, "id", "", "Resource id in /download/{id} (defaults to the file name)")
	cmd.Flags().StringVar(&resource.ContentType, "content-type", "", "Override the detected content type")
	cmd.Flags().StringVar(&resource.Profile, "profile", "", "AWS profile for --s3")
	cmd.Flags().StringVar(&resource.Region, "region", "", "AWS region for --s3")
	cmd.Flags().StringVar(&resource.Endpoint, "endpoint", "", "S3-compatible endpoint for --s3 (eg. MinIO)")
	cmd.Flags().StringVarP(&listen, "listen", "l", ":8080", "Listen address")
	cmd.Flags().BoolVar(&strict, "strict", false, "Answer malformed Range headers with 416 instead of the full body")
	cmd.Flags().StringVar(&chunkSize, "chunk-size", "64KB", "Streaming buffer size per response")
	cmd.Flags().StringVar(&rateLimit, "rate-limit", "0", "Per-response bandwidth cap in bytes/s (eg. 512KB); 0 disables")
	return cmd
}

// defaultResourceID derives an id from the last path element of the store.
func defaultResourceID(r config.Resource) string {
	name := r.Path
	switch r.Kind() {
	case config.KindS3:
		name = r.S3
	case config.KindBlob:
		name = r.Key
	}
	id := filepath.Base(filepath.FromSlash(strings.TrimSuffix(name, "/")))
	if id == "." || id == string(filepath.Separator) {
		return "resource"
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune("/?#% ", r) {
			return '_'
		}
		return r
	}, id)
}
