// Package config defines the server configuration for ranger serve.
//
// Configuration can be provided via:
//   - YAML configuration file
//   - Environment variables (RANGER_ prefix)
//   - Command-line flags
//
// A resource names exactly one backing store:
//
//	resources:
//	  - id: installer
//	    path: /data/installer.msi
//	  - id: video
//	    s3: mybucket/videos/a.mp4
//	    region: us-east-1
//	  - id: archive
//	    blob: file:///srv/blobs
//	    key: archive.tar
package config
