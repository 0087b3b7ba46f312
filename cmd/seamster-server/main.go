// Copyright 2026 The Seamster Authors
// SPDX-License-Identifier: Apache-2.0

// seamster-server serves a directory of static files over HTTP and,
// on demand, reassembles a split archive (numbered volume files) into
// the single artifact it was divided from, optionally extracting or
// repackaging it, and streams the result to the client.
//
// Configuration comes from a single YAML file named by the
// SEAMSTER_CONFIG environment variable or the --config flag.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/seamster-project/seamster/lib/clock"
	"github.com/seamster-project/seamster/lib/config"
	"github.com/seamster-project/seamster/lib/delivery"
	"github.com/seamster-project/seamster/lib/manifest"
	"github.com/seamster-project/seamster/lib/materialize"
	"github.com/seamster-project/seamster/lib/rebuild"
	"github.com/seamster-project/seamster/lib/service"
	"github.com/seamster-project/seamster/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var listenOverride string
	var showVersion bool

	flagSet := pflag.NewFlagSet("seamster-server", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to seamster.yaml (default: $SEAMSTER_CONFIG)")
	flagSet.StringVar(&listenOverride, "listen", "", "override the configured listen address")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	if showVersion {
		fmt.Printf("seamster-server %s\n", version.Info())
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if listenOverride != "" {
		cfg.ListenAddress = listenOverride
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := service.NewLogger()

	// Build the artifact manifest: explicit descriptor file when
	// configured, otherwise the fixed naming convention.
	var artifactManifest *manifest.Manifest
	if cfg.Parts.ManifestFile != "" {
		artifactManifest, err = manifest.LoadFile(cfg.Parts.ManifestFile)
		if err != nil {
			return err
		}
		logger.Info("manifest loaded",
			"file", cfg.Parts.ManifestFile,
			"output", artifactManifest.OutputName,
			"parts", len(artifactManifest.Parts),
		)
	} else {
		artifactManifest = manifest.FromConvention(cfg.Parts.BaseName, cfg.Parts.Count, cfg.Parts.Pad)
		logger.Info("manifest derived from naming convention",
			"base", cfg.Parts.BaseName,
			"output", artifactManifest.OutputName,
			"parts", len(artifactManifest.Parts),
		)
	}

	handlerConfig := delivery.Config{
		Manifest:    artifactManifest,
		PartsDir:    cfg.PartsDir(),
		PublicDir:   cfg.PublicDir,
		Mode:        cfg.Pipeline.Mode,
		Placeholder: manifest.DefaultPlaceholder(cfg.Parts.MinPartSize),
		ChunkSize:   cfg.ChunkSize,
		Version:     version.Info(),
		Logger:      logger,
	}

	// Extraction and repackaging only exist outside concat mode.
	if cfg.Pipeline.Mode != config.ModeConcat {
		var extractor materialize.Extractor = materialize.ZipExtractor{}
		if cfg.Pipeline.ToolBinary != "" {
			tool := materialize.ToolExtractor{Binary: cfg.Pipeline.ToolBinary}
			extractor = tool
			handlerConfig.Tool = &tool
		}

		pipeline := &materialize.Pipeline{
			Extractor:  extractor,
			Selector:   materialize.PreferredOrLargest(cfg.Pipeline.PreferredArtifact),
			OutputName: artifactManifest.OutputName,
			ChunkSize:  cfg.ChunkSize,
		}
		if cfg.Pipeline.Mode == config.ModeRepackage {
			format, err := materialize.ParseFormat(cfg.Pipeline.RepackFormat)
			if err != nil {
				return err
			}
			pipeline.Repack = format
		}

		cache, err := rebuild.New(rebuild.Config{
			Dir:    cfg.ResolvedCacheDir(),
			Build:  pipeline.Build,
			Clock:  clock.Real(),
			Logger: logger,
		})
		if err != nil {
			return err
		}
		handlerConfig.Cache = cache
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address: cfg.ListenAddress,
		Handler: delivery.New(handlerConfig),
		Logger:  logger,
	})

	logger.Info("seamster running",
		"address", cfg.ListenAddress,
		"public_dir", cfg.PublicDir,
		"mode", cfg.Pipeline.Mode,
		"output", artifactManifest.OutputName,
	)

	return server.Serve(ctx)
}
