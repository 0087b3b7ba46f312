// Copyright 2026 The Seamster Authors
// SPDX-License-Identifier: Apache-2.0

package materialize

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Format is a normalized single-volume archive format.
type Format string

const (
	// FormatZip repackages into a plain ZIP (deflate members).
	FormatZip Format = "zip"

	// FormatTarZstd repackages into a zstd-compressed tar stream.
	FormatTarZstd Format = "tar.zst"

	// FormatTarLz4 repackages into an lz4-framed tar stream.
	FormatTarLz4 Format = "tar.lz4"
)

// ParseFormat parses a repackage format from its configuration
// string.
func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case FormatZip, FormatTarZstd, FormatTarLz4:
		return Format(name), nil
	default:
		return "", fmt.Errorf("unknown repackage format: %q", name)
	}
}

// Extension returns the filename extension for the format, including
// the leading dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// Repackage compresses the extracted tree rooted at root into a
// single-volume archive at destPath. Members are added in lexical
// walk order with paths relative to root, so repackaging an unchanged
// tree is deterministic.
func Repackage(root, destPath string, format Format) error {
	destination, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destPath, err)
	}

	switch format {
	case FormatZip:
		err = repackZip(root, destination)
	case FormatTarZstd:
		err = repackTarZstd(root, destination)
	case FormatTarLz4:
		err = repackTarLz4(root, destination)
	default:
		err = fmt.Errorf("unknown repackage format: %q", format)
	}
	if err != nil {
		destination.Close()
		os.Remove(destPath)
		return err
	}

	if err := destination.Close(); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("closing %s: %w", destPath, err)
	}
	return nil
}

// walkRegular visits every regular file under root in lexical order,
// passing its absolute path, root-relative slash path, and FileInfo.
func walkRegular(root string, visit func(absPath, relPath string, info fs.FileInfo) error) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		return visit(path, filepath.ToSlash(relPath), info)
	})
}

func repackZip(root string, destination io.Writer) error {
	writer := zip.NewWriter(destination)
	// Deflate at BestSpeed: the content was just decompressed from
	// the source archive, so heavy recompression effort buys little.
	writer.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})

	err := walkRegular(root, func(absPath, relPath string, info fs.FileInfo) error {
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return fmt.Errorf("zip header for %s: %w", relPath, err)
		}
		header.Name = relPath
		header.Method = zip.Deflate

		member, err := writer.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("creating zip member %s: %w", relPath, err)
		}
		return copyFileInto(member, absPath)
	})
	if err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

func repackTarZstd(root string, destination io.Writer) error {
	compressor, err := zstd.NewWriter(destination, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	if err := writeTar(root, compressor); err != nil {
		compressor.Close()
		return err
	}
	return compressor.Close()
}

func repackTarLz4(root string, destination io.Writer) error {
	compressor := lz4.NewWriter(destination)
	if err := writeTar(root, compressor); err != nil {
		compressor.Close()
		return err
	}
	return compressor.Close()
}

func writeTar(root string, destination io.Writer) error {
	writer := tar.NewWriter(destination)

	err := walkRegular(root, func(absPath, relPath string, info fs.FileInfo) error {
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("tar header for %s: %w", relPath, err)
		}
		header.Name = relPath

		if err := writer.WriteHeader(header); err != nil {
			return fmt.Errorf("writing tar header %s: %w", relPath, err)
		}
		return copyFileInto(writer, absPath)
	})
	if err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

func copyFileInto(destination io.Writer, sourcePath string) error {
	source, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", sourcePath, err)
	}
	defer source.Close()

	if _, err := io.Copy(destination, source); err != nil {
		return fmt.Errorf("copying %s: %w", sourcePath, err)
	}
	return nil
}
