package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	appErrors "dbconv/internal/errors"
	"dbconv/internal/heightmap"
	"dbconv/internal/ui"
)

func runConvert(runtime runtimeOptions, stdout, stderr io.Writer) int {
	if runtime.formatErr != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", runtime.formatErr)
		return exitUsage
	}
	if !heightmap.ValidSize(runtime.size) {
		_, _ = fmt.Fprintf(stderr, "Error: map size %d is not supported (use 512 or 1024)\n", runtime.size)
		return exitUsage
	}

	out := runtime.outPath
	if out == "" {
		out = heightmap.OutputPath(runtime.convertPath, runtime.format)
	}
	start := time.Now()
	meta, err := heightmap.ConvertFile(runtime.convertPath, out, runtime.size, runtime.format)
	if err != nil {
		_, _ = fmt.Fprint(stderr, formatConversionFailure(runtime.convertPath, err))
		return exitFailure
	}
	printConversionSummary(stdout, ConversionSummary{
		Input:    runtime.convertPath,
		Output:   out,
		Metadata: heightmap.MetadataPath(out),
		Meta:     meta,
		Elapsed:  time.Since(start),
	})
	return exitOK
}

func runReverse(runtime runtimeOptions, stdout, stderr io.Writer) int {
	out := runtime.outPath
	if out == "" {
		out = reverseOutputPath(runtime.reversePath)
	}
	metaPath := runtime.metaPath
	if metaPath == "" {
		metaPath = heightmap.MetadataPath(runtime.reversePath)
	}
	start := time.Now()
	meta, err := heightmap.ReverseFile(runtime.reversePath, metaPath, out)
	if err != nil {
		_, _ = fmt.Fprint(stderr, formatConversionFailure(runtime.reversePath, err))
		return exitFailure
	}
	printConversionSummary(stdout, ConversionSummary{
		Input:    runtime.reversePath,
		Output:   out,
		Metadata: metaPath,
		Meta:     meta,
		Elapsed:  time.Since(start),
		Reverse:  true,
	})
	return exitOK
}

// reverseOutputPath names the restored file so it never overwrites an
// original displace.bin sitting next to the image.
func reverseOutputPath(image string) string {
	base := strings.TrimSuffix(image, filepath.Ext(image))
	return base + "_restored.bin"
}

func formatConversionFailure(path string, err error) string {
	hint := ""
	switch appErrors.CodeOf(err) {
	case appErrors.CodeInvalidSize:
		hint = "Check that -size matches the map (512 or 1024)."
	case appErrors.CodeInvalidInput:
		hint = "Check that the file exists and is a displace.bin, a 16-bit .raw or .png, or its metadata JSON."
	}
	msg := fmt.Sprintf("Error: could not convert %s\n  %s\n", path, ui.ErrorDetail(err))
	if hint != "" {
		msg += "\n" + hint + "\n"
	}
	return msg
}
