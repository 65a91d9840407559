package heightmap

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"dbconv/internal/debug"
	appErrors "dbconv/internal/errors"
)

// MetadataPath returns the sidecar location for an image path.
func MetadataPath(imagePath string) string {
	return strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + ".json"
}

// OutputPath returns the default image path for a displace.bin input.
func OutputPath(input string, format Format) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + "." + string(format)
}

// ConvertFile converts the displace.bin at in to out in the given format and
// writes the metadata sidecar next to out.
func ConvertFile(in, out string, size int, format Format) (Metadata, error) {
	//nolint:gosec // G304: converting a user-selected file is the point
	f, err := os.Open(in)
	if err != nil {
		return Metadata{}, appErrors.New(appErrors.CodeInvalidInput, "open "+in, err)
	}
	defer func() { _ = f.Close() }()

	samples, err := Decode(f, size)
	if err != nil {
		return Metadata{}, err
	}
	px, meta := Normalize(samples)

	err = writeFile(out, func(w io.Writer) error {
		switch format {
		case FormatRaw:
			return WriteRaw(w, px)
		case FormatPNG:
			return WritePNG(w, px, size)
		default:
			return appErrors.New(appErrors.CodeInvalidInput, fmt.Sprintf("unsupported format %q", format), nil)
		}
	})
	if err != nil {
		return Metadata{}, err
	}
	if err := writeFile(MetadataPath(out), func(w io.Writer) error { return WriteMetadata(w, meta) }); err != nil {
		return Metadata{}, err
	}
	debug.Info("converted heightmap", "in", in, "out", out, "size", size, "min", meta.Min, "max", meta.Max)
	return meta, nil
}

// ReverseFile restores a displace.bin at out from the raw or PNG image at in
// and the sidecar at metaPath. An empty metaPath uses MetadataPath(in).
func ReverseFile(in, metaPath, out string) (Metadata, error) {
	if metaPath == "" {
		metaPath = MetadataPath(in)
	}
	//nolint:gosec // G304: reading a user-selected sidecar
	mf, err := os.Open(metaPath)
	if err != nil {
		return Metadata{}, appErrors.New(appErrors.CodeInvalidInput, "open metadata "+metaPath, err)
	}
	meta, err := ReadMetadata(mf)
	_ = mf.Close()
	if err != nil {
		return Metadata{}, err
	}

	format, err := ParseFormat(filepath.Ext(in))
	if err != nil {
		return Metadata{}, err
	}
	//nolint:gosec // G304: converting a user-selected file is the point
	f, err := os.Open(in)
	if err != nil {
		return Metadata{}, appErrors.New(appErrors.CodeInvalidInput, "open "+in, err)
	}
	defer func() { _ = f.Close() }()

	var px []uint16
	switch format {
	case FormatRaw:
		px, err = ReadRaw(f)
	case FormatPNG:
		px, err = ReadPNG(f)
	}
	if err != nil {
		return Metadata{}, err
	}
	if meta.Delta == 0 {
		debug.Warn("metadata delta is zero, restoring a flat map", "min", meta.Min)
	}
	samples, err := Denormalize(px, meta)
	if err != nil {
		return Metadata{}, err
	}
	if err := writeFile(out, func(w io.Writer) error { return Encode(w, samples) }); err != nil {
		return Metadata{}, err
	}
	debug.Info("restored heightmap", "in", in, "out", out, "samples", len(samples))
	return meta, nil
}

// writeFile writes through a sibling temp file and renames it over path so a
// failed conversion never leaves a truncated output.
func writeFile(path string, fill func(io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return appErrors.New(appErrors.CodeInvalidInput, "create output in "+dir, err)
	}
	name := tmp.Name()
	if err := fill(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		if appErrors.CodeOf(err) != appErrors.CodeUnknown {
			return err
		}
		return appErrors.New(appErrors.CodeInvalidInput, "write "+path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return appErrors.New(appErrors.CodeInvalidInput, "write "+path, err)
	}
	//nolint:gosec // G302: output images are ordinary user files
	_ = os.Chmod(name, 0644)
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return appErrors.New(appErrors.CodeInvalidInput, "write "+path, err)
	}
	return nil
}
