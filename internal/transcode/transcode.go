// Package transcode converts cached image assets into PNG files.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "github.com/lukegb/dds" // register decoder
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder

	"github.com/JakeFAU/sc2-map-indexer/internal/header"
)

// ErrUnsupported is returned for content types with no registered decoder.
var ErrUnsupported = errors.New("unsupported image format")

// mimeDDS is reported for DirectDraw surfaces, the texture format of map
// thumbnails. mimetype has no built-in detector for it.
const mimeDDS = "image/vnd-ms.dds"

var ddsMagic = []byte("DDS ")

func init() {
	mimetype.Lookup("application/octet-stream").Extend(func(raw []byte, _ uint32) bool {
		return bytes.HasPrefix(raw, ddsMagic)
	}, mimeDDS, ".dds")
}

var decodable = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/tiff": true,
	"image/webp": true,
	mimeDDS:      true,
}

// TargetPath returns the PNG path written for src.
func TargetPath(src string) string {
	return strings.TrimSuffix(src, filepath.Ext(src)) + ".png"
}

// ToPNG writes {stem}.png next to src and returns its path. Existing targets are
// returned untouched.
func ToPNG(ctx context.Context, src string) (string, error) {
	dst := TargetPath(src)
	if dst == src {
		return dst, nil
	}
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	mtype, err := mimetype.DetectFile(src)
	if err != nil {
		return "", fmt.Errorf("sniff %s: %w", src, err)
	}
	if !decodable[mtype.String()] {
		return "", fmt.Errorf("%s: %w: %s", filepath.Base(src), ErrUnsupported, mtype.String())
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	img, _, err := image.Decode(in)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", filepath.Base(src), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := png.Encode(tmp, img); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("encode png: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return "", fmt.Errorf("rename into place: %w", err)
	}
	return dst, nil
}

// Fetcher downloads an asset into the local cache and returns its path.
type Fetcher interface {
	GetOrFetch(ctx context.Context, region, filename string) (string, error)
}

// Icons fetches map icons and stores PNG renditions beside them.
type Icons struct {
	fetcher Fetcher
	logger  *zap.Logger
}

// NewIcons constructs an icon sink.
func NewIcons(fetcher Fetcher, logger *zap.Logger) *Icons {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Icons{fetcher: fetcher, logger: logger.Named("icons")}
}

// Store fetches icon and converts it to PNG.
func (i *Icons) Store(ctx context.Context, region string, icon header.AssetHandle) error {
	src, err := i.fetcher.GetOrFetch(ctx, region, icon.Filename())
	if err != nil {
		return fmt.Errorf("fetch icon: %w", err)
	}
	dst, err := ToPNG(ctx, src)
	if err != nil {
		return err
	}
	i.logger.Debug("icon stored", zap.String("hash", icon.Hash), zap.String("path", dst))
	return nil
}
