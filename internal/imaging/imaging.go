// Package imaging は届出に添付する画像の検証・縮小・保存を提供する。
package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
)

// MaxDimension は保存する画像の幅・高さの上限。
const MaxDimension = 1024

// JPEGQuality は再エンコード時のJPEG品質。
const JPEGQuality = 85

// allowedMIME は受け付ける画像形式。クライアントのヘッダーではなく先頭バイトで判定する。
var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

var (
	// ErrTooLarge はアップロードサイズが上限を超えたことを表す。
	ErrTooLarge = errors.New("image too large")
	// ErrUnsupported は画像形式が受け付けられないことを表す。
	ErrUnsupported = errors.New("unsupported image format")
)

// Processor はアップロード画像を検証し、縮小したJPEGに変換する。
type Processor struct {
	maxBytes int64
}

// NewProcessor はProcessorを生成する。maxBytesはアップロードの最大サイズ。
func NewProcessor(maxBytes int64) *Processor {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &Processor{maxBytes: maxBytes}
}

// MaxBytes はアップロードの最大サイズを返す。
func (p *Processor) MaxBytes() int64 {
	return p.maxBytes
}

// Process は画像を読み取り、形式を検証し、MaxDimensionを超える場合は縮小してJPEGで返す。
func (p *Processor) Process(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, p.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading image data: %w", err)
	}
	if int64(len(data)) > p.maxBytes {
		return nil, ErrTooLarge
	}

	detected := http.DetectContentType(data)
	if !allowedMIME[detected] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, detected)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	img = downscale(img, MaxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// downscale は縦横比を保ったまま長辺がmaxDim以下になるよう縮小する。
func downscale(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}

	newW, newH := maxDim, maxDim
	if w > h {
		newH = max(1, h*maxDim/w)
	} else {
		newW = max(1, w*maxDim/h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// DiskStore は処理済み画像をディレクトリに保存し、公開URIを返す。
type DiskStore struct {
	dir       string
	urlPrefix string
}

// NewDiskStore はDiskStoreを生成する。urlPrefixは保存した画像を配信するパス（例: /uploads）。
func NewDiskStore(dir, urlPrefix string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	return &DiskStore{dir: dir, urlPrefix: urlPrefix}, nil
}

// Dir は保存先ディレクトリを返す。
func (s *DiskStore) Dir() string {
	return s.dir
}

// Save はJPEGデータを一意な名前で保存する。書き込みは一時ファイル経由で行う。
func (s *DiskStore) Save(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := uuid.NewString() + ".jpg"

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing image: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", fmt.Errorf("storing image: %w", err)
	}
	return s.urlPrefix + "/" + name, nil
}
