package artifact

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"path"
	"strings"
)

// Kinds of stored artifacts. They double as key prefixes.
const (
	KindMask     = "mask"
	KindRestored = "restored"
)

// Name maps a page key to the object name of one artifact kind:
// "<kind>/<key without extension>.png".
func Name(kind, key string) string {
	base := strings.TrimSuffix(key, path.Ext(key))
	base = strings.NewReplacer("\\", "_", "..", "_").Replace(base)
	return kind + "/" + strings.TrimLeft(base, "/") + ".png"
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeMask(b []byte) (*image.Gray, error) {
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decode mask: %w", err)
	}
	if g, ok := img.(*image.Gray); ok {
		return g, nil
	}
	g := image.NewGray(img.Bounds())
	draw.Draw(g, g.Bounds(), img, img.Bounds().Min, draw.Src)
	return g, nil
}

func decodeRGBA(b []byte) (*image.RGBA, error) {
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decode restored image: %w", err)
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	out := image.NewRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out, nil
}
