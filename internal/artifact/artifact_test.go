package artifact

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pagetrans/internal/page"
)

func TestName(t *testing.T) {
	assert.Equal(t, "mask/001.png", Name(KindMask, "001.jpg"))
	assert.Equal(t, "restored/ch1/002.png", Name(KindRestored, "ch1/002.webp"))
	assert.Equal(t, "mask/_/etc.png", Name(KindMask, "../etc"))
}

func TestFSRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFS(t.TempDir())
	require.NoError(t, err)

	m, err := s.LoadMask(ctx, "p1.png")
	require.NoError(t, err)
	assert.Nil(t, m, "missing mask is not an error")

	mask := page.MaskFromRegions(image.Rect(0, 0, 16, 16), []*page.Region{{Bounds: image.Rect(2, 2, 6, 6)}})
	require.NoError(t, s.SaveMask(ctx, "p1.png", mask))
	got, err := s.LoadMask(ctx, "p1.png")
	require.NoError(t, err)
	assert.Equal(t, mask.Pix, got.Pix)
	assert.Equal(t, 16, page.Covered(got, got.Bounds()))

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.SetRGBA(1, 2, color.RGBA{R: 9, G: 8, B: 7, A: 255})
	require.NoError(t, s.SaveRestored(ctx, "p1.png", img))
	back, err := s.LoadRestored(ctx, "p1.png")
	require.NoError(t, err)
	assert.Equal(t, img.RGBAAt(1, 2), back.RGBAAt(1, 2))
}

func TestS3ObjectKey(t *testing.T) {
	s := &S3{bucket: "b", prefix: "proj"}
	assert.Equal(t, "proj/mask/p1.png", s.ObjectKey(KindMask, "p1.jpg"))
	s.prefix = ""
	assert.Equal(t, "restored/p1.png", s.ObjectKey(KindRestored, "p1.jpg"))
}
