package preprocess

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/ironsheep/capture-assistant/internal/capture"
	"github.com/ironsheep/capture-assistant/internal/detection"
	"github.com/ironsheep/capture-assistant/internal/failure"
	"github.com/ironsheep/capture-assistant/internal/imaging"
)

func whiteCanvas(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return img
}

func drawText(img *image.RGBA, x, y int, text string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func fillRect(img *image.RGBA, x1, y1, x2, y2 int) {
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			img.Set(x, y, color.Black)
		}
	}
}

func imageEvent(t *testing.T, img image.Image) capture.Event {
	t.Helper()
	data, err := imaging.EncodePNG(img)
	require.NoError(t, err)
	return capture.NewImageEvent(data, 0, capture.WorkflowContext{Mode: capture.ModeCLI})
}

func TestProcess_TextPassesThrough(t *testing.T) {
	p := New(Options{}, nil)
	ev := capture.NewTextEvent("hello world", 0, capture.WorkflowContext{})

	segs, err := p.Process(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, detection.PlainText, segs[0].Class)
	assert.Equal(t, "hello world", segs[0].Text)
	assert.Nil(t, segs[0].Image)
}

func TestProcess_BlankTextYieldsNothing(t *testing.T) {
	p := New(Options{}, nil)
	segs, err := p.Process(context.Background(), capture.NewTextEvent(" \n\t", 0, capture.WorkflowContext{}))
	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestProcess_BlankImageYieldsNothing(t *testing.T) {
	p := New(Options{}, nil)
	segs, err := p.Process(context.Background(), imageEvent(t, whiteCanvas(200, 120)))
	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestProcess_CorruptImage(t *testing.T) {
	p := New(Options{}, nil)
	ev := capture.NewImageEvent([]byte("definitely not a png"), 0, capture.WorkflowContext{})

	_, err := p.Process(context.Background(), ev)
	require.Error(t, err)
	assert.Equal(t, failure.PreprocessingError, failure.KindOf(err))
}

func TestProcess_ReadingOrder(t *testing.T) {
	img := whiteCanvas(320, 200)
	drawText(img, 10, 30, "first paragraph")
	drawText(img, 10, 46, "continues here")
	drawText(img, 10, 130, "second paragraph")

	p := New(Options{}, nil)
	segs, err := p.Process(context.Background(), imageEvent(t, img))
	require.NoError(t, err)
	require.Len(t, segs, 2)

	for i, s := range segs {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, detection.PlainText, s.Class)
		require.NotNil(t, s.Image)
		assert.Equal(t, s.Bounds.Width(), s.Image.Bounds().Dx())
		assert.Equal(t, s.Bounds.Height(), s.Image.Bounds().Dy())
	}
	assert.Less(t, segs[0].Bounds.Y2, segs[1].Bounds.Y1)
}

func TestProcess_Deterministic(t *testing.T) {
	img := whiteCanvas(320, 200)
	drawText(img, 10, 30, "same bytes")
	drawText(img, 10, 120, "same segments")
	ev := imageEvent(t, img)

	p := New(Options{}, nil)
	first, err := p.Process(context.Background(), ev)
	require.NoError(t, err)
	second, err := p.Process(context.Background(), ev)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Bounds, second[i].Bounds)
		assert.Equal(t, first[i].Class, second[i].Class)
	}
}

func TestProcess_TableGridIsSegmentLocal(t *testing.T) {
	img := whiteCanvas(260, 100)
	for _, y := range []int{10, 40, 70} {
		fillRect(img, 10, y, 211, y+1)
	}
	for _, x := range []int{10, 110, 210} {
		fillRect(img, x, 10, x+1, 71)
	}
	drawText(img, 20, 30, "name")
	drawText(img, 120, 30, "qty")
	drawText(img, 20, 60, "apple")
	drawText(img, 120, 60, "3")

	p := New(Options{}, nil)
	segs, err := p.Process(context.Background(), imageEvent(t, img))
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, detection.Table, segs[0].Class)
	require.NotNil(t, segs[0].Grid)
	assert.Equal(t, detection.Bounds{X1: 1, Y1: 1, X2: 100, Y2: 30}, segs[0].Grid.Cells[0][0])
}

func TestProcess_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(Options{}, nil)
	_, err := p.Process(ctx, capture.NewTextEvent("hi", 0, capture.WorkflowContext{}))
	assert.True(t, failure.Is(err, failure.Cancelled))
}

func TestProcess_DebugOverlay(t *testing.T) {
	dir := t.TempDir()
	img := whiteCanvas(200, 80)
	drawText(img, 10, 30, "debug me")
	ev := imageEvent(t, img)

	p := New(Options{DebugDir: dir}, nil)
	_, err := p.Process(context.Background(), ev)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, ev.ID()+".png"))
	assert.NoError(t, err)
}
