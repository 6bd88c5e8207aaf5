package detection

import (
	"image"
	"image/color"
	"testing"
)

func classifyOnly(t *testing.T, img *image.RGBA) (Class, *Grid) {
	t.Helper()
	mask := InkMask(img, DefaultInkLevel)
	regions := FindRegions(mask, Options{})
	if len(regions) != 1 {
		t.Fatalf("expected one region, got %d: %+v", len(regions), regions)
	}
	return Classify(mask, regions[0].Bounds)
}

func TestClassify_PlainText(t *testing.T) {
	img := createTestImage(300, 120, color.White)
	drawText(img, 10, 30, "hello world")
	drawText(img, 10, 46, "jumping quickly")
	drawText(img, 10, 62, "over the fence")

	class, grid := classifyOnly(t, img)
	if class != PlainText {
		t.Errorf("class: got %s, want plain_text", class)
	}
	if grid != nil {
		t.Error("plain text should not carry a grid")
	}
}

func TestClassify_Table(t *testing.T) {
	img := createTestImage(260, 100, color.White)
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

	class, grid := classifyOnly(t, img)
	if class != Table {
		t.Fatalf("class: got %s, want table", class)
	}
	if grid == nil || grid.Rows != 2 || grid.Cols != 2 {
		t.Fatalf("grid: got %+v, want 2x2", grid)
	}
	want := Bounds{X1: 11, Y1: 11, X2: 110, Y2: 40}
	if grid.Cells[0][0] != want {
		t.Errorf("first cell: got %+v, want %+v", grid.Cells[0][0], want)
	}
	if grid.Cells[1][1] != (Bounds{X1: 111, Y1: 41, X2: 210, Y2: 70}) {
		t.Errorf("last cell: got %+v", grid.Cells[1][1])
	}
}

func TestClassify_Formula(t *testing.T) {
	img := createTestImage(120, 80, color.White)
	drawText(img, 16, 30, "a+b")
	fillRect(img, 10, 36, 51, 38)
	drawText(img, 26, 52, "2")

	class, _ := classifyOnly(t, img)
	if class != Formula {
		t.Errorf("class: got %s, want formula", class)
	}
}

func TestClassify_Mixed(t *testing.T) {
	img := createTestImage(300, 140, color.White)
	drawText(img, 10, 20, "the quick brown fox")
	drawText(img, 10, 36, "jumps over the lazy")
	drawText(img, 10, 52, "dog and then writes")
	drawText(img, 10, 68, "the following ratio")
	drawText(img, 50, 84, "x+1")
	fillRect(img, 10, 90, 131, 92)
	drawText(img, 60, 106, "y")

	class, _ := classifyOnly(t, img)
	if class != Mixed {
		t.Errorf("class: got %s, want mixed", class)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	img := createTestImage(120, 80, color.White)
	drawText(img, 16, 30, "a+b")
	fillRect(img, 10, 36, 51, 38)
	drawText(img, 26, 52, "2")
	mask := InkMask(img, DefaultInkLevel)
	b := mask.Full()

	first, _ := Classify(mask, b)
	for i := 0; i < 5; i++ {
		if again, _ := Classify(mask, b); again != first {
			t.Fatalf("run %d: got %s, want %s", i, again, first)
		}
	}
}

func TestClass_String(t *testing.T) {
	tests := map[Class]string{
		PlainText: "plain_text",
		Table:     "table",
		Formula:   "formula",
		Mixed:     "mixed",
		Class(9):  "class(9)",
	}
	for c, want := range tests {
		if c.String() != want {
			t.Errorf("String() = %s, want %s", c.String(), want)
		}
		text, _ := c.MarshalText()
		if string(text) != want {
			t.Errorf("MarshalText() = %s, want %s", text, want)
		}
	}
}

func TestSpans(t *testing.T) {
	rules := []Rule{
		{Pos: 10, Thickness: 1},
		{Pos: 12, Thickness: 1}, // sliver, skipped
		{Pos: 40, Thickness: 2},
		{Pos: 70, Thickness: 1},
	}
	got := spans(rules)
	want := [][2]int{{13, 40}, {42, 70}}
	if len(got) != len(want) {
		t.Fatalf("spans: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("span %d: got %v, want %v", i, got[i], want[i])
		}
	}
}
