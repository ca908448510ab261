package core

import "testing"

func TestShapeRowsAndLast(t *testing.T) {
	s := Shape{2, 3, 4}
	if s.Rows() != 6 {
		t.Errorf("Rows() = %d, want 6", s.Rows())
	}
	if s.Last() != 4 {
		t.Errorf("Last() = %d, want 4", s.Last())
	}
	if (Shape{}).NumElements() != 1 {
		t.Error("scalar shape should have 1 element")
	}
}

func TestBroadcastShapes(t *testing.T) {
	out, err := BroadcastShapes(Shape{8, 128, 16}, Shape{16})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Equal(Shape{8, 128, 16}) {
		t.Errorf("got %v", out)
	}

	if _, err := BroadcastShapes(Shape{2, 3}, Shape{4}); err == nil {
		t.Error("expected incompatible shapes to fail")
	}
}
