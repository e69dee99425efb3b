package blob

import "testing"

func TestPathConvention(t *testing.T) {
	got := Path("u1", "photo.jpg")
	if got != "todo_images/u1/photo.jpg" {
		t.Fatalf("expected todo_images/u1/photo.jpg, got %s", got)
	}
}
