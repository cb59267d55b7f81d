package pagination

import (
	"encoding/base64"
	"testing"

	"github.com/google/uuid"
)

func TestNormalizeLimit(t *testing.T) {
	cases := map[int]int{0: DefaultLimit, -3: DefaultLimit, 10: 10, 500: MaxLimit}
	for in, want := range cases {
		if got := NormalizeLimit(in); got != want {
			t.Fatalf("NormalizeLimit(%d) = %d, want %d", in, got, want)
		}
	}
	if got := LimitWithBuffer(500); got != MaxLimit+1 {
		t.Fatalf("LimitWithBuffer(500) = %d", got)
	}
}

func TestParseCursorAcceptsEncoded(t *testing.T) {
	in := Cursor{Order: 7, ID: uuid.New()}
	out, err := ParseCursor(" " + in.Encode() + " ")
	if err != nil {
		t.Fatalf("ParseCursor: %v", err)
	}
	if out == nil || *out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	if c, err := ParseCursor("  "); err != nil || c != nil {
		t.Fatalf("blank cursor should mean first page, got %v %v", c, err)
	}
	noID := base64.RawURLEncoding.EncodeToString([]byte(`{"o":3}`))
	for _, bad := range []string{"!!!", "bm9waXBl", noID} {
		if _, err := ParseCursor(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

type row struct {
	order int
	id    uuid.UUID
}

func TestSplit(t *testing.T) {
	rows := make([]row, 4)
	for i := range rows {
		rows[i] = row{order: i + 1, id: uuid.New()}
	}
	key := func(r row) Cursor { return Cursor{Order: r.order, ID: r.id} }

	page, next := Split(rows, 3, key)
	if len(page) != 3 || next == "" {
		t.Fatalf("expected a full page with a next token, got %d %q", len(page), next)
	}
	c, err := ParseCursor(next)
	if err != nil || c.Order != 3 || c.ID != rows[2].id {
		t.Fatalf("next token should point at the last row, got %+v %v", c, err)
	}

	page, next = Split(rows[:2], 3, key)
	if len(page) != 2 || next != "" {
		t.Fatalf("short page should end paging, got %d %q", len(page), next)
	}
}
