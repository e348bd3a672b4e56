package retrieval

import (
	"context"
	"testing"
)

func TestRetriever_EmbedsQueryAndSearches(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	if err := idx.Insert(ctx, []Record{
		rec("go", "d", 0, 1, 0, 0),
		rec("rust", "d", 1, 0, 1, 0),
	}); err != nil {
		t.Fatal(err)
	}

	model := &mockModel{
		embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
			if text == "tell me about go" {
				return []float32{0.9, 0.1, 0}, nil
			}
			return []float32{0, 0, 1}, nil
		},
	}
	r := NewRetriever(NewEmbedder(model, "m"), idx)

	got, err := r.Retrieve(ctx, "tell me about go", 1)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].ID != "go" {
		t.Errorf("got %+v, want go", got)
	}
}
