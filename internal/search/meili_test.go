package search

import (
	"encoding/json"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
)

func rawHit(t *testing.T, fields map[string]any) meili.Hit {
	t.Helper()
	hit := make(meili.Hit, len(fields))
	for key, value := range fields {
		raw, err := json.Marshal(value)
		if err != nil {
			t.Fatalf("marshal %s: %v", key, err)
		}
		hit[key] = raw
	}
	return hit
}

func TestHitToResultCarriesRankingScore(t *testing.T) {
	hit := rawHit(t, map[string]any{
		"id":            "thr_1",
		"categoryId":    "cat_1",
		"title":         "Midterm review",
		"body":          "study group on friday",
		"_rankingScore": 0.87,
	})

	r := hitToResult(hit)
	if r.ID != "thr_1" || r.CategoryID != "cat_1" {
		t.Errorf("unexpected identifiers: %+v", r)
	}
	if r.Score != 0.87 {
		t.Errorf("expected score 0.87, got %v", r.Score)
	}
}

func TestHitToResultPrefersHighlightedFields(t *testing.T) {
	hit := rawHit(t, map[string]any{
		"id":    "thr_2",
		"title": "Lab 3",
		"body":  "deadline moved",
		"_formatted": map[string]string{
			"title": "<mark>Lab</mark> 3",
			"body":  "<mark>deadline</mark> moved",
		},
	})

	r := hitToResult(hit)
	if r.Title != "<mark>Lab</mark> 3" {
		t.Errorf("expected highlighted title, got %q", r.Title)
	}
	if r.Snippet != "<mark>deadline</mark> moved" {
		t.Errorf("expected highlighted snippet, got %q", r.Snippet)
	}
	if r.Score != 0 {
		t.Errorf("expected zero score when absent, got %v", r.Score)
	}
}
