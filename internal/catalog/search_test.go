package catalog

import "testing"

// TestSearchExactIDRanksFirst verifies an exact operation id match
// outranks everything else.
func TestSearchExactIDRanksFirst(t *testing.T) {
	c := mustLoad(t)
	results := c.SearchOperations("conversationsGetById", 0)
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if results[0].OperationID != "conversationsGetById" {
		t.Fatalf("first result = %q, want exact match first", results[0].OperationID)
	}
}

// TestSearchSubstringBeforeKeyword verifies id-substring matches rank
// before keyword matches, keeping declaration order within the tier.
func TestSearchSubstringBeforeKeyword(t *testing.T) {
	c := mustLoad(t)
	results := c.SearchOperations("conversations", 0)
	if len(results) < 2 {
		t.Fatalf("got %d results, want at least 2", len(results))
	}
	if results[0].OperationID != "conversationsGetById" || results[1].OperationID != "conversationsSearch" {
		t.Fatalf("unexpected ranking: %+v", results)
	}
}

// TestSearchKeywordRanksByHits verifies multi-word queries rank
// operations by how many query tokens they match.
func TestSearchKeywordRanksByHits(t *testing.T) {
	c := mustLoad(t)
	results := c.SearchOperations("delete user", 0)
	if len(results) < 2 {
		t.Fatalf("got %d results, want at least 2", len(results))
	}
	if results[0].OperationID != "usersDeleteById" {
		t.Fatalf("first result = %q, want usersDeleteById", results[0].OperationID)
	}
}

// TestSearchHonorsLimit verifies the result cap.
func TestSearchHonorsLimit(t *testing.T) {
	c := mustLoad(t)
	if results := c.SearchOperations("user", 1); len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
}

// TestSearchEmptyQuery verifies an empty or whitespace query yields no
// results rather than the whole catalog.
func TestSearchEmptyQuery(t *testing.T) {
	c := mustLoad(t)
	if results := c.SearchOperations("   ", 0); len(results) != 0 {
		t.Fatalf("got %d results for empty query, want 0", len(results))
	}
}

// TestSearchIsDeterministic verifies repeated identical queries return
// identical rankings.
func TestSearchIsDeterministic(t *testing.T) {
	c := mustLoad(t)
	first := c.SearchOperations("user", 0)
	for i := 0; i < 10; i++ {
		again := c.SearchOperations("user", 0)
		if len(again) != len(first) {
			t.Fatalf("result count changed between runs")
		}
		for j := range first {
			if again[j].OperationID != first[j].OperationID {
				t.Fatalf("ranking changed between runs: %+v vs %+v", first, again)
			}
		}
	}
}
