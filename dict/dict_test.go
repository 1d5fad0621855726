package dict

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestJishoSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/search/words" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("keyword"); got != "猫" {
			t.Fatalf("keyword = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"japanese":[{"word":"猫","reading":"ねこ"}],"senses":[{"english_definitions":["cat"]},{"english_definitions":["shamisen"]}]}]}`))
	}))
	defer srv.Close()

	c := &JishoClient{BaseURL: srv.URL}
	entries, err := c.Search(context.Background(), "猫")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	e := entries[0]
	if e.Word != "猫" || e.Reading != "ねこ" {
		t.Fatalf("entry = %+v", e)
	}
	if len(e.English) != 2 || e.English[0] != "cat" {
		t.Fatalf("english = %v", e.English)
	}
	if got := e.Format(); got != "猫 (ねこ): cat, shamisen" {
		t.Fatalf("Format = %q", got)
	}
}

func TestJishoReadingOnlyEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"japanese":[{"reading":"ありがとう"}],"senses":[{"english_definitions":["thank you"]}]}]}`))
	}))
	defer srv.Close()

	c := &JishoClient{BaseURL: srv.URL}
	entries, err := c.Search(context.Background(), "ありがとう")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(entries) != 1 || entries[0].Word != "ありがとう" {
		t.Fatalf("entries = %+v", entries)
	}
	if got := entries[0].Format(); got != "ありがとう: thank you" {
		t.Fatalf("Format = %q", got)
	}
}

func TestDictCCTranslate(t *testing.T) {
	page := `<html><script>
var c1Arr = new Array("","Haus","Haus");
var c2Arr = new Array("","house","home");
</script></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("s"); got != "Haus" {
			t.Fatalf("s = %q", got)
		}
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	c := &DictCCClient{BaseURL: srv.URL}
	got, err := c.Translate(context.Background(), "Haus")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("translations = %+v", got)
	}
	if got[0].Word != "Haus" || len(got[0].Matches) != 2 || got[0].Matches[1] != "home" {
		t.Fatalf("translation = %+v", got[0])
	}
}

func TestDictCCNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>no result page</html>`))
	}))
	defer srv.Close()

	c := &DictCCClient{BaseURL: srv.URL}
	got, err := c.Translate(context.Background(), "xyzzy")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no translations, got %+v", got)
	}
}

func TestMadochanCreateWord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/_create_word" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"word":"Blubberwonk"}`))
	}))
	defer srv.Close()

	c := &MadochanClient{BaseURL: srv.URL}
	word, err := c.CreateWord(context.Background(), "", 0, "a wobbly thing")
	if err != nil {
		t.Fatalf("CreateWord: %v", err)
	}
	if word != "Blubberwonk" {
		t.Fatalf("word = %q", word)
	}
}

func TestMadochanServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := &MadochanClient{BaseURL: srv.URL}
	if _, err := c.CreateWord(context.Background(), "", 0, "x"); err == nil {
		t.Fatal("expected error")
	}
}
