package research

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rssTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Espresso News</title>
  <link>https://example.com</link>
  <description>News</description>
  %s
</channel>
</rss>`

func rssItem(title, date, desc string) string {
	return fmt.Sprintf(`<item><title>%s</title><link>https://example.com/%s</link><pubDate>%s</pubDate><description>%s</description></item>`,
		title, strings.ReplaceAll(strings.ToLower(title), " ", "-"), date, desc)
}

const articlePage = `<!DOCTYPE html>
<html><head><title>Dialing In Espresso</title></head>
<body>
<nav>Home | About</nav>
<article>
<h1>Dialing In Espresso</h1>
<p>Dialing in means adjusting grind size, dose and yield until the shot tastes balanced. Start with a 1:2 ratio and a 28 second shot time.</p>
<p>If the shot runs fast and tastes sour, grind finer. If it runs slow and tastes bitter, grind coarser. Change one variable at a time and taste every shot.</p>
<p>Keep notes on each adjustment so you can return to a good recipe when you open a new bag of beans.</p>
</article>
<footer>Copyright</footer>
</body></html>`

func newTestServer(t *testing.T, now time.Time) *httptest.Server {
	t.Helper()
	recent := now.Add(-48 * time.Hour).Format(time.RFC1123Z)
	newer := now.Add(-24 * time.Hour).Format(time.RFC1123Z)
	old := now.AddDate(0, 0, -60).Format(time.RFC1123Z)

	mux := http.NewServeMux()
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, rssTemplate, rssItem("Grinder Roundup", recent, "&lt;p&gt;Five new grinders&lt;/p&gt;")+
			rssItem("Old Story", old, "stale")+
			rssItem("Milk Pitchers Tested", newer, "Ten pitchers"))
	})
	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, articlePage)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestGatherer(now time.Time, maxNotes int) *Gatherer {
	g := NewGatherer(Options{Timeout: 5 * time.Second, MaxNotes: maxNotes, DaysBack: 14}, nil)
	g.now = func() time.Time { return now }
	return g
}

func TestGatherFeedsAndSources(t *testing.T) {
	now := time.Now().UTC()
	srv := newTestServer(t, now)
	g := newTestGatherer(now, 8)

	notes, warnings := g.Gather(context.Background(),
		[]Feed{{URL: srv.URL + "/feed", Name: "Espresso News"}},
		[]string{srv.URL + "/article"},
	)

	assert.Empty(t, warnings)
	require.Len(t, notes, 3)
	assert.Contains(t, notes[0], "grind finer")
	assert.True(t, strings.HasPrefix(notes[1], "Milk Pitchers Tested (Espresso News, "), notes[1])
	assert.True(t, strings.HasPrefix(notes[2], "Grinder Roundup (Espresso News, "), notes[2])
	assert.Contains(t, notes[2], ": Five new grinders")
	for _, n := range notes {
		assert.NotContains(t, n, "Old Story")
	}
}

func TestGatherRespectsMaxNotes(t *testing.T) {
	now := time.Now().UTC()
	srv := newTestServer(t, now)
	g := newTestGatherer(now, 1)

	notes, _ := g.Gather(context.Background(), []Feed{{URL: srv.URL + "/feed"}}, nil)
	require.Len(t, notes, 1)
	assert.True(t, strings.HasPrefix(notes[0], "Milk Pitchers Tested"))
}

func TestGatherReportsFailuresAsWarnings(t *testing.T) {
	now := time.Now().UTC()
	srv := newTestServer(t, now)
	g := newTestGatherer(now, 8)

	notes, warnings := g.Gather(context.Background(),
		[]Feed{{URL: srv.URL + "/missing"}, {URL: srv.URL + "/feed"}},
		[]string{srv.URL + "/missing"},
	)

	assert.Len(t, warnings, 2)
	assert.Len(t, notes, 2)
}

func TestGatherCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	notes, warnings := newTestGatherer(time.Now(), 8).Gather(ctx, []Feed{{URL: "http://127.0.0.1:1/feed"}}, nil)
	assert.Empty(t, notes)
	require.Len(t, warnings, 1)
	assert.ErrorIs(t, warnings[0], context.Canceled)
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "Hello & world", stripHTML("<p>Hello &amp;   <b>world</b></p>"))
}

func TestExtractSourceName(t *testing.T) {
	assert.Equal(t, "Searchengineland", extractSourceName("https://searchengineland.com/feed"))
	assert.Equal(t, "Example", extractSourceName("https://blog.example.com/rss"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "abcde...", truncate("abcdefgh", 5))
}
