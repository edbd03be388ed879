package normalize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/school-intel/internal/model"
)

const tuitionPage = `<!DOCTYPE html>
<html><head><title>Fees</title><style>.x{color:red}</style></head>
<body>
<nav><a href="/">Home</a><a href="/about">About</a></nav>
<header>Enroll now!</header>
<main>
  <h1>Tuition and Fees</h1>
  <p>Fees for  SY 2024-2025
     are listed below.</p>
  <!-- hidden comment -->
  <table>
    <tr><th>Level</th><th>Annual</th></tr>
    <tr><td>Grade 1</td><td>&#8369;85,000</td></tr>
  </table>
  <h2>Payment Deadlines</h2>
  <ul><li>June 15, 2024</li><li>October 15, 2024</li></ul>
  <img src="x.png" alt="Campus photo">
  <script>track()</script>
</main>
<footer>Copyright 2024</footer>
</body></html>`

func TestHTMLToText(t *testing.T) {
	t.Parallel()

	text, err := HTMLToText(tuitionPage)
	require.NoError(t, err)

	lines := strings.Split(text, "\n")
	assert.Equal(t, []string{
		"# Tuition and Fees",
		"Fees for SY 2024-2025 are listed below.",
		"Level | Annual",
		"Grade 1 | ₱85,000",
		"## Payment Deadlines",
		"- June 15, 2024",
		"- October 15, 2024",
		"Campus photo",
	}, lines)

	for _, gone := range []string{"Home", "Enroll now", "track()", "Copyright", "hidden comment", "color:red"} {
		assert.NotContains(t, text, gone)
	}
}

func TestLooksLikeHTML(t *testing.T) {
	t.Parallel()

	assert.True(t, LooksLikeHTML("text/html; charset=utf-8", "anything"))
	assert.True(t, LooksLikeHTML("", "<!DOCTYPE html><html>"))
	assert.True(t, LooksLikeHTML("", "<div>hi</div>"))
	assert.False(t, LooksLikeHTML("text/markdown", "# Title\nbody"))
	assert.False(t, LooksLikeHTML("", "Fees < 100 and > 50"))
}

func TestCleanText(t *testing.T) {
	t.Parallel()

	in := "  Tuition  Fees \r\n\r\n\r\n\r\nTuition  Fees\nＧｒａｄｅ 1\n\n\n"
	assert.Equal(t, "Tuition Fees\n\nTuition Fees\nGrade 1", CleanText(in))

	assert.Equal(t, "Grade 1\nfee", CleanText("Grade 1\nGrade  1\nfee"))
}

func TestCleanText_KeepsRepeatsAcrossBlankLines(t *testing.T) {
	t.Parallel()

	in := "Grade 1 tuition\n\nPHP 45,000\n\nPHP 45,000\n\nGrade 2 tuition"
	assert.Equal(t, in, CleanText(in))
}

type fakePDF struct {
	text string
	err  error
}

func (f fakePDF) ExtractText(context.Context, []byte) (string, error) { return f.text, f.err }

func TestNormalize_OrdersBySourceURLsAndLabels(t *testing.T) {
	t.Parallel()

	n := New(WithPDFExtractor(fakePDF{text: "Fee schedule\nGrade 7  PHP 95,000"}))
	pages := []model.Page{
		{URL: "https://s.edu.ph/z-extra", Content: "extra page"},
		{URL: "https://s.edu.ph/fees.pdf", Content: "%PDF-1.4 binary", ContentType: "application/pdf"},
		{URL: "https://s.edu.ph/", Content: tuitionPage, ContentType: "text/html"},
		{URL: "https://s.edu.ph/a-extra", Content: "another page"},
	}

	doc := n.Normalize(context.Background(), "s", []string{"https://s.edu.ph/", "https://s.edu.ph/fees.pdf"}, pages)
	require.False(t, doc.Empty())
	assert.Equal(t, []string{
		"https://s.edu.ph/",
		"https://s.edu.ph/fees.pdf",
		"https://s.edu.ph/a-extra",
		"https://s.edu.ph/z-extra",
	}, doc.SourceURLs)

	iHome := strings.Index(doc.Text, "[SOURCE: https://s.edu.ph/]")
	iPDF := strings.Index(doc.Text, "[PDF CONTENT FROM: https://s.edu.ph/fees.pdf]")
	iA := strings.Index(doc.Text, "[SOURCE: https://s.edu.ph/a-extra]")
	require.True(t, iHome >= 0 && iPDF > iHome && iA > iPDF, doc.Text)
	assert.Contains(t, doc.Text, "Grade 7 PHP 95,000")
}

func TestNormalize_EmptyDocumentIsNotAnError(t *testing.T) {
	t.Parallel()

	n := New()
	pages := []model.Page{
		{URL: "https://a", Err: errors.New("dial tcp: refused")},
		{URL: "https://b", Content: "<html><body><nav>Menu</nav><script>x()</script></body></html>"},
		{URL: "https://c", Content: "%PDF-1.4"},
	}
	doc := n.Normalize(context.Background(), "empty", []string{"https://a"}, pages)
	require.NotNil(t, doc)
	assert.True(t, doc.Empty())
	assert.Equal(t, "empty", doc.SchoolID)

	assert.True(t, n.Normalize(context.Background(), "none", nil, nil).Empty())
}

func TestNormalize_Truncates(t *testing.T) {
	t.Parallel()

	para := strings.Repeat("word ", 30)
	var b strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&b, "section %d %s\n\n", i, para)
	}

	n := New(WithMaxLength(1000))
	doc := n.Normalize(context.Background(), "long", []string{"https://x"}, []model.Page{{URL: "https://x", Content: b.String()}})
	assert.True(t, doc.Truncated)
	assert.LessOrEqual(t, len([]rune(doc.Text)), 1000)
	assert.True(t, strings.HasSuffix(doc.Text, "word"), "cut should land on a paragraph boundary")
}

func TestTruncate_NoBoundary(t *testing.T) {
	t.Parallel()

	out, cut := truncate(strings.Repeat("é", 50), 10)
	assert.True(t, cut)
	assert.Equal(t, strings.Repeat("é", 10), out)

	out, cut = truncate("short", 10)
	assert.False(t, cut)
	assert.Equal(t, "short", out)
}
