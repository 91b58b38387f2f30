package feed

import (
	"net/url"
	"strings"
	"testing"
)

const articleHTML = `
	<!DOCTYPE html>
	<html>
	<head>
		<title>Test Article</title>
	</head>
	<body>
		<header>
			<h1>Site Header</h1>
			<nav>Navigation</nav>
		</header>
		<main>
			<article>
				<h1>Main Article Title</h1>
				<p>This is the main content of the article. It contains several paragraphs of meaningful text that should be extracted by the readability algorithm.</p>
				<p>This is another paragraph with more content. The readability algorithm should identify this as the main content area and extract it properly.</p>
				<p>Here is some more substantial content to ensure we meet the character threshold. This paragraph adds more context and information that would be valuable to readers.</p>
			</article>
		</main>
		<aside>
			<div>Advertisement</div>
		</aside>
		<footer>
			<p>Copyright 2024</p>
		</footer>
	</body>
	</html>
	`

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("Failed to parse URL %q: %v", raw, err)
	}
	return u
}

func TestContentExtractor_ValidHTML(t *testing.T) {
	extractor := NewContentExtractor()

	result, err := extractor.Run([]byte(articleHTML), mustParseURL(t, "https://example.com/article"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !strings.Contains(result, "main content of the article") {
		t.Errorf("Expected extracted content to contain main article text, got: %s", result)
	}
	if strings.Contains(result, "Copyright 2024") {
		t.Errorf("Expected extracted content to exclude footer")
	}
	if strings.Contains(result, "<p>") {
		t.Errorf("Expected plain text without markup, got: %s", result)
	}
	if strings.Contains(result, "\n") {
		t.Errorf("Expected whitespace to be collapsed, got: %q", result)
	}
}

func TestContentExtractor_EmptyData(t *testing.T) {
	extractor := NewContentExtractor()

	for _, data := range [][]byte{nil, {}} {
		result, err := extractor.Run(data, nil)
		if err == nil {
			t.Fatalf("Expected error for empty data")
		}
		if result != "" {
			t.Errorf("Expected empty result for empty data")
		}
		if err.Error() != "HTML data is empty" {
			t.Errorf("Expected error message 'HTML data is empty', got '%s'", err.Error())
		}
	}
}

func TestContentExtractor_Truncates(t *testing.T) {
	extractor := &ContentExtractor{maxChars: 40}

	result, err := extractor.Run([]byte(articleHTML), mustParseURL(t, "https://example.com/article"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if n := len([]rune(result)); n != 40 {
		t.Errorf("Expected 40 characters, got: %d", n)
	}
}

func TestNewContentExtractor(t *testing.T) {
	extractor := NewContentExtractor()

	if extractor.maxChars != DefaultMaxArticleChars {
		t.Errorf("Expected maxChars %d, got: %d", DefaultMaxArticleChars, extractor.maxChars)
	}
}
