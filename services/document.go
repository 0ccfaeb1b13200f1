package services

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
)

var (
	ErrUnsupportedDocument = errors.New("unsupported document type")
	ErrUnreadableDocument  = errors.New("unreadable document")
)

var urlRE = regexp.MustCompile(`https?://(?:www\.)?[-a-zA-Z0-9@:%._+~#=]{1,256}\.[a-zA-Z0-9()]{1,6}\b[-a-zA-Z0-9()@:%_+.~#?&/=]*[a-zA-Z0-9/]`)

// Document ist der Text eines heruntergeladenen Dokuments plus seine eingebetteten Links.
type Document struct {
	Text  string
	Links []string
}

// URLs liefert die eingebetteten Links und alle im Text gefundenen URLs.
func (d Document) URLs() []string {
	urls := append([]string{}, d.Links...)
	return append(urls, urlRE.FindAllString(d.Text, -1)...)
}

// HasSignal meldet, ob irgendeine URL des Dokuments signal enthält (Groß-/Kleinschreibung egal).
func (d Document) HasSignal(signal string) bool {
	signal = strings.ToLower(signal)
	for _, u := range d.URLs() {
		if strings.Contains(strings.ToLower(u), signal) {
			return true
		}
	}
	return false
}

// ExtractDocument liest die Datei unter path als PDF, HTML oder Klartext.
func ExtractDocument(path, contentType string) (Document, error) {
	head, err := readHead(path, 512)
	if err != nil {
		return Document{}, err
	}
	ct := strings.ToLower(contentType)

	var doc Document
	switch {
	case bytes.HasPrefix(bytes.TrimLeft(head, "\x00\t\r\n "), []byte("%PDF")):
		doc, err = extractPDF(path)
	case strings.Contains(ct, "html") || looksLikeHTML(head):
		doc, err = extractHTML(path)
	case strings.HasPrefix(ct, "text/plain"):
		var raw []byte
		raw, err = os.ReadFile(path)
		doc.Text = string(raw)
	default:
		return Document{}, fmt.Errorf("%w: %q", ErrUnsupportedDocument, contentType)
	}
	if err != nil {
		return Document{}, err
	}
	doc.Text = NormalizeText(doc.Text)
	return doc, nil
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:read], nil
}

func looksLikeHTML(head []byte) bool {
	lower := bytes.ToLower(bytes.TrimSpace(head))
	return bytes.HasPrefix(lower, []byte("<!doctype html")) || bytes.HasPrefix(lower, []byte("<html"))
}

// extractPDF liest Link-Annotationen (/Annots -> /A -> /URI) und den Klartext aller Seiten.
func extractPDF(path string) (doc Document, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			doc = Document{}
			err = fmt.Errorf("%w: %v", ErrUnreadableDocument, rec)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		if f != nil {
			f.Close()
		}
		return Document{}, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}
	defer f.Close()

	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		annots := page.V.Key("Annots")
		for j := 0; j < annots.Len(); j++ {
			uri := annots.Index(j).Key("A").Key("URI")
			if uri.Kind() == pdf.String {
				if s := strings.TrimSpace(uri.RawString()); s != "" {
					doc.Links = append(doc.Links, s)
				}
			}
		}
	}

	text, err := reader.GetPlainText()
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(text); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}
	doc.Text = buf.String()
	return doc, nil
}

// extractHTML liest alle href-Ziele und den sichtbaren Text.
func extractHTML(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, err
	}
	defer f.Close()

	page, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}
	page.Find("script, style, noscript").Remove()

	var doc Document
	page.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && strings.TrimSpace(href) != "" {
			doc.Links = append(doc.Links, strings.TrimSpace(href))
		}
	})
	body := page.Find("body")
	if body.Length() > 0 {
		doc.Text = body.Text()
	} else {
		doc.Text = page.Text()
	}
	return doc, nil
}
