package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"arxiv-stars/config"
	"arxiv-stars/providers"

	"go.uber.org/zap"
)

const (
	promptPrefix = "I will give you the full text of an AI research article. Find the GitHub link of the article's own project. " +
		"Do not give links that the article only cites or references. " +
		"Answer in this form: 'The Github Link is: https://...' or say that you didn't find the project link.\n\n"
	promptSuffix = "\n\nThe article ends here. Find the GitHub link of the article's own project. " +
		"Do not give links that the article only cites or references."
)

var ErrServiceUnavailable = errors.New("generative service unavailable")

// RepoMatcher findet Repository-URLs der Form host/owner/repo in Freitext.
type RepoMatcher struct {
	host string
	re   *regexp.Regexp
}

// NewRepoMatcher baut den Matcher für einen Hosting-Dienst (z.B. "github.com").
func NewRepoMatcher(host string) *RepoMatcher {
	host = strings.ToLower(strings.TrimSpace(host))
	pattern := `(?i)(?:^|[^a-z0-9_.-])(?:https?://)?(?:www\.)?` + regexp.QuoteMeta(host) +
		`/([a-z0-9_.-]+)/([a-z0-9_.-]*[a-z0-9_-])`
	return &RepoMatcher{host: host, re: regexp.MustCompile(pattern)}
}

// Extract liefert alle verschiedenen Repository-URLs in text, kanonisch als https://host/owner/repo.
func (m *RepoMatcher) Extract(text string) []string {
	seen := make(map[string]bool)
	var urls []string
	for _, match := range m.re.FindAllStringSubmatch(text, -1) {
		owner := match[1]
		repo := strings.TrimSuffix(match[2], ".git")
		if owner == "" || repo == "" || strings.Trim(owner, ".") == "" {
			continue
		}
		canonical := fmt.Sprintf("https://%s/%s/%s", m.host, owner, repo)
		key := strings.ToLower(canonical)
		if seen[key] {
			continue
		}
		seen[key] = true
		urls = append(urls, canonical)
	}
	return urls
}

// Signal ist der Teil des Hostnamens, nach dem die Vorprüfung sucht ("github").
func (m *RepoMatcher) Signal() string {
	if i := strings.Index(m.host, "."); i > 0 {
		return m.host[:i]
	}
	return m.host
}

// Resolver ordnet einem Paper über sein Dokument genau ein Repository zu.
type Resolver struct {
	Config     *config.Config
	Logger     *zap.Logger
	Generator  providers.Generator
	HTTPClient *http.Client

	matcher *RepoMatcher
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewResolver erstellt einen Resolver mit dem konfigurierten Generative-Text-Provider.
func NewResolver(cfg *config.Config, logger *zap.Logger, gen providers.Generator) *Resolver {
	return &Resolver{
		Config:     cfg,
		Logger:     logger,
		Generator:  gen,
		HTTPClient: httpClient,
		matcher:    NewRepoMatcher(cfg.RepoHost),
		sleep:      sleepCtx,
	}
}

// Resolve lädt das Dokument, prüft es auf Repository-Hinweise und fragt erst dann das Modell.
func (r *Resolver) Resolve(ctx context.Context, documentURL string) Outcome {
	log := r.Logger.With(zap.String("document", documentURL))

	path, contentType, err := r.download(ctx, documentURL)
	if err != nil {
		log.Warn("Document download failed", zap.Error(err))
		var statusErr *DocumentStatusError
		if errors.As(err, &statusErr) && !statusErr.Temporary() {
			return failed(ErrorMalformedInput, err)
		}
		return failed(ErrorTransientNetwork, err)
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("Could not remove scratch file", zap.String("path", path), zap.Error(err))
		}
	}()

	doc, err := ExtractDocument(path, contentType)
	if err != nil {
		log.Warn("Document could not be read", zap.String("content_type", contentType), zap.Error(err))
		return failed(ErrorMalformedInput, err)
	}

	if !doc.HasSignal(r.matcher.Signal()) {
		log.Debug("No repository signal in document, skipping model call.")
		return notFound("no repository link in document")
	}

	answer, attempts, err := r.ask(ctx, doc)
	if err != nil {
		log.Warn("Model call failed", zap.Int("attempts", attempts), zap.Error(err))
		if errors.Is(err, ErrServiceUnavailable) || ctx.Err() != nil {
			return failed(ErrorTransientService, err)
		}
		return failed(ErrorProviderRejected, err)
	}

	candidates := r.matcher.Extract(answer)
	switch len(candidates) {
	case 0:
		log.Info("Model found no project repository.")
		return notFound("model found no repository")
	case 1:
		log.Info("Resolved repository", zap.String("repo", candidates[0]))
		return resolved(candidates[0])
	default:
		log.Warn("Model named several repositories, not picking one.", zap.Strings("candidates", candidates))
		return ambiguous(candidates)
	}
}

// DocumentStatusError ist eine Dokumentantwort mit Status ungleich 200.
type DocumentStatusError struct {
	StatusCode int
	Status     string
}

func (e *DocumentStatusError) Error() string {
	return "bad status: " + e.Status
}

// Temporary: 5xx, 408 und 429 werden beim nächsten Lauf erneut versucht, andere 4xx nicht.
func (e *DocumentStatusError) Temporary() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return false
	}
	return true
}

// download schreibt das Dokument in eine temporäre Datei; der Aufrufer löscht sie.
func (r *Resolver) download(ctx context.Context, documentURL string) (string, string, error) {
	if r.Config.DocumentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Config.DocumentTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, documentURL, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", &DocumentStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	f, err := os.CreateTemp(r.Config.ScratchDir, "paper-*")
	if err != nil {
		return "", "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", "", err
	}
	return f.Name(), resp.Header.Get("Content-Type"), nil
}

// ask wiederholt den Modellaufruf nur bei vorübergehender Überlastung (503).
// Eingebettete Links (z.B. PDF-Annotationen) stehen nicht im Klartext und werden angehängt.
func (r *Resolver) ask(ctx context.Context, doc Document) (string, int, error) {
	prompt := promptPrefix + truncateChars(doc.Text, r.Config.LLMMaxPromptChars) + linkBlock(doc.Links) + promptSuffix

	maxAttempts := r.Config.LLMMaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 1; ; attempt++ {
		answer, err := r.Generator.Generate(ctx, prompt)
		if err == nil {
			return answer, attempt, nil
		}
		if !providers.IsUnavailable(err) {
			return "", attempt, err
		}
		if attempt >= maxAttempts {
			return "", attempt, fmt.Errorf("%w after %d attempts: %v", ErrServiceUnavailable, attempt, err)
		}
		r.Logger.Info("Model unavailable, retrying",
			zap.String("provider", r.Generator.Name()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", r.Config.LLMRetryDelay))
		if err := r.sleep(ctx, r.Config.LLMRetryDelay); err != nil {
			return "", attempt, err
		}
	}
}

func linkBlock(links []string) string {
	if len(links) == 0 {
		return ""
	}
	seen := make(map[string]bool, len(links))
	var b strings.Builder
	b.WriteString("\n\nLinks embedded in the article:")
	for _, l := range links {
		if seen[l] {
			continue
		}
		seen[l] = true
		b.WriteString("\n- ")
		b.WriteString(l)
	}
	return b.String()
}

// truncateChars kürzt s auf höchstens limit Zeichen (Runes, nicht Bytes).
func truncateChars(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
