package services

import (
	"errors"

	"arxiv-stars/models"
)

// OutcomeKind ist das Ergebnis einer Link-Auflösung.
type OutcomeKind string

const (
	OutcomeResolved  OutcomeKind = "resolved"
	OutcomeNotFound  OutcomeKind = "not_found"
	OutcomeAmbiguous OutcomeKind = "ambiguous"
	OutcomeError     OutcomeKind = "error"
)

// ErrorKind klassifiziert Fehler für die Wiederholungs-Entscheidung.
type ErrorKind string

const (
	ErrorTransientNetwork ErrorKind = "transient_network"
	ErrorTransientService ErrorKind = "transient_service"
	ErrorMalformedInput   ErrorKind = "malformed_input"
	ErrorProviderRejected ErrorKind = "provider_rejected"
)

var ErrMultipleCandidates = errors.New("multiple candidate repositories")

// Outcome ist das Ergebnis von Resolver.Resolve für ein einzelnes Paper.
type Outcome struct {
	Kind       OutcomeKind
	RepoURL    string
	Candidates []string
	ErrKind    ErrorKind
	Err        error
	Note       string
}

func resolved(url string) Outcome {
	return Outcome{Kind: OutcomeResolved, RepoURL: url, Candidates: []string{url}}
}

func notFound(note string) Outcome {
	return Outcome{Kind: OutcomeNotFound, Note: note}
}

func ambiguous(candidates []string) Outcome {
	return Outcome{Kind: OutcomeAmbiguous, Candidates: candidates, Err: ErrMultipleCandidates, Note: ErrMultipleCandidates.Error()}
}

func failed(kind ErrorKind, err error) Outcome {
	return Outcome{Kind: OutcomeError, ErrKind: kind, Err: err, Note: string(kind)}
}

// Permanent meldet, ob das Ergebnis gespeichert wird. Transiente Fehler lassen das Paper
// unaufgelöst, damit der nächste Lauf es erneut versucht.
func (o Outcome) Permanent() bool {
	if o.Kind == OutcomeError {
		return o.ErrKind == ErrorMalformedInput || o.ErrKind == ErrorProviderRejected
	}
	return true
}

// StoredLink ist der Wert für papers.github_link.
func (o Outcome) StoredLink() string {
	switch o.Kind {
	case OutcomeResolved:
		return o.RepoURL
	case OutcomeAmbiguous:
		return models.LinkAmbiguous
	case OutcomeNotFound:
		return models.LinkNotFound
	}
	if o.Permanent() {
		return models.LinkNotFound
	}
	return models.LinkUnresolved
}

// MetricLabel ist das Label für repository_resolutions_total.
func (o Outcome) MetricLabel() string {
	if o.Kind == OutcomeError {
		return string(o.ErrKind)
	}
	return string(o.Kind)
}
