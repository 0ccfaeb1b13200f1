package providers

import "context"

// Generator ist das Interface, das jeder Generative-Text-Provider (z.B. Gemini) implementieren muss.
type Generator interface {
	// Generate schickt einen Prompt an das Modell und gibt die Textantwort zurück.
	// Transiente Überlastung wird als *APIError gemeldet, siehe IsUnavailable.
	Generate(ctx context.Context, prompt string) (string, error)

	// Name gibt den eindeutigen Namen des Providers zurück (z.B. "gemini").
	Name() string
}
