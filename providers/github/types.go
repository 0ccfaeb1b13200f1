package github

// Repository ist der für uns relevante Ausschnitt aus GET /repos/{owner}/{repo}.
type Repository struct {
	FullName        string `json:"full_name"`
	StargazersCount int    `json:"stargazers_count"`
}

// ErrorResponse ist der Fehler-Body der GitHub-API.
type ErrorResponse struct {
	Message          string `json:"message"`
	DocumentationURL string `json:"documentation_url"`
}
