package models

// RankingRow ist eine Zeile der Rangliste für ein Stichtagsdatum.
type RankingRow struct {
	PaperID       uint   `json:"paper_id"`
	ArxivID       string `json:"arxiv_id"`
	Title         string `json:"title"`
	PDFLink       string `json:"pdf_link"`
	GithubLink    string `json:"github_link"`
	PublishedDate string `json:"published_date"`
	Stars         int    `json:"stars"`
	Growth        int    `json:"growth"`
}
