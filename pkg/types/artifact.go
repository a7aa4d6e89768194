package types

// ArtifactSource records which path produced a session's final artifact.
type ArtifactSource string

const (
	ArtifactSynthesized ArtifactSource = "synthesized" // ArtifactSynthesized comes from the synthesis pass.
	ArtifactSummary     ArtifactSource = "summary"     // ArtifactSummary is the best-effort fallback built from the completion summary.
	ArtifactPartial     ArtifactSource = "partial"     // ArtifactPartial is salvaged from a session that never completed.
)

// Artifact is the structured result of a session.
type Artifact struct {
	// Data holds the parsed JSON object when the synthesized output contained one.
	Data map[string]interface{} `json:"data,omitempty"`

	Content string         `json:"content"`
	Source  ArtifactSource `json:"source"`

	// Iterations is the number of loop iterations the session used.
	Iterations int `json:"iterations"`
}

// IsEmpty reports whether the artifact carries neither content nor data.
func (a *Artifact) IsEmpty() bool {
	return a == nil || (a.Content == "" && len(a.Data) == 0)
}
