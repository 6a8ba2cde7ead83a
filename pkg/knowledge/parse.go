package knowledge

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// snippetGetResponse mirrors the shape of a GraphQL Get query against a
// single class: {"Get": {"<ClassName>": [{...}]}}.
type snippetGetResponse struct {
	Get map[string][]struct {
		Text       string `json:"text"`
		Source     string `json:"source"`
		Additional struct {
			Distance float64 `json:"distance"`
		} `json:"_additional"`
	} `json:"Get"`
}

// parseSnippets decodes a GraphQL Get response's dynamic Data field into
// Snippet values for the given class. Weaviate reports similarity as a
// distance (lower is closer); Score is the complement so higher is always
// better, matching how callers rank results.
func parseSnippets(resp *models.GraphQLResponse, className string) ([]Snippet, error) {
	if resp == nil {
		return nil, fmt.Errorf("knowledge: nil GraphQL response")
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("knowledge: marshaling response data: %w", err)
	}

	var parsed snippetGetResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("knowledge: unmarshaling response data: %w", err)
	}

	rows := parsed.Get[className]
	out := make([]Snippet, 0, len(rows))
	for _, r := range rows {
		out = append(out, Snippet{
			Text:   r.Text,
			Source: r.Source,
			Score:  1 - r.Additional.Distance,
		})
	}
	return out, nil
}
