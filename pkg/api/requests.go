package api

// StartSessionRequest is the HTTP request body for POST /api/v1/sessions.
type StartSessionRequest struct {
	RequirementText string `json:"requirement_text"`
	Mode            string `json:"mode"`
	Project         string `json:"project,omitempty"`
}

// SubmitAnswerRequest is the HTTP request body for POST
// /api/v1/sessions/:id/answer.
type SubmitAnswerRequest struct {
	Answers map[string]string `json:"answers"`
}
