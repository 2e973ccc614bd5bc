// Package agent implements the client for the remote dialogue agent.
package agent

import "encoding/json"

// StartRequest begins an interview session on the remote agent.
type StartRequest struct {
	InterviewID string `json:"interview_id"`
	UserID      string `json:"user_id"`
}

// StartResponse carries the first question and opaque session state.
type StartResponse struct {
	InterviewID    string          `json:"interview_id"`
	FirstQuestion  string          `json:"first_question"`
	InterviewState json.RawMessage `json:"interview_state,omitempty"`
	Status         string          `json:"status"`
}

// TurnRequest submits one candidate answer for processing.
type TurnRequest struct {
	InterviewID     string  `json:"interview_id"`
	UserID          string  `json:"user_id"`
	UserResponse    string  `json:"user_response"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// TurnResponse carries the next question or the completion signal.
type TurnResponse struct {
	InterviewID       string          `json:"interview_id"`
	NextQuestion      string          `json:"next_question,omitempty"`
	InterviewComplete bool            `json:"interview_complete"`
	InterviewState    json.RawMessage `json:"interview_state,omitempty"`
	RealTimeFeedback  json.RawMessage `json:"real_time_feedback,omitempty"`
}

// Completed reports whether the response signals the end of the interview,
// either explicitly or by carrying no next question.
func (r *TurnResponse) Completed() bool {
	return r.InterviewComplete || r.NextQuestion == ""
}

// EndRequest terminates an interview manually.
type EndRequest struct {
	InterviewID     string `json:"interview_id"`
	UserID          string `json:"user_id"`
	FinalEvaluation string `json:"final_evaluation,omitempty"`
}

// EndResponse confirms termination.
type EndResponse struct {
	InterviewID     string `json:"interview_id"`
	Status          string `json:"status"`
	FinalEvaluation string `json:"final_evaluation,omitempty"`
	Message         string `json:"message,omitempty"`
}

// HistoryEntry is one prior exchange passed to auto-answer.
type HistoryEntry struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// AutoAnswerRequest asks the agent to answer the current question itself.
type AutoAnswerRequest struct {
	Question            string         `json:"question"`
	InterviewType       string         `json:"interview_type"`
	ConversationHistory []HistoryEntry `json:"conversation_history,omitempty"`
	DifficultyLevel     string         `json:"difficulty_level,omitempty"`
}

// AutoAnswerResponse carries a generated candidate answer. The endpoint may
// return either a single object or an array of these.
type AutoAnswerResponse struct {
	Answer          string  `json:"answer"`
	Reasoning       string  `json:"reasoning,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// errorBody is the agent's error envelope. Older agents populate only
// detail; newer ones add a structured code.
type errorBody struct {
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}
