package modelclient

import "encoding/json"

// rawSSEEvent is the superset of fields the provider's Responses-style
// SSE events carry; unused fields are simply absent for a given `type`.
// One generously-fielded struct is decoded per line rather than a
// discriminated Go type per event kind, because encoding/json can't
// pick the variant before decoding the `type` field anyway.
type rawSSEEvent struct {
	Type string `json:"type"`

	ItemID         string `json:"item_id"`
	OutputIndex    int    `json:"output_index"`
	SummaryIndex   *int   `json:"summary_index"`
	ContentIndex   *int   `json:"content_index"`
	SequenceNumber int64  `json:"sequence_number"`
	Delta          string `json:"delta"`

	Item *rawResponseItem `json:"item"`

	Response *rawResponse `json:"response"`
}

// rawResponseItem decodes a completed output item. The fields line up
// with history.ResponseItem's JSON tags so this can be re-marshaled /
// unmarshaled directly into one.
type rawResponseItem struct {
	Type             string          `json:"type"`
	ID               string          `json:"id"`
	Role             string          `json:"role"`
	Content          json.RawMessage `json:"content"`
	Summary          json.RawMessage `json:"summary"`
	ReasoningContent json.RawMessage `json:"reasoning_content"`
	EncryptedContent string          `json:"encrypted_content"`
	CallID           string          `json:"call_id"`
	Name             string          `json:"name"`
	Arguments        string          `json:"arguments"`
	Input            string          `json:"input"`
	Output           string          `json:"output"`
}

type rawResponse struct {
	ID    string       `json:"id"`
	Usage *rawUsage    `json:"usage"`
	Error *rawAPIError `json:"error"`
}

type rawUsage struct {
	InputTokens        int64            `json:"input_tokens"`
	OutputTokens       int64            `json:"output_tokens"`
	TotalTokens        int64            `json:"total_tokens"`
	InputTokensDetails *rawInputDetails `json:"input_tokens_details"`
	OutputTokensDetail *rawOutputDetail `json:"output_tokens_details"`
}

type rawInputDetails struct {
	CachedTokens int64 `json:"cached_tokens"`
}

type rawOutputDetail struct {
	ReasoningTokens int64 `json:"reasoning_tokens"`
}

type rawAPIError struct {
	Code    string `json:"code"`
	Param   string `json:"param"`
	Message string `json:"message"`
}

func (u *rawUsage) toTokenUsage() *TokenUsage {
	if u == nil {
		return nil
	}
	out := &TokenUsage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  u.TotalTokens,
	}
	if u.InputTokensDetails != nil {
		out.CachedTokens = u.InputTokensDetails.CachedTokens
	}
	if u.OutputTokensDetail != nil {
		out.ReasoningTokens = u.OutputTokensDetail.ReasoningTokens
	}
	return out
}
