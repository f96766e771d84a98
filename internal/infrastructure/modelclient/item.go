package modelclient

import (
	"encoding/json"

	"github.com/autodrive/autodrive/internal/domain/history"
)

func toResponseItem(raw *rawResponseItem) (*history.ResponseItem, error) {
	item := history.ResponseItem{
		Type:             history.ItemKind(raw.Type),
		ID:               raw.ID,
		Role:             history.Role(raw.Role),
		EncryptedContent: raw.EncryptedContent,
		CallID:           raw.CallID,
		Name:             raw.Name,
		Arguments:        raw.Arguments,
		Input:            raw.Input,
		Output:           raw.Output,
	}

	if len(raw.Content) > 0 {
		var chunks []history.ContentChunk
		if err := json.Unmarshal(raw.Content, &chunks); err != nil {
			return nil, err
		}
		item.Content = chunks
	}
	if len(raw.Summary) > 0 {
		var summary []history.ReasoningSummary
		if err := json.Unmarshal(raw.Summary, &summary); err != nil {
			return nil, err
		}
		item.Summary = summary
	}
	if len(raw.ReasoningContent) > 0 {
		var content []history.ReasoningContent
		if err := json.Unmarshal(raw.ReasoningContent, &content); err != nil {
			return nil, err
		}
		item.ReasoningContent = content
	}

	return &item, nil
}
