package core

import (
	"encoding/json"
	"fmt"
)

// wirePart is the tagged JSON representation of a Part.
type wirePart struct {
	Type             string            `json:"type"`
	Text             string            `json:"text,omitempty"`
	Data             map[string]any    `json:"data,omitempty"`
	MimeType         string            `json:"mime_type,omitempty"`
	Bytes            []byte            `json:"bytes,omitempty"`
	Name             string            `json:"name,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

const (
	partText             = "text"
	partData             = "data"
	partInlineData       = "inline_data"
	partFunctionCall     = "function_call"
	partFunctionResponse = "function_response"
)

// MarshalJSON encodes parts with a type discriminator.
func (c Content) MarshalJSON() ([]byte, error) {
	parts := make([]wirePart, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch v := p.(type) {
		case TextPart:
			parts = append(parts, wirePart{Type: partText, Text: v.Text})
		case DataPart:
			parts = append(parts, wirePart{Type: partData, Data: v.Data})
		case InlineDataPart:
			parts = append(parts, wirePart{Type: partInlineData, MimeType: v.MimeType, Bytes: v.Data, Name: v.Name})
		case FunctionCallPart:
			fc := v.FunctionCall
			parts = append(parts, wirePart{Type: partFunctionCall, FunctionCall: &fc})
		case FunctionResponsePart:
			fr := v.FunctionResponse
			parts = append(parts, wirePart{Type: partFunctionResponse, FunctionResponse: &fr})
		default:
			return nil, fmt.Errorf("unsupported part type %T", p)
		}
	}

	return json.Marshal(struct {
		Role  string     `json:"role,omitempty"`
		Parts []wirePart `json:"parts"`
	}{Role: c.Role, Parts: parts})
}

// UnmarshalJSON decodes parts produced by MarshalJSON.
func (c *Content) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role  string     `json:"role,omitempty"`
		Parts []wirePart `json:"parts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.Role = raw.Role
	c.Parts = make([]Part, 0, len(raw.Parts))

	for _, wp := range raw.Parts {
		switch wp.Type {
		case partText:
			c.Parts = append(c.Parts, TextPart{Text: wp.Text})
		case partData:
			c.Parts = append(c.Parts, DataPart{Data: wp.Data})
		case partInlineData:
			c.Parts = append(c.Parts, InlineDataPart{MimeType: wp.MimeType, Data: wp.Bytes, Name: wp.Name})
		case partFunctionCall:
			if wp.FunctionCall == nil {
				return fmt.Errorf("function_call part without payload")
			}
			c.Parts = append(c.Parts, FunctionCallPart{FunctionCall: *wp.FunctionCall})
		case partFunctionResponse:
			if wp.FunctionResponse == nil {
				return fmt.Errorf("function_response part without payload")
			}
			c.Parts = append(c.Parts, FunctionResponsePart{FunctionResponse: *wp.FunctionResponse})
		default:
			return fmt.Errorf("unknown part type %q", wp.Type)
		}
	}

	return nil
}
