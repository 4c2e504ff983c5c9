package slack

import (
	"encoding/json"
	"fmt"
)

// CallbackPayload is the interactive-message callback slack POSTs when
// a user picks a dropdown option. The same endpoint also serves the
// external data source for the add-to-existing-ticket type-ahead; that
// shape has Name/Value set and no Actions.
type CallbackPayload struct {
	CallbackID string           `json:"callback_id"`
	Actions    []CallbackAction `json:"actions"`

	// Option-load shape.
	Name  string `json:"name"`
	Value string `json:"value"`

	OriginalMessage json.RawMessage `json:"original_message"`
}

type CallbackAction struct {
	Name            string `json:"name"`
	SelectedOptions []struct {
		Value string `json:"value"`
	} `json:"selected_options"`
}

// OptionsResponse answers an external data source load.
type OptionsResponse struct {
	Options []Option `json:"options"`
}

// ParseCallbackPayload decodes the url-encoded "payload" form field.
func ParseCallbackPayload(raw string) (CallbackPayload, error) {
	var payload CallbackPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return payload, fmt.Errorf("decode slack callback: %w", err)
	}
	return payload, nil
}

// IsOptionLoad reports whether this callback asks for type-ahead
// options rather than dispatching an action.
func (p CallbackPayload) IsOptionLoad() bool {
	return len(p.Actions) == 0 && p.Name != ""
}

// SelectedValue returns the chosen option of the first action.
func (p CallbackPayload) SelectedValue() (action, value string, err error) {
	if len(p.Actions) == 0 || len(p.Actions[0].SelectedOptions) == 0 {
		return "", "", fmt.Errorf("callback carries no selected option")
	}
	return p.Actions[0].Name, p.Actions[0].SelectedOptions[0].Value, nil
}
