package domain

import "time"

// TriggerKind selects which handler in the Trigger Manager owns a
// TriggerSpec and which kind-specific fields are populated.
type TriggerKind string

const (
	TriggerCron        TriggerKind = "cron"
	TriggerInterval    TriggerKind = "interval"
	TriggerOneShot     TriggerKind = "oneshot"
	TriggerURL         TriggerKind = "url"
	TriggerHotkey      TriggerKind = "hotkey"
	TriggerContextMenu TriggerKind = "contextmenu"
	TriggerDOM         TriggerKind = "dom"
)

// URLMatchRule matches a page URL against a pattern using one of a
// small set of comparison modes.
type URLMatchRule struct {
	Mode    string `json:"mode"` // "equals" | "prefix" | "contains" | "regex"
	Pattern string `json:"pattern"`
}

// DOMWatch describes a DOM-trigger's selector and debounce behavior.
type DOMWatch struct {
	Selector   string `json:"selector"`
	Appear     bool   `json:"appear,omitempty"`
	Once       bool   `json:"once,omitempty"`
	DebounceMs int64  `json:"debounceMs,omitempty"`
}

// TriggerSpec is a durable rule binding a firing condition to a
// target Flow. Only the fields relevant to Kind are populated.
type TriggerSpec struct {
	SchemaVersion int            `json:"schemaVersion"`
	ID            string         `json:"id"`
	Kind          TriggerKind    `json:"kind"`
	Enabled       bool           `json:"enabled"`
	FlowID        string         `json:"flowId"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	Args          map[string]any `json:"args,omitempty"`

	// URL
	URLMatch []URLMatchRule `json:"urlMatch,omitempty"`

	// Cron
	CronExpr string `json:"cronExpr,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`

	// Interval
	IntervalMinutes int `json:"intervalMinutes,omitempty"`

	// OneShot
	FireAt *time.Time `json:"fireAt,omitempty"`

	// Hotkey
	CommandKey string `json:"commandKey,omitempty"`

	// ContextMenu
	MenuTitle    string   `json:"menuTitle,omitempty"`
	MenuContexts []string `json:"menuContexts,omitempty"`

	// DOM
	DOM *DOMWatch `json:"dom,omitempty"`

	// Storm control
	CooldownMs int `json:"cooldownMs,omitempty"`
	MaxQueued  int `json:"maxQueued,omitempty"`
}

// Validate enforces the kind-specific structural constraints named in
// the trigger's field documentation (interval minutes, cron
// expression presence, dom selector presence).
func (t *TriggerSpec) Validate() *Error {
	if t.SchemaVersion != 0 && t.SchemaVersion != SchemaVersion {
		return NewError(CodeValidation, "unsupported trigger schemaVersion %d", t.SchemaVersion)
	}
	if t.FlowID == "" {
		return NewError(CodeValidation, "trigger has no target flowId")
	}
	switch t.Kind {
	case TriggerCron:
		if t.CronExpr == "" {
			return NewError(CodeValidation, "cron trigger requires cronExpr")
		}
	case TriggerInterval:
		if t.IntervalMinutes < 1 {
			return NewError(CodeValidation, "interval trigger requires intervalMinutes >= 1")
		}
	case TriggerOneShot:
		if t.FireAt == nil {
			return NewError(CodeValidation, "oneshot trigger requires fireAt")
		}
	case TriggerDOM:
		if t.DOM == nil || t.DOM.Selector == "" {
			return NewError(CodeValidation, "dom trigger requires a selector")
		}
	case TriggerHotkey:
		if t.CommandKey == "" {
			return NewError(CodeValidation, "hotkey trigger requires commandKey")
		}
	}
	return nil
}

// TriggerFireContext is captured at the moment a trigger fires and
// carried into the Run it enqueues.
type TriggerFireContext struct {
	TriggerID string      `json:"triggerId"`
	Kind      TriggerKind `json:"kind"`
	FiredAt   time.Time   `json:"firedAt"`
	TabID     string      `json:"tabId,omitempty"`
	PageID    string      `json:"pageId,omitempty"`
}
