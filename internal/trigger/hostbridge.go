package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/flowforge/internal/domain"
)

// HostBridge is the small surface the embedding host (a browser
// extension background page, an OS-level hotkey/menu service) must
// implement for url/hotkey/contextmenu/dom triggers. The concrete
// browser/OS surfaces are external collaborators; this package only
// owns trigger bookkeeping (cooldown lives in Manager) and delegates
// the listener plumbing itself to the host.
type HostBridge interface {
	// RegisterURLWatch installs URL-navigation matching for rules,
	// invoking fire whenever a navigation matches.
	RegisterURLWatch(id string, rules []domain.URLMatchRule, fire func(tabID, url string)) error
	UnregisterURLWatch(id string) error

	RegisterHotkey(id string, commandKey string, fire func(tabID string)) error
	UnregisterHotkey(id string) error

	RegisterContextMenu(id string, title string, contexts []string, fire func(tabID string)) error
	UnregisterContextMenu(id string) error

	RegisterDOMWatch(id string, watch domain.DOMWatch, fire func(tabID string)) error
	UnregisterDOMWatch(id string) error
}

// HostBridgeHandler adapts a single HostBridge to the url, hotkey,
// contextmenu and dom TriggerKinds, dispatching Install/Uninstall to
// the matching HostBridge method for its configured kind.
type HostBridgeHandler struct {
	kind   domain.TriggerKind
	bridge HostBridge

	mu        sync.Mutex
	installed map[string]bool
}

// NewHostBridgeHandler constructs a handler for one of the four
// host-bridge trigger kinds, backed by bridge.
func NewHostBridgeHandler(kind domain.TriggerKind, bridge HostBridge) *HostBridgeHandler {
	return &HostBridgeHandler{kind: kind, bridge: bridge, installed: make(map[string]bool)}
}

func (h *HostBridgeHandler) Kind() domain.TriggerKind { return h.kind }

func (h *HostBridgeHandler) Install(ctx context.Context, spec *domain.TriggerSpec, fire FireFunc) error {
	var err error
	switch h.kind {
	case domain.TriggerURL:
		err = h.bridge.RegisterURLWatch(spec.ID, spec.URLMatch, func(tabID, url string) {
			fire(context.Background(), spec.ID, domain.TriggerFireContext{
				TriggerID: spec.ID, Kind: domain.TriggerURL, FiredAt: time.Now(), TabID: tabID,
			})
		})
	case domain.TriggerHotkey:
		if spec.CommandKey == "" {
			return domain.NewError(domain.CodeValidation, "hotkey trigger requires commandKey")
		}
		err = h.bridge.RegisterHotkey(spec.ID, spec.CommandKey, func(tabID string) {
			fire(context.Background(), spec.ID, domain.TriggerFireContext{
				TriggerID: spec.ID, Kind: domain.TriggerHotkey, FiredAt: time.Now(), TabID: tabID,
			})
		})
	case domain.TriggerContextMenu:
		err = h.bridge.RegisterContextMenu(spec.ID, spec.MenuTitle, spec.MenuContexts, func(tabID string) {
			fire(context.Background(), spec.ID, domain.TriggerFireContext{
				TriggerID: spec.ID, Kind: domain.TriggerContextMenu, FiredAt: time.Now(), TabID: tabID,
			})
		})
	case domain.TriggerDOM:
		if spec.DOM == nil || spec.DOM.Selector == "" {
			return domain.NewError(domain.CodeValidation, "dom trigger requires a selector")
		}
		err = h.bridge.RegisterDOMWatch(spec.ID, *spec.DOM, func(tabID string) {
			fire(context.Background(), spec.ID, domain.TriggerFireContext{
				TriggerID: spec.ID, Kind: domain.TriggerDOM, FiredAt: time.Now(), TabID: tabID,
			})
		})
	default:
		return domain.NewError(domain.CodeValidation, "host bridge handler does not support kind %s", h.kind)
	}
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.installed[spec.ID] = true
	h.mu.Unlock()
	return nil
}

func (h *HostBridgeHandler) Uninstall(id string) error {
	h.mu.Lock()
	_, ok := h.installed[id]
	delete(h.installed, id)
	h.mu.Unlock()
	if !ok {
		return nil
	}
	switch h.kind {
	case domain.TriggerURL:
		return h.bridge.UnregisterURLWatch(id)
	case domain.TriggerHotkey:
		return h.bridge.UnregisterHotkey(id)
	case domain.TriggerContextMenu:
		return h.bridge.UnregisterContextMenu(id)
	case domain.TriggerDOM:
		return h.bridge.UnregisterDOMWatch(id)
	}
	return nil
}
