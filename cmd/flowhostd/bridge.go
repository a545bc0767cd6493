package main

import "github.com/dshills/flowforge/internal/domain"

// nullHostBridge accepts url/hotkey/contextmenu/dom trigger
// registrations without ever firing them. flowhostd runs headless
// with no embedding browser or OS shell attached; a real deployment
// wires trigger.HostBridge to that host's extension/native-messaging
// surface instead of this stub.
type nullHostBridge struct{}

func (nullHostBridge) RegisterURLWatch(string, []domain.URLMatchRule, func(tabID, url string)) error {
	return nil
}
func (nullHostBridge) UnregisterURLWatch(string) error { return nil }

func (nullHostBridge) RegisterHotkey(string, string, func(tabID string)) error { return nil }
func (nullHostBridge) UnregisterHotkey(string) error                           { return nil }

func (nullHostBridge) RegisterContextMenu(string, string, []string, func(tabID string)) error {
	return nil
}
func (nullHostBridge) UnregisterContextMenu(string) error { return nil }

func (nullHostBridge) RegisterDOMWatch(string, domain.DOMWatch, func(tabID string)) error {
	return nil
}
func (nullHostBridge) UnregisterDOMWatch(string) error { return nil }
