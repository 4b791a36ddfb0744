// Package plugin assembles the per-channel components (config, directory,
// outbound sender, lifecycle account) into the Host plug-in surface of
// §6/§4.M: one Plugin per (channel, accountId), registered with a Manager the Host
// queries for metadata, capabilities, and the live account handle.
//
// Grounded on the teacher's pkg/plugin/manager.go Plugin/Manager
// registration pattern, generalized from a single hook-registry contract to
// a per-channel-account composition record.
package plugin

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/openclaw-china/gatewaycore/pkg/config"
	"github.com/openclaw-china/gatewaycore/pkg/directory"
	"github.com/openclaw-china/gatewaycore/pkg/lifecycle"
	"github.com/openclaw-china/gatewaycore/pkg/outbound"
)

// Meta is the human-facing description of a channel plug-in.
type Meta struct {
	Name        string
	Version     string
	Description string
}

// Capabilities summarizes what a channel account can do, surfaced so the
// Host can skip unreachable send paths instead of discovering them at
// send-time fallback.
type Capabilities struct {
	SupportsDirect     bool
	SupportsGroup      bool
	SupportsVoice      bool
	SupportsFileSend   bool
	SupportsActiveSend bool // false for DingTalk, which only replies via session webhook / card
}

// ConfigSchema documents the account-level keys a channel's config struct
// accepts, keyed by field name; the Host's config UI/validator reads this
// rather than reflecting over the Go struct.
type ConfigSchema map[string]string

// Directory binds the channel-agnostic target resolver of §4.K to one
// channel tag, so the Host doesn't need to pass the channel on every call.
type Directory struct {
	Channel string
}

func (d Directory) CanResolve(target string) bool {
	return directory.CanResolve(d.Channel, target)
}

func (d Directory) ResolveTarget(target string) directory.Target {
	return directory.ResolveTarget(d.Channel, target)
}

func (d Directory) Format() string {
	return directory.GetTargetFormats()[d.Channel]
}

// Plugin is the assembled Host-facing surface for one (channel, accountId).
type Plugin struct {
	ID           string // "<channel>/<accountId>"
	Meta         Meta
	Capabilities Capabilities
	ConfigSchema ConfigSchema
	Config       config.ResolvedAccount
	Directory    Directory
	Outbound     *outbound.Sender
	Gateway      lifecycle.Account
}

// Manager owns every assembled plug-in and the shared lifecycle manager
// that starts/stops their gateways.
type Manager struct {
	mu       sync.RWMutex
	plugins  map[string]*Plugin
	ids      []string
	lifecyle *lifecycle.Manager
}

func NewManager(lm *lifecycle.Manager) *Manager {
	return &Manager{plugins: make(map[string]*Plugin), lifecyle: lm}
}

// Register adds a plug-in and its gateway to the shared lifecycle manager.
// It does not start the gateway; the caller drives StartAll/StartAccount.
func (m *Manager) Register(p *Plugin) error {
	if p == nil {
		return errors.New("plugin is nil")
	}
	if p.ID == "" {
		return errors.New("plugin id is required")
	}
	if p.Gateway == nil {
		return fmt.Errorf("plugin %q: gateway is required", p.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plugins[p.ID]; exists {
		return fmt.Errorf("plugin %q already registered", p.ID)
	}
	m.plugins[p.ID] = p
	m.ids = append(m.ids, p.ID)
	if m.lifecyle != nil {
		m.lifecyle.Register(p.Gateway)
	}
	return nil
}

// RegisterAll loads plug-ins sequentially, stopping at the first error.
func (m *Manager) RegisterAll(plugins ...*Plugin) error {
	for _, p := range plugins {
		if err := m.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the plug-in registered under id, if any.
func (m *Manager) Get(id string) (*Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plugins[id]
	return p, ok
}

// IDs returns every registered plug-in ID in registration order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.ids)
}

// ID composes a plugin's ID from a channel tag and account ID.
func ID(channel, accountID string) string {
	return channel + "/" + accountID
}
