// Package lifecycle implements §4.L: per-account start/stop, status
// reporting, and config-change reload. Grounded on the teacher's
// channels.Manager start/stop/worker-queue pattern, generalized from
// per-channel to per-(channel, accountId).
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openclaw-china/gatewaycore/pkg/logger"
)

// Account is one (channel, accountId) unit of concurrency and failure.
type Account interface {
	Channel() string
	AccountID() string
	StartAccount(ctx context.Context) error
	StopAccount(ctx context.Context) error
	IsRunning() bool
	Configured() bool
	CanSendActive() bool
}

// Status is published to the Host-supplied sink on every state change.
type Status struct {
	Channel       string
	AccountID     string
	Running       bool
	Configured    bool
	CanSendActive bool
	ChangedAt     time.Time
}

// StatusSink receives status updates; the Host owns the sink's fan-out.
type StatusSink func(Status)

type accountState struct {
	account Account
	cancel  context.CancelFunc
}

// Manager tracks every registered account and owns its running task.
type Manager struct {
	mu       sync.RWMutex
	accounts map[string]*accountState // key: channel + "/" + accountId
	sink     StatusSink
}

func NewManager(sink StatusSink) *Manager {
	if sink == nil {
		sink = func(Status) {}
	}
	return &Manager{accounts: make(map[string]*accountState), sink: sink}
}

func key(channel, accountID string) string {
	return channel + "/" + accountID
}

// Register adds an account without starting it.
func (m *Manager) Register(a Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[key(a.Channel(), a.AccountID())] = &accountState{account: a}
}

// Unregister stops (if running) and removes an account.
func (m *Manager) Unregister(ctx context.Context, channel, accountID string) error {
	m.mu.Lock()
	st, ok := m.accounts[key(channel, accountID)]
	delete(m.accounts, key(channel, accountID))
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.stopState(ctx, st)
}

// StartAccount establishes ingress and registers webhook routes for one
// account.
func (m *Manager) StartAccount(ctx context.Context, channel, accountID string) error {
	m.mu.Lock()
	st, ok := m.accounts[key(channel, accountID)]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("account %s/%s not registered", channel, accountID)
	}

	taskCtx, cancel := context.WithCancel(ctx)
	st.cancel = cancel

	logger.InfoCF("lifecycle", "starting account", map[string]any{"channel": channel, "account": accountID})
	if err := st.account.StartAccount(taskCtx); err != nil {
		cancel()
		return fmt.Errorf("start account %s/%s: %w", channel, accountID, err)
	}
	m.publish(st.account)
	return nil
}

// StopAccount cancels the account's task and unregisters its routes.
func (m *Manager) StopAccount(ctx context.Context, channel, accountID string) error {
	m.mu.RLock()
	st, ok := m.accounts[key(channel, accountID)]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("account %s/%s not registered", channel, accountID)
	}
	return m.stopState(ctx, st)
}

func (m *Manager) stopState(ctx context.Context, st *accountState) error {
	if st.cancel != nil {
		st.cancel()
	}
	logger.InfoCF("lifecycle", "stopping account", map[string]any{
		"channel": st.account.Channel(), "account": st.account.AccountID(),
	})
	err := st.account.StopAccount(ctx)
	m.publish(st.account)
	return err
}

func (m *Manager) publish(a Account) {
	m.sink(Status{
		Channel:       a.Channel(),
		AccountID:     a.AccountID(),
		Running:       a.IsRunning(),
		Configured:    a.Configured(),
		CanSendActive: a.CanSendActive(),
		ChangedAt:     time.Now(),
	})
}

// StartAll starts every registered account, logging but not aborting on
// individual failures (accounts are independent units of failure).
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.RLock()
	accounts := make([]*accountState, 0, len(m.accounts))
	for _, st := range m.accounts {
		accounts = append(accounts, st)
	}
	m.mu.RUnlock()

	for _, st := range accounts {
		if err := m.StartAccount(ctx, st.account.Channel(), st.account.AccountID()); err != nil {
			logger.ErrorCF("lifecycle", "failed to start account", map[string]any{"error": err.Error()})
		}
	}
}

// StopAll stops every registered account.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	accounts := make([]*accountState, 0, len(m.accounts))
	for _, st := range m.accounts {
		accounts = append(accounts, st)
	}
	m.mu.RUnlock()

	for _, st := range accounts {
		if err := m.stopState(ctx, st); err != nil {
			logger.ErrorCF("lifecycle", "failed to stop account", map[string]any{"error": err.Error()})
		}
	}
}

// Reload stops then restarts the accounts named in changedAccountKeys
// ("channel/accountId" form), per §4.L's config-change reload rule.
func (m *Manager) Reload(ctx context.Context, changedAccountKeys []string) error {
	for _, k := range changedAccountKeys {
		m.mu.RLock()
		st, ok := m.accounts[k]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		channel, accountID := st.account.Channel(), st.account.AccountID()
		if err := m.StopAccount(ctx, channel, accountID); err != nil {
			return fmt.Errorf("reload stop %s: %w", k, err)
		}
		if err := m.StartAccount(ctx, channel, accountID); err != nil {
			return fmt.Errorf("reload start %s: %w", k, err)
		}
	}
	return nil
}

// GetStatus returns a snapshot of every registered account's status.
func (m *Manager) GetStatus() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.accounts))
	for k, st := range m.accounts {
		out[k] = Status{
			Channel:       st.account.Channel(),
			AccountID:     st.account.AccountID(),
			Running:       st.account.IsRunning(),
			Configured:    st.account.Configured(),
			CanSendActive: st.account.CanSendActive(),
		}
	}
	return out
}
