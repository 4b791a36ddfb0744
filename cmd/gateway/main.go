// Command gateway is the thin composition root that wires the channel
// transports and the dispatch coordinator into a running set of Host
// plug-ins, per §4.M. Every registered Plugin except WeCom AI Robot's
// carries a pkg/outbound.Sender wired to its transport's send calls; this
// binary's own dispatchAndLog deliver callback still just logs the reply
// block instead of calling that Sender, since the standalone host.Runtime
// built here has no real agent session to answer from. A production Host
// embeds the pkg/* packages directly and replaces dispatchAndLog's deliver
// callback with Plugin.Outbound.SendChunkedText/SendMediaFile.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/openclaw-china/gatewaycore/pkg/asr"
	"github.com/openclaw-china/gatewaycore/pkg/config"
	"github.com/openclaw-china/gatewaycore/pkg/dispatch"
	"github.com/openclaw-china/gatewaycore/pkg/envelope"
	"github.com/openclaw-china/gatewaycore/pkg/host"
	"github.com/openclaw-china/gatewaycore/pkg/lifecycle"
	"github.com/openclaw-china/gatewaycore/pkg/logger"
	"github.com/openclaw-china/gatewaycore/pkg/media"
	"github.com/openclaw-china/gatewaycore/pkg/normalize"
	"github.com/openclaw-china/gatewaycore/pkg/outbound"
	"github.com/openclaw-china/gatewaycore/pkg/plugin"
	"github.com/openclaw-china/gatewaycore/pkg/transport/dingtalk"
	"github.com/openclaw-china/gatewaycore/pkg/transport/feishu"
	"github.com/openclaw-china/gatewaycore/pkg/transport/qqbot"
	"github.com/openclaw-china/gatewaycore/pkg/transport/webhook"
	"github.com/openclaw-china/gatewaycore/pkg/transport/wecom"
	"github.com/openclaw-china/gatewaycore/pkg/transport/wecomapp"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the channels config document")
	addr := flag.String("addr", ":8080", "listen address for the webhook HTTP server")
	logFile := flag.String("log-file", "", "optional path to mirror structured logs as JSON lines")
	flag.Parse()

	if *logFile != "" {
		if err := logger.EnableFileLogging(*logFile); err != nil {
			logger.FatalCF("gateway", "enable file logging", map[string]any{"error": err.Error()})
		}
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.FatalCF("gateway", "load config", map[string]any{"path": *configPath, "error": err.Error()})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := webhook.NewRegistry()
	rt := newStandaloneRuntime()
	lm := lifecycle.NewManager(func(s lifecycle.Status) {
		logger.InfoCF("lifecycle", "status changed", map[string]any{
			"channel": s.Channel, "account": s.AccountID, "running": s.Running,
		})
	})
	pm := plugin.NewManager(lm)

	mediaSvc := newMediaService(cfg.Channels.WeComApp.InboundMedia)
	if mediaSvc != nil {
		go pruneMediaLoop(ctx, mediaSvc, cfg.Channels.WeComApp.InboundMedia.KeepDays)
	}

	registerWeComApp(pm, rt, registry, cfg.Channels.WeComApp, mediaSvc)
	registerWeCom(pm, rt, registry, cfg.Channels.WeCom)
	registerDingTalk(pm, rt, cfg.Channels.DingTalk)
	registerFeishu(pm, rt, cfg.Channels.Feishu)
	registerQQ(pm, rt, cfg.Channels.QQ, mediaSvc)

	server := &http.Server{Addr: *addr, Handler: registry.Handler()}
	go func() {
		logger.InfoCF("gateway", "webhook server listening", map[string]any{"addr": *addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("gateway", "webhook server stopped", map[string]any{"error": err.Error()})
		}
	}()

	lm.StartAll(ctx)
	logger.InfoCF("gateway", "plugins registered", map[string]any{"ids": pm.IDs()})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.InfoC("gateway", "shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	lm.StopAll(shutdownCtx)
}

func loadConfig(path string) (config.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return config.Config{}, err
	}
	defer f.Close()

	var cfg config.Config
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return config.Config{}, err
	}
	if err := config.ApplyDefaultAccountEnv(&cfg.Channels.WeComApp.ChannelConfig); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// newMediaService builds the shared media.Service backing inbound image/voice
// download+archive for the WeCom-App and QQ transports, per §4.D. A disabled
// inboundMedia block leaves attachment handling off entirely: transports fall
// back to their raw media-id/media-url placeholders.
func newMediaService(cfg config.InboundMediaConfig) *media.Service {
	if !cfg.Enabled || cfg.Dir == "" {
		return nil
	}
	return media.NewService(filepath.Join(cfg.Dir, "tmp"), cfg.Dir)
}

// pruneMediaLoop runs §4.D's retention sweep on a daily cadence until ctx is
// cancelled.
func pruneMediaLoop(ctx context.Context, svc *media.Service, keepDays int) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.Prune(keepDays); err != nil {
				logger.WarnCF("gateway", "prune media", map[string]any{"error": err.Error()})
			}
		}
	}
}

// dispatchAndLog runs the dispatch coordinator for one inbound envelope and
// logs the agent's reply instead of sending it; a production Host supplies
// the real per-channel outbound.Sender as the deliver callback here.
func dispatchAndLog(coordinator *dispatch.Coordinator, channel string, env envelope.InboundEnvelope) {
	ctx := context.Background()
	err := coordinator.Dispatch(ctx, env, func(ctx context.Context, kind host.DeliverKind, content string) error {
		logger.InfoCF("gateway", "reply block", map[string]any{
			"channel": channel, "kind": string(kind), "peer": env.PeerID,
		})
		return nil
	})
	if err != nil {
		logger.ErrorCF("gateway", "dispatch failed", map[string]any{"channel": channel, "error": err.Error()})
	}
}

func registerWeComApp(pm *plugin.Manager, rt host.Runtime, registry *webhook.Registry, cfg config.WeComAppConfig, mediaSvc *media.Service) {
	if !cfg.Enabled || cfg.CorpID == "" {
		return
	}
	ra, creds, err := config.ResolveWeComApp(cfg, cfg.DefaultAccount)
	if err != nil {
		logger.ErrorCF("gateway", "resolve wecom-app account", map[string]any{"error": err.Error()})
		return
	}

	coordinator := dispatch.NewCoordinator(rt, "wecom-app", ra.Policy)

	transport, err := wecomapp.New(ra.AccountID, creds.CorpID, creds.CorpSecret, creds.AgentID, creds.Token, creds.EncodingAESKey, "/webhooks/wecom-app", func(ctx context.Context, env envelope.InboundEnvelope) {
		dispatchAndLog(coordinator, "wecom-app", env)
	}, mediaSvc)
	if err != nil {
		logger.ErrorCF("gateway", "construct wecom-app transport", map[string]any{"error": err.Error()})
		return
	}
	registry.Register(transport.Path(), transport.HandleWebhook)

	sender := outbound.NewSender(outbound.ChannelCapabilities{SupportsVoice: true, SupportsFileSend: true}, cfg.TextChunkLimit)
	sender.SendText = transport.SendText
	sender.SendMedia = transport.UploadAndSendMedia

	p := &plugin.Plugin{
		ID:        plugin.ID("wecom-app", ra.AccountID),
		Meta:      plugin.Meta{Name: "WeCom Self-built Application"},
		Config:    ra,
		Directory: plugin.Directory{Channel: "wecom-app"},
		Gateway:   passiveGateway{channel: "wecom-app", accountID: ra.AccountID, canSendActive: true, registry: registry, path: transport.Path()},
		Outbound:  sender,
	}
	if err := pm.Register(p); err != nil {
		logger.ErrorCF("gateway", "register wecom-app plugin", map[string]any{"error": err.Error()})
	}
}

func registerWeCom(pm *plugin.Manager, rt host.Runtime, registry *webhook.Registry, cfg config.WeComConfig) {
	if !cfg.Enabled || cfg.Token == "" {
		return
	}
	accountID := defaultAccount(cfg.DefaultAccount)
	coordinator := dispatch.NewCoordinator(rt, "wecom", cfg.Policy)
	transport, err := wecom.New(accountID, cfg.Token, cfg.EncodingAESKey, cfg.WebhookPath, func(ctx context.Context, env envelope.InboundEnvelope, stream *wecom.StreamTask) {
		dispatchAndLogWithStream(coordinator, env, stream)
	})
	if err != nil {
		logger.ErrorCF("gateway", "construct wecom transport", map[string]any{"error": err.Error()})
		return
	}
	registry.Register(transport.Path(), transport.HandleWebhook)
	registry.Register(transport.Path()+"/verify", transport.HandleVerification)

	// WeCom AI Robot has no active-send credential; replies only flow back
	// through the webhook's own response_url, handled directly by
	// dispatchAndLogWithStream above. There is no outbound.Sender to attach.
	p := &plugin.Plugin{
		ID:        plugin.ID("wecom", accountID),
		Meta:      plugin.Meta{Name: "WeCom AI Robot"},
		Directory: plugin.Directory{Channel: "wecom"},
		Gateway:   passiveGateway{channel: "wecom", accountID: accountID, canSendActive: false, registry: registry, path: transport.Path()},
	}
	if err := pm.Register(p); err != nil {
		logger.ErrorCF("gateway", "register wecom plugin", map[string]any{"error": err.Error()})
	}
}

// dispatchAndLogWithStream runs the same dispatch path as dispatchAndLog but
// also pushes the final reply block through the inbound request's
// response_url once the agent answer is ready, per §4.I's out-of-band
// streaming path for replies that outlive the 5s webhook budget.
func dispatchAndLogWithStream(coordinator *dispatch.Coordinator, env envelope.InboundEnvelope, stream *wecom.StreamTask) {
	ctx := context.Background()
	err := coordinator.Dispatch(ctx, env, func(ctx context.Context, kind host.DeliverKind, content string) error {
		if kind != host.DeliverFinal {
			return nil
		}
		defer stream.Finish()
		return stream.SendViaResponseURL(ctx, content)
	})
	if err != nil {
		logger.ErrorCF("gateway", "dispatch failed", map[string]any{"channel": "wecom", "error": err.Error()})
	}
}

func registerDingTalk(pm *plugin.Manager, rt host.Runtime, cfg config.DingTalkConfig) {
	if !cfg.Enabled || cfg.ClientID == "" {
		return
	}
	accountID := defaultAccount(cfg.DefaultAccount)
	coordinator := dispatch.NewCoordinator(rt, "dingtalk", cfg.Policy)
	var transport *dingtalk.Transport
	transport = dingtalk.New(accountID, cfg.ClientID, cfg.ClientSecret, cfg.GroupTrigger, func(ctx context.Context, env envelope.InboundEnvelope) {
		dispatchAndLogDingTalk(coordinator, transport, env)
	})

	// dispatchAndLogDingTalk already replies through the session webhook
	// captured from the inbound request; the Sender below exists so the
	// Plugin surface itself (not just this binary's own deliver callback)
	// carries a working out-of-band send path, per §4.I.
	sender := outbound.NewSender(outbound.ChannelCapabilities{}, cfg.TextChunkLimit)
	sender.SendText = transport.SendText

	p := &plugin.Plugin{
		ID:        plugin.ID("dingtalk", accountID),
		Meta:      plugin.Meta{Name: "DingTalk"},
		Directory: plugin.Directory{Channel: "dingtalk"},
		Gateway:   transport,
		Outbound:  sender,
	}
	if err := pm.Register(p); err != nil {
		logger.ErrorCF("gateway", "register dingtalk plugin", map[string]any{"error": err.Error()})
	}
}

func dispatchAndLogDingTalk(coordinator *dispatch.Coordinator, transport *dingtalk.Transport, env envelope.InboundEnvelope) {
	ctx := context.Background()
	err := coordinator.Dispatch(ctx, env, func(ctx context.Context, kind host.DeliverKind, content string) error {
		if kind != host.DeliverFinal {
			return nil
		}
		webhookURL, ok := transport.SessionWebhook(env.PeerID)
		if !ok {
			return nil
		}
		return dingtalk.SendDirectReply(ctx, webhookURL, "", content)
	})
	if err != nil {
		logger.ErrorCF("gateway", "dispatch failed", map[string]any{"channel": "dingtalk", "error": err.Error()})
	}
}

func registerFeishu(pm *plugin.Manager, rt host.Runtime, cfg config.FeishuConfig) {
	if !cfg.Enabled || cfg.AppID == "" {
		return
	}
	accountID := defaultAccount(cfg.DefaultAccount)
	coordinator := dispatch.NewCoordinator(rt, "feishu", cfg.Policy)
	transport := feishu.New(accountID, cfg.AppID, cfg.AppSecret, "", "", func(ctx context.Context, env envelope.InboundEnvelope) {
		dispatchAndLog(coordinator, "feishu", env)
	})

	sender := outbound.NewSender(outbound.ChannelCapabilities{SupportsFileSend: false}, cfg.TextChunkLimit)
	sender.SendText = transport.SendText
	sender.SendMedia = transport.SendMedia

	p := &plugin.Plugin{
		ID:        plugin.ID("feishu", accountID),
		Meta:      plugin.Meta{Name: "Feishu/Lark"},
		Directory: plugin.Directory{Channel: "feishu"},
		Gateway:   transport,
		Outbound:  sender,
	}
	if err := pm.Register(p); err != nil {
		logger.ErrorCF("gateway", "register feishu plugin", map[string]any{"error": err.Error()})
	}
}

func registerQQ(pm *plugin.Manager, rt host.Runtime, cfg config.QQConfig, mediaSvc *media.Service) {
	if !cfg.Enabled || cfg.AppID == "" {
		return
	}
	accountID := defaultAccount(cfg.DefaultAccount)
	coordinator := dispatch.NewCoordinator(rt, "qqbot", cfg.Policy)

	var transcriber normalize.Transcriber
	if cfg.ASR.Enabled {
		transcriber = asr.NewClient(cfg.ASR.AppID, cfg.ASR.SecretID, cfg.ASR.SecretKey)
	}

	transport := qqbot.New(accountID, cfg.AppID, cfg.ClientSecret, func(ctx context.Context, env envelope.InboundEnvelope) {
		dispatchAndLog(coordinator, "qqbot", env)
	}, mediaSvc, transcriber)

	sender := outbound.NewSender(outbound.ChannelCapabilities{SupportsVoice: true, SupportsFileSend: false}, cfg.TextChunkLimit)
	sender.Degrade = !cfg.MarkdownSupport
	sender.SendText = transport.SendText

	p := &plugin.Plugin{
		ID:        plugin.ID("qqbot", accountID),
		Meta:      plugin.Meta{Name: "QQ Open Platform"},
		Directory: plugin.Directory{Channel: "qqbot"},
		Gateway:   transport,
		Outbound:  sender,
	}
	if err := pm.Register(p); err != nil {
		logger.ErrorCF("gateway", "register qqbot plugin", map[string]any{"error": err.Error()})
	}
}

func defaultAccount(v string) string {
	if v == "" {
		return "default"
	}
	return v
}

// passiveGateway satisfies lifecycle.Account for webhook-driven channels
// (WeCom/WeCom-App) that have no long-lived connection to start: their
// "account" is always running once the webhook route is registered.
// StopAccount unregisters the route so a disabled account's webhook 404s
// on the next callback instead of continuing to dispatch, per §8 scenario 6.
type passiveGateway struct {
	channel, accountID string
	canSendActive      bool
	registry           *webhook.Registry
	path               string
}

func (g passiveGateway) Channel() string                        { return g.channel }
func (g passiveGateway) AccountID() string                      { return g.accountID }
func (g passiveGateway) StartAccount(ctx context.Context) error { return nil }
func (g passiveGateway) StopAccount(ctx context.Context) error {
	if g.registry != nil && g.path != "" {
		g.registry.Unregister(g.path)
	}
	return nil
}
func (g passiveGateway) IsRunning() bool     { return true }
func (g passiveGateway) Configured() bool    { return true }
func (g passiveGateway) CanSendActive() bool { return g.canSendActive }
