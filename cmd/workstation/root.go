// Package workstation wires the orchestrator core (state machine, effect
// runtime, event loop, protocol bridge) to its concrete adapters — the
// relay transport, the bubbletea TUI, the SQLite session index, and the
// filesystem artifact store — behind a cobra/viper CLI surface.
//
// Wiring follows the usual cobra/viper shape: a package-level viper
// instance, cobra.OnInitialize(initConfig), viper.SetDefault per field,
// and a runApp RunE that does validation before constructing anything
// expensive.
package workstation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	viperlib "github.com/spf13/viper"

	"github.com/jaxs-ribs/codewalk/internal/adapters"
	"github.com/jaxs-ribs/codewalk/internal/artifacts"
	"github.com/jaxs-ribs/codewalk/internal/bridge"
	"github.com/jaxs-ribs/codewalk/internal/config"
	"github.com/jaxs-ribs/codewalk/internal/confirmation"
	"github.com/jaxs-ribs/codewalk/internal/effects"
	"github.com/jaxs-ribs/codewalk/internal/event"
	"github.com/jaxs-ribs/codewalk/internal/loop"
	"github.com/jaxs-ribs/codewalk/internal/ports"
	"github.com/jaxs-ribs/codewalk/internal/relay"
	"github.com/jaxs-ribs/codewalk/internal/session"
	"github.com/jaxs-ribs/codewalk/internal/store/index"
	"github.com/jaxs-ribs/codewalk/internal/tracing"
	"github.com/jaxs-ribs/codewalk/internal/tui"
	"github.com/jaxs-ribs/codewalk/internal/wslog"
)

// Exit codes: 0 clean shutdown, 1 fatal init error, 2 unrecoverable loop
// error.
const (
	ExitClean     = 0
	ExitInitError = 1
	ExitLoopError = 2
)

// ShutdownGrace bounds how long runApp waits for in-flight effects to settle
// after ctx is cancelled before giving up with loop.ErrShutdownTimeout.
const ShutdownGrace = 10 * time.Second

var (
	version   = "dev"
	cfgFile   string
	resumeID  string
	noTUI     bool
	debugFlag bool
	cfg       config.Config

	viper = viperlib.New()
)

var rootCmd = &cobra.Command{
	Use:     "workstation",
	Short:   "Voice-driven AI coding workstation orchestrator",
	Long:    "Routes voice and text input to coding executors (claude, amp, codex), confirms launches, and relays status back to connected peers.",
	Version: version,
	RunE:    runApp,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&resumeID, "resume", "", "resume a prior session by ID")
	rootCmd.PersistentFlags().BoolVar(&noTUI, "no-tui", false, "run headless (relay-only, no bubbletea UI)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "enable debug logging (also: WORKSTATION_DEBUG=1)")

	_ = viper.BindPFlag("relay.session_id", rootCmd.PersistentFlags().Lookup("resume"))
	_ = viper.BindEnv("relay.url", "RELAY_WS_URL")
	_ = viper.BindEnv("relay.session_id", "RELAY_SESSION_ID")
	_ = viper.BindEnv("relay.auth_token", "RELAY_AUTH_TOKEN")
	_ = viper.BindEnv("relay.heartbeat_interval", "RELAY_HEARTBEAT_SECS")
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("relay.heartbeat_interval", defaults.Relay.HeartbeatInterval)
	viper.SetDefault("confirmation.tokens_file", defaults.Confirmation.TokensFile)
	viper.SetDefault("session.log_ring_size", defaults.Session.LogRingSize)
	viper.SetDefault("session.max_history", defaults.Session.MaxHistory)
	viper.SetDefault("artifacts.min_score", defaults.Artifacts.MinScore)
	viper.SetDefault("artifacts.keyword_weight", defaults.Artifacts.KeywordWeight)
	viper.SetDefault("artifacts.topic_weight", defaults.Artifacts.TopicWeight)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if _, err := os.Stat(".workstation/config.yaml"); err == nil {
		viper.SetConfigFile(".workstation/config.yaml")
	} else {
		home, _ := os.UserHomeDir()
		viper.AddConfigPath(filepath.Join(home, ".config", "workstation"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viperlib.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			defaultPath := ".workstation/config.yaml"
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
		}
	} else {
		wslog.Info(wslog.CatConfig, "config loaded", "path", viper.ConfigFileUsed())
	}

	_ = viper.Unmarshal(&cfg)
}

func runApp(cmd *cobra.Command, args []string) error {
	debug := os.Getenv("WORKSTATION_DEBUG") != "" || debugFlag
	if debug {
		logPath := os.Getenv("WORKSTATION_LOG")
		if logPath == "" {
			logPath = "debug.log"
		}
		cleanup, err := wslog.InitWithTeaLog(logPath, "workstation")
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		defer cleanup()
		wslog.Info(wslog.CatConfig, "workstation starting", "version", version, "debug", true)
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if resumeID != "" {
		if !session.ValidID(resumeID) {
			wslog.Warn(wslog.CatConfig, "ignoring --resume: session id has the wrong shape", "id", resumeID)
			// --resume is bound to relay.session_id, so viper has already
			// copied the malformed id into cfg.
			if cfg.Relay.SessionID == resumeID {
				cfg.Relay.SessionID = ""
			}
		} else {
			cfg.Relay.SessionID = resumeID
		}
	}

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	artifactsRoot := cfg.Artifacts.Root
	if artifactsRoot == "" {
		if env := os.Getenv("WORKSTATION_ARTIFACTS_PATH"); env != "" {
			artifactsRoot = env
		} else {
			home, _ := os.UserHomeDir()
			artifactsRoot = filepath.Join(home, ".workstation")
		}
	}

	if err := os.MkdirAll(artifactsRoot, 0o750); err != nil {
		return fmt.Errorf("creating artifacts root %s: %w", artifactsRoot, err)
	}

	fileStore := artifacts.NewFileStore(artifactsRoot, cfg.ArtifactsMode())
	registry := artifacts.NewRegistry(artifactsRoot, cfg.MatchConfig())
	if err := registry.Load(); err != nil {
		wslog.Warn(wslog.CatArtifacts, "registry load failed, starting empty", "error", err.Error())
	}

	db, err := index.Open(filepath.Join(artifactsRoot, "index.db"))
	if err != nil {
		return fmt.Errorf("opening session index: %w", err)
	}
	defer db.Close()
	sessionStore := &archivingStore{index: index.NewRepository(db), files: fileStore, registry: registry}

	sessions := session.NewContext()
	classifier := confirmation.NewClassifier(cfg.ConfirmationTokens())

	r := relay.New(relay.Config{
		URL:               cfg.Relay.URL,
		SessionID:         cfg.Relay.SessionID,
		AuthToken:         cfg.Relay.AuthToken,
		HeartbeatInterval: cfg.Relay.HeartbeatInterval,
	})

	var outbound ports.OutboundPort = r
	var tuiCh chan event.OutboundMessage
	if !noTUI {
		tuiCh = make(chan event.OutboundMessage, 64)
		outbound = &teeOutbound{primary: r, tui: tuiCh}
	}

	l := loop.New(classifier, sessions, nil, outbound, provider.Tracer())
	runtime := effects.New(adapters.UnconfiguredRouter{}, adapters.UnconfiguredExecutor{}, adapters.UnconfiguredSummarizer{}, outbound, sessionStore, l.EventsChan())
	l.SetRuntime(runtime)

	br := bridge.New(adapters.UnconfiguredSpeechToText{}, sessions)

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			wslog.Warn(wslog.CatRelay, "relay run exited", "error", err.Error())
		}
	}()

	go pumpInbound(ctx, r, br, l)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		l.Run(ctx)
	}()

	var runErr error
	if noTUI {
		<-ctx.Done()
	} else {
		runErr = runTUI(ctx, tuiCh)
	}

	cancel()
	<-loopDone
	<-relayDone

	select {
	case <-waitRuntime(runtime):
	case <-time.After(ShutdownGrace):
		wslog.Warn(wslog.CatLoop, "effect runtime did not settle before shutdown deadline")
		if runErr == nil {
			runErr = loop.ErrShutdownTimeout
		}
	}

	return runErr
}

// waitRuntime adapts Runtime.Wait's blocking call into a channel so callers
// can select it against a shutdown deadline.
func waitRuntime(runtime *effects.Runtime) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		runtime.Wait()
		close(done)
	}()
	return done
}

// teeOutbound fans every outbound message out to the relay (the wire of
// record) and, best-effort, to the local TUI's render channel. A full or
// absent TUI channel never blocks or fails delivery to the relay.
type teeOutbound struct {
	primary ports.OutboundPort
	tui     chan<- event.OutboundMessage
}

func (t *teeOutbound) Send(ctx context.Context, msg event.OutboundMessage) error {
	err := t.primary.Send(ctx, msg)
	select {
	case t.tui <- msg:
	default:
	}
	return err
}

// pumpInbound drains the relay's inbound frame channel through the
// Protocol Bridge, submitting translated events to the loop and replying
// to side-channel requests (stt_request, get_logs) directly over the
// relay.
func pumpInbound(ctx context.Context, r *relay.Relay, br *bridge.Bridge, l *loop.Loop) {
	var lastProtocolWarn time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-r.Inbound():
			if !ok {
				return
			}
			in, err := br.HandleInbound(ctx, raw)
			if err != nil {
				wslog.Warn(wslog.CatBridge, "dropping malformed frame", "error", err.Error())
				// Malformed frames surface at most one warn status per
				// second.
				if time.Since(lastProtocolWarn) >= time.Second {
					lastProtocolWarn = time.Now()
					_ = r.Send(ctx, event.OutboundMessage{Level: "warn", Text: "Received a malformed message", Kind: "status"})
				}
				continue
			}
			if in.Event != nil {
				l.Submit(in.Event)
			}
			if in.Reply != nil {
				if err := r.SendRaw(ctx, in.Reply); err != nil {
					wslog.Warn(wslog.CatRelay, "failed to send reply frame", "error", err.Error())
				}
			}
		}
	}
}

func runTUI(ctx context.Context, ch <-chan event.OutboundMessage) error {
	m := tui.New(ctx, ch, wslog.Tail(ctx))
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running tui: %w", err)
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
