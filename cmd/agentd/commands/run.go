package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/agentd-ai/agentd/internal/capability"
	"github.com/agentd-ai/agentd/internal/config"
	"github.com/agentd-ai/agentd/internal/event"
	"github.com/agentd-ai/agentd/internal/logging"
	"github.com/agentd-ai/agentd/internal/provider"
	"github.com/agentd-ai/agentd/internal/session"
	"github.com/agentd-ai/agentd/internal/supervisor"
	"github.com/agentd-ai/agentd/internal/toolloop"
	"github.com/agentd-ai/agentd/internal/watcher"
)

var (
	runDoc     string
	runChannel string
	runModel   string
	runDir     string
)

const documentInstructions = "You are a long running agent that assists with collaborative documents. " +
	"Assist the user with document related tasks. " +
	"Additionally, you may be notified of doc changes and comments. " +
	"For doc changes, first pull the latest version of the document and read it. Then you can proceed to " +
	"edit it if it makes sense. " +
	"For comments, pull the latest comments and either reply to the comment or update the doc, or both, " +
	"based on the comment. " +
	"To edit the document, respond with fenced blocks: a block labeled with a section id updates that " +
	"section, an unlabeled block replaces the whole document."

const channelInstructions = "You are a long running agent attached to a chat channel. " +
	"Answer messages addressed to you concisely and use your tools when they help."

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the configured agent sessions",
	Long: `Start one session per configured agent and run until the operator
exits or the process is signalled.

Examples:
  agentd run
  agentd run --doc 1A4ZGfs-h2N145Blhmrj7vUFet5gNYTHno
  agentd run --channel C0123456789 --model openai/gpt-4o`,
	RunE: runSessions,
}

func init() {
	runCmd.Flags().StringVar(&runDoc, "doc", "", "Attach to a document id (in addition to configured agents)")
	runCmd.Flags().StringVar(&runChannel, "channel", "", "Attach to a channel id (in addition to configured agents)")
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model to use (provider/model format)")
	runCmd.Flags().StringVar(&runDir, "directory", "", "Working directory")
}

func runSessions(cmd *cobra.Command, args []string) error {
	// .env is optional; envs already set win.
	_ = godotenv.Load()

	workDir := runDir
	if workDir == "" {
		var err error
		if workDir, err = os.Getwd(); err != nil {
			return err
		}
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if runModel != "" {
		cfg.Model = runModel
	}
	if runDoc != "" && cfg.Agents.Documents[runDoc] == (config.AgentConfig{}) {
		cfg.SetConversationID(runDoc, "", "")
	}
	if runChannel != "" && cfg.Agents.Channels[runChannel] == (config.AgentConfig{}) {
		cfg.SetConversationID("", runChannel, "")
	}
	if len(cfg.Agents.Documents) == 0 && len(cfg.Agents.Channels) == 0 {
		return fmt.Errorf("no agents configured; add one to agentd.json or pass --doc/--channel")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := capability.NewClient()
	defer client.Close()
	for name, serverCfg := range cfg.MCP {
		serverCfg := serverCfg
		if err := client.AddServer(ctx, name, &serverCfg); err != nil {
			logging.Warn().Err(err).Str("server", name).Msg("MCP server unavailable")
		}
	}
	registry := capability.NewRegistry(client)

	svc, err := newCompletionService(ctx, cfg)
	if err != nil {
		return err
	}
	loop := toolloop.Wrap(svc, registry, cfg.Limits.MaxToolLoops)
	check := supervisor.New(svc)

	watchCfg := watcher.Config{
		PollInterval:   time.Duration(cfg.Watcher.PollIntervalSeconds) * time.Second,
		DebounceWindow: time.Duration(cfg.Watcher.DebounceSeconds) * time.Second,
		HistoryLimit:   cfg.Watcher.HistoryLimit,
	}

	r := &runner{
		cfg:      cfg,
		registry: registry,
		svc:      loop,
		check:    check,
		watchCfg: watchCfg,
	}

	// The first session gets the terminal; the rest only react to
	// watcher events.
	operator := io.Reader(os.Stdin)
	for docID, agent := range cfg.Agents.Documents {
		r.startDocument(ctx, docID, agent, operator)
		operator = nil
	}
	for channelID, agent := range cfg.Agents.Channels {
		r.startChannel(ctx, channelID, agent, operator)
		operator = nil
	}

	r.wg.Wait()
	return nil
}

// runner carries the shared collaborators for every session started by
// one run invocation.
type runner struct {
	cfg      *config.Config
	registry *capability.Registry
	svc      *toolloop.Service
	check    *supervisor.Supervisor
	watchCfg watcher.Config

	// cfgMu guards cfg mutation and persistence; sessions spawn new
	// sessions from their own goroutines.
	cfgMu sync.Mutex
	wg    sync.WaitGroup
}

func (r *runner) startDocument(ctx context.Context, docID string, agent config.AgentConfig, operator io.Reader) {
	docs := capability.NewDocumentStore(r.registry)
	comments := capability.NewCommentStore(r.registry)
	bus := event.NewBus()

	instructions := agent.Instructions
	if instructions == "" {
		if instructions = r.cfg.Instructions; instructions == "" {
			instructions = documentInstructions
		}
	}

	ctrl := session.NewController(r.svc, docs, comments, nil, r.check, bus, session.Options{
		ConversationID: agent.ConversationID,
		DocumentID:     docID,
		Instructions:   instructions,
		Tools:          r.svc.ToolInfos(),
		MaxIterations:  r.cfg.Limits.MaxIterations,
		MaxChunkSize:   r.cfg.Section.MaxChunkSize,
		Input:          orSilent(operator),
		OnNewDocument: func(newDocID string) {
			if newDocID == docID || !r.registerDocument(newDocID) {
				return
			}
			r.startDocument(ctx, newDocID, config.AgentConfig{}, nil)
		},
	})
	r.persistConversationID(docID, "", agent.ConversationID, ctrl.ConversationID())

	// The controller exiting (operator 'exit') stops this session's
	// watchers too.
	sctx, cancel := context.WithCancel(ctx)

	r.wg.Add(3)
	go func() {
		defer r.wg.Done()
		watcher.NewDocumentWatcher(docs, bus, docID, r.watchCfg).Run(sctx)
	}()
	go func() {
		defer r.wg.Done()
		watcher.NewCommentWatcher(comments, bus, docID, r.watchCfg).Run(sctx)
	}()
	go func() {
		defer r.wg.Done()
		defer cancel()
		defer bus.Close()
		if err := ctrl.Run(sctx); err != nil {
			logging.Error().Err(err).Str("doc", docID).Msg("session ended with error")
		}
	}()
}

func (r *runner) startChannel(ctx context.Context, channelID string, agent config.AgentConfig, operator io.Reader) {
	channel := capability.NewChannel(r.registry)
	bus := event.NewBus()

	instructions := agent.Instructions
	if instructions == "" {
		if instructions = r.cfg.Instructions; instructions == "" {
			instructions = channelInstructions
		}
	}

	ctrl := session.NewController(r.svc, nil, nil, channel, r.check, bus, session.Options{
		ConversationID: agent.ConversationID,
		ChannelID:      channelID,
		Instructions:   instructions,
		Tools:          r.svc.ToolInfos(),
		MaxIterations:  r.cfg.Limits.MaxIterations,
		Input:          orSilent(operator),
	})
	r.persistConversationID("", channelID, agent.ConversationID, ctrl.ConversationID())

	sctx, cancel := context.WithCancel(ctx)

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		watcher.NewChannelWatcher(channel, bus, channelID, r.watchCfg).Run(sctx)
	}()
	go func() {
		defer r.wg.Done()
		defer cancel()
		defer bus.Close()
		if err := ctrl.Run(sctx); err != nil {
			logging.Error().Err(err).Str("channel", channelID).Msg("session ended with error")
		}
	}()
}

// registerDocument records a newly created document agent. A false
// return means a session for it already exists.
func (r *runner) registerDocument(docID string) bool {
	r.cfgMu.Lock()
	defer r.cfgMu.Unlock()
	if _, ok := r.cfg.Agents.Documents[docID]; ok {
		return false
	}
	r.cfg.SetConversationID(docID, "", "")
	return true
}

// persistConversationID saves a freshly minted conversation id so the
// next run resumes the same conversation.
func (r *runner) persistConversationID(docID, channelID, previous, current string) {
	if previous == current {
		return
	}
	r.cfgMu.Lock()
	defer r.cfgMu.Unlock()
	r.cfg.SetConversationID(docID, channelID, current)
	if err := config.Save(r.cfg, config.GlobalConfigPath()); err != nil {
		logging.Warn().Err(err).Msg("persisting conversation id")
	}
}

// orSilent substitutes a never-ready reader so secondary sessions do
// not compete for the terminal.
func orSilent(r io.Reader) io.Reader {
	if r != nil {
		return r
	}
	pr, _ := io.Pipe()
	return pr
}

// newCompletionService builds the completion backend from the
// configured model, given as "provider/model".
func newCompletionService(ctx context.Context, cfg *config.Config) (provider.Service, error) {
	providerName := "anthropic"
	modelID := ""
	if cfg.Model != "" {
		if name, rest, ok := strings.Cut(cfg.Model, "/"); ok {
			providerName, modelID = name, rest
		} else {
			modelID = cfg.Model
		}
	} else if cfg.Provider["anthropic"].APIKey == "" && cfg.Provider["openai"].APIKey != "" {
		providerName = "openai"
	}

	switch providerName {
	case "anthropic":
		p := cfg.Provider["anthropic"]
		if p.Model != "" && modelID == "" {
			modelID = p.Model
		}
		return provider.NewAnthropic(ctx, &provider.AnthropicConfig{
			APIKey:  p.APIKey,
			BaseURL: p.BaseURL,
			Model:   modelID,
		})
	case "openai":
		p := cfg.Provider["openai"]
		if p.Model != "" && modelID == "" {
			modelID = p.Model
		}
		return provider.NewOpenAI(ctx, &provider.OpenAIConfig{
			APIKey:  p.APIKey,
			BaseURL: p.BaseURL,
			Model:   modelID,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q in model %q", providerName, cfg.Model)
	}
}
