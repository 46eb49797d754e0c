package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/PolicyPal/internal/api"
	"github.com/BTreeMap/PolicyPal/internal/calendar"
	"github.com/BTreeMap/PolicyPal/internal/convstate"
	"github.com/BTreeMap/PolicyPal/internal/flow"
	"github.com/BTreeMap/PolicyPal/internal/genai"
	"github.com/BTreeMap/PolicyPal/internal/intent"
	"github.com/BTreeMap/PolicyPal/internal/mailer"
	"github.com/BTreeMap/PolicyPal/internal/messaging"
	"github.com/BTreeMap/PolicyPal/internal/models"
	"github.com/BTreeMap/PolicyPal/internal/rag"
	"github.com/BTreeMap/PolicyPal/internal/util"
	"github.com/BTreeMap/PolicyPal/internal/whatsapp"
)

const (
	// DefaultStateDir is the default directory for PolicyPal state data.
	DefaultStateDir = "/var/lib/policypal"
	// DefaultCorpusDBFileName is the default SQLite corpus database filename.
	DefaultCorpusDBFileName = "corpus.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow session database filename.
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultAPIAddr is the default HTTP listen address.
	DefaultAPIAddr = ":8080"
	// DefaultTimezone is the last-resort timezone for slot presentation.
	DefaultTimezone = "America/Toronto"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := os.MkdirAll(*flags.stateDir, 0o755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "dir", *flags.stateDir)
		os.Exit(1)
	}

	if err := run(flags); err != nil {
		slog.Error("PolicyPal failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("PolicyPal exited successfully")
}

// Config holds environment configuration.
type Config struct {
	StateDir    string
	CorpusDSN   string
	WhatsAppDSN string
	OpenAIKey   string
	APIAddr     string
	Transport   string
	MailboxID   string
	GraphToken  string
	GraphURL    string
	DefaultTZ   string
	ClientTZ    string
}

// Flags holds command line flag values.
type Flags struct {
	stateDir    *string
	corpusDSN   *string
	whatsappDSN *string
	openaiKey   *string
	apiAddr     *string
	transport   *string
	mailboxID   *string
	graphToken  *string
	graphURL    *string
	defaultTZ   *string
	clientTZ    *string
	qrOutput    *string
	numeric     *bool
}

func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("POLICYPAL_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		StateDir:    util.EnvOrDefault("POLICYPAL_STATE_DIR", DefaultStateDir),
		CorpusDSN:   os.Getenv("CORPUS_DB_DSN"),
		WhatsAppDSN: os.Getenv("WHATSAPP_DB_DSN"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		APIAddr:     util.EnvOrDefault("API_ADDR", DefaultAPIAddr),
		Transport:   util.EnvOrDefault("MESSAGING_TRANSPORT", "none"),
		MailboxID:   os.Getenv("GRAPH_MAILBOX_ID"),
		GraphToken:  os.Getenv("GRAPH_ACCESS_TOKEN"),
		GraphURL:    os.Getenv("GRAPH_BASE_URL"),
		DefaultTZ:   util.EnvOrDefault("DEFAULT_TIMEZONE", DefaultTimezone),
		ClientTZ:    os.Getenv("CLIENT_TIMEZONE"),
	}

	if config.CorpusDSN == "" {
		config.CorpusDSN = os.Getenv("DATABASE_URL")
	}
	if config.CorpusDSN == "" {
		config.CorpusDSN = filepath.Join(config.StateDir, DefaultCorpusDBFileName)
		slog.Debug("No corpus DSN provided, defaulting to SQLite", "path", config.CorpusDSN)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultWhatsAppDBFileName)
	}

	slog.Debug("environment configuration loaded",
		"state_dir", config.StateDir,
		"corpus_dsn_set", config.CorpusDSN != "",
		"openai_key_set", config.OpenAIKey != "",
		"transport", config.Transport,
		"mailbox_set", config.MailboxID != "",
		"api_addr", config.APIAddr)
	return config
}

func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:    flag.String("state-dir", config.StateDir, "Directory for PolicyPal state data"),
		corpusDSN:   flag.String("corpus-dsn", config.CorpusDSN, "Policy corpus database DSN (SQLite path or PostgreSQL URL)"),
		whatsappDSN: flag.String("whatsapp-dsn", config.WhatsAppDSN, "WhatsApp session database DSN"),
		openaiKey:   flag.String("openai-key", config.OpenAIKey, "OpenAI API key"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "HTTP API listen address"),
		transport:   flag.String("transport", config.Transport, "Messaging transport: whatsapp, twilio, or none"),
		mailboxID:   flag.String("mailbox", config.MailboxID, "Microsoft Graph mailbox for calendar and mail"),
		graphToken:  flag.String("graph-token", config.GraphToken, "Microsoft Graph access token"),
		graphURL:    flag.String("graph-url", config.GraphURL, "Microsoft Graph base URL override"),
		defaultTZ:   flag.String("default-tz", config.DefaultTZ, "Fallback timezone for slot presentation"),
		clientTZ:    flag.String("client-tz", config.ClientTZ, "Client-reported timezone override"),
		qrOutput:    flag.String("qr-output", "", "Path to write the WhatsApp login QR code"),
		numeric:     flag.Bool("numeric-code", false, "Use numeric WhatsApp pairing code instead of QR"),
	}
	flag.Parse()
	return flags
}

func run(flags Flags) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Conversation state with background eviction of stale entries.
	stateStore := convstate.NewMemoryStore(convstate.DefaultIdleTimeout)
	stateStore.StartSweeper(ctx, convstate.DefaultSweepInterval)

	genaiClient, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
	if err != nil {
		return err
	}

	retriever, corpusStore, err := buildRetriever(*flags.corpusDSN, genaiClient)
	if err != nil {
		return err
	}
	if corpusStore != nil {
		defer corpusStore.Close()
	}

	provider, sender := buildGraphCollaborators(flags)

	calendarCtrl := flow.NewCalendarController(stateStore, provider, *flags.mailboxID, *flags.defaultTZ)
	emailCtrl := flow.NewEmailController(stateStore, sender, *flags.mailboxID)

	engine := flow.NewEngine(flow.EngineConfig{
		Store:            stateStore,
		Retriever:        retriever,
		Generator:        genaiClient,
		CalendarDetector: buildDetector(models.FlowTypeCalendar, genaiClient),
		EmailDetector:    buildDetector(models.FlowTypeEmail, genaiClient),
		Calendar:         calendarCtrl,
		Email:            emailCtrl,
		ClientTimezone:   *flags.clientTZ,
	})

	msgService, twilioSvc, err := buildTransport(flags)
	if err != nil {
		return err
	}
	if msgService != nil {
		if err := msgService.Start(ctx); err != nil {
			return err
		}
		defer msgService.Stop()
		pump := messaging.NewPump(msgService, engine)
		go pump.Run(ctx)
	}

	var ingestor api.Ingestor
	if retriever != nil {
		ingestor = retriever
	}
	var webhook api.WebhookIngestor
	if twilioSvc != nil {
		webhook = twilioSvc
	}
	server := api.NewServer(*flags.apiAddr, engine, ingestor, webhook)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig)
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	cancel()
	return server.Shutdown(context.Background())
}

// buildRetriever selects the corpus store by DSN type and wires it to the
// embedding client.
func buildRetriever(dsn string, embedder rag.Embedder) (*rag.Retriever, rag.CorpusStore, error) {
	var store rag.CorpusStore
	var err error
	if util.DetectDSNType(dsn) == "postgres" {
		slog.Info("corpus store: PostgreSQL with pgvector")
		store, err = rag.NewPostgresStore(dsn)
	} else {
		slog.Info("corpus store: SQLite", "path", dsn)
		store, err = rag.NewSQLiteStore(dsn)
	}
	if err != nil {
		return nil, nil, err
	}
	return rag.NewRetriever(embedder, store, rag.DefaultTopK), store, nil
}

// buildDetector composes the lexical tier with the model-assisted tier.
func buildDetector(flowType models.FlowType, llm intent.ChatCompleter) intent.Detector {
	return intent.NewTieredDetector(flowType, intent.NewSemanticDetector(flowType, llm))
}

// buildGraphCollaborators constructs the calendar provider and mail sender
// against Microsoft Graph, sharing the configured token.
func buildGraphCollaborators(flags Flags) (calendar.Provider, mailer.Sender) {
	token := *flags.graphToken
	source := func(ctx context.Context) (string, error) { return token, nil }
	return calendar.NewGraphClient(*flags.graphURL, source),
		mailer.NewGraphSender(*flags.graphURL, source)
}

// buildTransport constructs the configured messaging transport. The Twilio
// service is returned separately so the API can wire its inbound webhook.
func buildTransport(flags Flags) (messaging.Service, *messaging.TwilioService, error) {
	switch *flags.transport {
	case "whatsapp":
		opts := []whatsapp.Option{whatsapp.WithDBDSN(*flags.whatsappDSN)}
		if *flags.qrOutput != "" {
			opts = append(opts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			opts = append(opts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(opts...)
		if err != nil {
			return nil, nil, err
		}
		return messaging.NewWhatsAppService(client), nil, nil
	case "twilio":
		client, err := messaging.NewTwilioClient()
		if err != nil {
			return nil, nil, err
		}
		svc := messaging.NewTwilioService(client)
		return svc, svc, nil
	case "none", "":
		slog.Info("no messaging transport configured, HTTP API only")
		return nil, nil, nil
	default:
		slog.Warn("unknown transport, running HTTP API only", "transport", *flags.transport)
		return nil, nil, nil
	}
}
