package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/Abraxas-365/convo/dialog/convmanager"
	"github.com/Abraxas-365/convo/dialog/dialogapi"
	"github.com/Abraxas-365/convo/dialog/dialogexec"
	"github.com/Abraxas-365/convo/dialog/dialoginfra"
	"github.com/Abraxas-365/convo/dialog/flowstore"
	"github.com/Abraxas-365/convo/dialog/hookmanager"
	"github.com/Abraxas-365/convo/dialog/instrexec"
	"github.com/Abraxas-365/convo/dialog/promptexec"
	"github.com/Abraxas-365/convo/dialog/timeoutsched"
	"github.com/Abraxas-365/convo/pkg/config"
	"github.com/Abraxas-365/convo/pkg/database"
	"github.com/Abraxas-365/convo/pkg/kernel"
	"github.com/Abraxas-365/convo/pkg/objectstore"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
)

// Container contains all application dependencies
type Container struct {
	// =================================================================
	// CONFIGURATION & INFRASTRUCTURE
	// =================================================================
	Config      *config.Config
	DB          *sqlx.DB
	RedisClient *redis.Client

	// =================================================================
	// FLOWS 📚
	// =================================================================
	FlowSource dialog.FlowSource
	FlowRepo   *flowstore.Repository

	// =================================================================
	// DIALOG ENGINE ⚙️
	// =================================================================
	Instructions *instrexec.Processor
	Prompts      *promptexec.Processor
	Hooks        *hookmanager.Manager
	Engine       *dialogexec.Engine

	// =================================================================
	// CONVERSATIONS 💬
	// =================================================================
	StateRepo     dialog.StateRepository
	Locker        dialog.Locker
	Conversations *convmanager.Manager
	Scheduler     *timeoutsched.Scheduler

	// =================================================================
	// HANDLERS
	// =================================================================
	DialogRoutes *dialogapi.DialogRoutes
}

// NewContainer creates a new dependency container. db may be nil when no
// component is configured to use Postgres.
func NewContainer(cfg *config.Config, db *sqlx.DB, redisClient *redis.Client) (*Container, error) {
	c := &Container{
		Config:      cfg,
		DB:          db,
		RedisClient: redisClient,
	}

	log.Println("📦 Initializing dependency container...")

	if err := c.initSchema(); err != nil {
		return nil, err
	}
	if err := c.initFlowComponents(); err != nil {
		return nil, err
	}
	c.initEngineComponents()
	if err := c.initConversationComponents(); err != nil {
		return nil, err
	}
	c.initHandlers()

	log.Println("✅ Dependency container initialized successfully")
	return c, nil
}

func (c *Container) initSchema() error {
	if c.DB == nil {
		return nil
	}
	log.Println("  🗄️  Ensuring dialog schema...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return database.EnsureSchema(ctx, c.DB, dialoginfra.StateSchema, dialoginfra.FlowSchema)
}

// =================================================================
// FLOWS INITIALIZATION 📚
// =================================================================

func (c *Container) initFlowComponents() error {
	switch c.Config.FlowSource.Kind {
	case config.FlowSourceFile:
		log.Printf("  📁 Flow source: files under %s", c.Config.FlowSource.Root)
		c.FlowSource = dialoginfra.NewFileFlowSource(c.Config.FlowSource.Root)
	case config.FlowSourcePostgres:
		log.Println("  🐘 Flow source: postgres")
		c.FlowSource = dialoginfra.NewPostgresFlowSource(c.DB)
	case config.FlowSourceS3:
		log.Printf("  🪣 Flow source: s3://%s/%s", c.Config.S3.Bucket, c.Config.S3.Prefix)
		c.FlowSource = dialoginfra.NewS3FlowSource(objectstore.NewS3Client(c.Config.S3), c.Config.S3.Bucket, c.Config.S3.Prefix)
	default:
		return fmt.Errorf("unknown flow source %q", c.Config.FlowSource.Kind)
	}
	return nil
}

// =================================================================
// ENGINE INITIALIZATION ⚙️
// =================================================================

func (c *Container) initEngineComponents() {
	log.Println("  ⚙️  Initializing dialog engine...")

	c.Instructions = instrexec.NewProcessor()
	c.Prompts = promptexec.NewProcessor(promptexec.Config{})

	c.FlowRepo = flowstore.NewRepository(c.FlowSource, flowstore.WithKnown(flowstore.Known{
		Action:     c.Instructions.Has,
		PromptType: c.Prompts.Has,
	}))

	c.Hooks = hookmanager.NewManager()
	c.Hooks.Register(dialog.HookBeforeSessionTimeout, func(_ context.Context, p dialog.HookPayload) error {
		log.Printf("⏳ Session timeout for %s:%s at %s/%s", p.BotID, p.ConversationID,
			p.State.Context.CurrentFlow, p.State.Context.CurrentNode)
		return nil
	})

	dc := c.Config.Dialog
	c.Engine = dialogexec.New(
		c.FlowRepo,
		c.Instructions,
		c.Prompts,
		dialogexec.Config{
			DefaultFlow:         dc.DefaultFlow,
			NDUFallbackFlow:     dc.NDUFallbackFlow,
			NDUEnabled:          dc.NDUEnabled,
			NDUBots:             nduBots(dc.NDUBots),
			ErrorFlow:           dc.ErrorFlow,
			TimeoutFlow:         dc.TimeoutFlow,
			ReusableNamespaces:  dc.ReusableNamespaces,
			PromptHistoryWindow: dc.PromptHistoryWindow,
		},
		dialogexec.WithHooks(c.Hooks),
	)

	log.Printf("  ✅ Actions registered: %v", c.Instructions.Actions())
}

// =================================================================
// CONVERSATIONS INITIALIZATION 💬
// =================================================================

func (c *Container) initConversationComponents() error {
	dc := c.Config.Dialog

	switch dc.StateBackend {
	case config.StateBackendRedis:
		log.Println("  🔴 State backend: redis")
		c.StateRepo = dialoginfra.NewRedisStateRepository(c.RedisClient, dc.StateKeyPrefix)
	default:
		log.Println("  🐘 State backend: postgres")
		c.StateRepo = dialoginfra.NewPostgresStateRepository(c.DB)
	}
	c.Locker = dialoginfra.NewRedisLocker(c.RedisClient, dc.StateKeyPrefix, dc.LockTTL)

	c.Conversations = convmanager.NewManager(c.Engine, c.FlowRepo, c.StateRepo, c.Locker, &convmanager.Config{
		SessionTimeout:    dc.SessionTimeout,
		RecentEventsLimit: dc.RecentEventsLimit,
	})

	if c.Config.Scheduler.Enabled {
		scheduler, err := timeoutsched.NewScheduler(c.StateRepo, c.Conversations, timeoutsched.Config{
			Spec:      c.Config.Scheduler.Spec,
			BatchSize: c.Config.Scheduler.BatchSize,
		})
		if err != nil {
			return err
		}
		c.Scheduler = scheduler
	}
	return nil
}

func (c *Container) initHandlers() {
	var counter dialogapi.ActiveCounter
	if pg, ok := c.StateRepo.(*dialoginfra.PostgresStateRepository); ok {
		counter = pg
	}
	c.DialogRoutes = dialogapi.NewDialogRoutes(dialogapi.NewDialogHandler(c.Conversations, c.FlowRepo, counter))
}

// =================================================================
// UTILITY METHODS
// =================================================================

func (c *Container) Cleanup() {
	log.Println("🧹 Cleaning up container resources...")

	if c.Scheduler != nil {
		log.Println("  ⏰ Stopping timeout scheduler...")
		c.Scheduler.Stop()
	}

	log.Println("  🗄️  Closing database connections...")
	if err := database.CloseDB(c.DB); err != nil {
		log.Printf("⚠️  Failed to close database: %v", err)
	}

	log.Println("  🔴 Closing Redis connections...")
	if err := database.CloseRedis(c.RedisClient); err != nil {
		log.Printf("⚠️  Failed to close redis: %v", err)
	}

	log.Println("✅ Container cleanup complete")
}

func (c *Container) HealthCheck() map[string]bool {
	health := make(map[string]bool)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if c.DB != nil {
		health["database"] = c.DB.PingContext(ctx) == nil
	}
	health["redis"] = c.RedisClient != nil && database.PingRedis(ctx, c.RedisClient) == nil

	health["flow_repository"] = c.FlowRepo != nil
	health["engine"] = c.Engine != nil
	health["scheduler"] = c.Scheduler != nil || !c.Config.Scheduler.Enabled

	return health
}

func (c *Container) GetServiceNames() []string {
	names := []string{"flow_repository", "dialog_engine", "conversation_manager", "hook_manager"}
	if c.Scheduler != nil {
		names = append(names, "timeout_scheduler")
	}
	sort.Strings(names)
	return names
}

func nduBots(ids []string) []kernel.BotID {
	bots := make([]kernel.BotID, 0, len(ids))
	for _, id := range ids {
		bots = append(bots, kernel.NewBotID(id))
	}
	return bots
}

// CachedBots lists bots with compiled flows in memory.
func (c *Container) CachedBots() []string {
	bots := c.FlowRepo.Cached()
	out := make([]string, len(bots))
	for i, b := range bots {
		out[i] = b.String()
	}
	sort.Strings(out)
	return out
}
