// Command orchestrator wires together the Strategic Planner, the Dynamic
// Test Tree, the Execution Engine, and the Restraint/Approval subsystem
// behind a small HTTP surface implementing spec.md §6's external
// interfaces (Submit, Status, Cancel, Approval).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/cartpry/pentestorch/audit"
	"github.com/cartpry/pentestorch/catalog"
	"github.com/cartpry/pentestorch/config"
	"github.com/cartpry/pentestorch/discovery"
	"github.com/cartpry/pentestorch/eventbus"
	"github.com/cartpry/pentestorch/execution"
	"github.com/cartpry/pentestorch/features/model/middleware"
	clientspulse "github.com/cartpry/pentestorch/features/stream/pulse/clients/pulse"
	"github.com/cartpry/pentestorch/orchestrator"
	"github.com/cartpry/pentestorch/planner"
	"github.com/cartpry/pentestorch/restraint"
	"github.com/cartpry/pentestorch/telemetry"
	"github.com/cartpry/pentestorch/workflow"
)

// eventStreamName is the single Pulse stream every orchestrator process
// mirrors its event bus onto when Redis is configured.
const eventStreamName = "pentestorch-events"

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	flag.Parse()

	logger := telemetry.NewClueLogger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error(ctx, "load config", "error", err)
		os.Exit(1)
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		logger.Error(ctx, "load catalogue", "error", err)
		os.Exit(1)
	}

	decisions, err := buildAuditStore(ctx, cfg)
	if err != nil {
		logger.Error(ctx, "build audit store", "error", err)
		os.Exit(1)
	}

	bus := eventbus.NewBus()
	if _, err := bus.Register(audit.NewSubscriber(decisions)); err != nil {
		logger.Error(ctx, "register audit subscriber", "error", err)
		os.Exit(1)
	}
	if err := registerPulseMirror(ctx, bus, cfg.RedisAddr); err != nil {
		logger.Error(ctx, "register pulse mirror", "error", err)
		os.Exit(1)
	}

	provider, err := buildPlannerChain(ctx, cfg.Planner, logger)
	if err != nil {
		logger.Error(ctx, "build planner provider chain", "error", err)
		os.Exit(1)
	}
	plan := planner.New(provider, cat, cfg.WordlistRoot, decisions)

	rules := restraint.NewEngine()
	approvalTimeouts := approvalTimeoutsFromConfig(cfg.ApprovalTimeouts)
	approvals := restraint.NewSubsystem(restraint.WithBus(bus))

	engine := execution.New(cat, rules, execution.NewDockerRuntime(), cfg.WordlistRoot, cfg.Concurrency)
	driver := discovery.NewDriver(nil)

	orch := orchestrator.New(driver, plan, engine, approvals, rules, bus, decisions, cat, cfg.Concurrency, approvalTimeouts)

	server := &http.Server{Addr: *addr, Handler: newAPI(orch)}
	go func() {
		logger.Info(ctx, "listening", "addr", *addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "serve", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

// registerPulseMirror wires the Event Bus's PulseMirror subscriber onto a
// Redis-backed Pulse stream, so an out-of-process dashboard can subscribe to
// the orchestrator's event vocabulary durably (spec.md §6 "Event stream").
// A blank addr leaves the bus Redis-free.
func registerPulseMirror(ctx context.Context, bus eventbus.Bus, addr string) error {
	if addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	client, err := clientspulse.New(clientspulse.Options{Redis: rdb})
	if err != nil {
		return err
	}
	stream, err := client.Stream(eventStreamName)
	if err != nil {
		return err
	}
	_, err = bus.Register(eventbus.NewPulseMirror(pulseStreamAdapter{stream: stream}))
	return err
}

// pulseStreamAdapter adapts clientspulse.Stream to eventbus.PulseStream: the
// two NewSink methods return different sink types (clientspulse.Sink versus
// eventbus.PulseSink), so a thin forwarding wrapper is required for the
// assignment to type-check.
type pulseStreamAdapter struct {
	stream clientspulse.Stream
}

func (a pulseStreamAdapter) Add(ctx context.Context, event string, payload []byte) (string, error) {
	return a.stream.Add(ctx, event, payload)
}

func (a pulseStreamAdapter) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (eventbus.PulseSink, error) {
	return a.stream.NewSink(ctx, name, opts...)
}

func buildAuditStore(ctx context.Context, cfg config.Config) (audit.Store, error) {
	if cfg.MongoURI == "" {
		return audit.NewFileStore(cfg.AuditDir)
	}
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, err
	}
	return audit.NewMongoStore(ctx, audit.MongoOptions{Client: client, Database: "pentestorch"})
}

// buildPlannerChain assembles the primary/backup provider chain behind a
// single shared rate limiter, so a 429 from either provider throttles the
// process's overall LLM call rate rather than just that provider's share
// (spec.md §4.3 "rate limit all requests").
func buildPlannerChain(ctx context.Context, cfg config.PlannerConfig, logger telemetry.Logger) (planner.Provider, error) {
	names := []string{cfg.Primary}
	if cfg.Backup != "" {
		names = append(names, cfg.Backup)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limiter := middleware.NewAdaptiveRateLimiter(ctx, nil, "", cfg.RateLimitTPM, cfg.RateLimitMaxTPM)

	var providers []planner.Provider
	for _, name := range names {
		p, err := buildProvider(ctx, name, cfg, limiter, logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, planner.TimeoutProvider{Provider: p, Timeout: timeout})
	}
	return planner.Chain{Providers: providers}, nil
}

func buildProvider(ctx context.Context, name string, cfg config.PlannerConfig, limiter *middleware.AdaptiveRateLimiter, logger telemetry.Logger) (planner.Provider, error) {
	switch name {
	case "anthropic":
		return planner.NewAnthropicProvider(os.Getenv("ANTHROPIC_API_KEY"), cfg.AnthropicModel, limiter, logger)
	case "openai":
		return planner.NewOpenAIProvider(os.Getenv("OPENAI_API_KEY"), cfg.OpenAIModel, limiter, logger)
	case "bedrock":
		return planner.NewBedrockProvider(ctx, cfg.BedrockModel, limiter, logger)
	default:
		return planner.NewAnthropicProvider(os.Getenv("ANTHROPIC_API_KEY"), cfg.AnthropicModel, limiter, logger)
	}
}

func approvalTimeoutsFromConfig(m map[string]time.Duration) map[restraint.ApprovalType]time.Duration {
	out := make(map[restraint.ApprovalType]time.Duration, len(m))
	for k, v := range m {
		out[restraint.ApprovalType(k)] = v
	}
	return out
}

// newAPI builds the small hand-rolled HTTP surface for spec.md §6's
// external interfaces. The teacher's services are generated from a goa
// design; without running the goa code generator here, a direct net/http
// mux exposing the same four operations is the honest equivalent.
func newAPI(orch *orchestrator.Orchestrator) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /workflows", func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		constraints := req.Constraints.toWorkflowConstraints()
		id, err := orch.Submit(r.Context(), req.Target, req.UserIntent, constraints)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"workflowId": id, "status": "pending"})
	})

	mux.HandleFunc("GET /workflows/{id}", func(w http.ResponseWriter, r *http.Request) {
		snap, err := orch.Status(r.PathValue("id"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	mux.HandleFunc("POST /workflows/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		if err := orch.Cancel(r.Context(), r.PathValue("id")); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
	})

	mux.HandleFunc("POST /approvals/{id}", func(w http.ResponseWriter, r *http.Request) {
		var res restraint.Resolution
		if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req, err := orch.ProcessApproval(r.Context(), r.PathValue("id"), res)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
	})

	return mux
}

type submitRequest struct {
	Target      string                `json:"target"`
	UserIntent  string                `json:"userIntent"`
	Constraints submitConstraintsJSON `json:"constraints"`
}

type submitConstraintsJSON struct {
	Environment          string   `json:"environment"`
	Scope                []string `json:"scope"`
	TimeLimitSeconds     int64    `json:"timeLimitSeconds"`
	MinTestsPerPhase     int      `json:"minTestsPerPhase"`
	ExcludeTests         []string `json:"excludeTests"`
	RequiresAuth         bool     `json:"requiresAuth"`
	UseSecListsWordlists bool     `json:"useSecListsWordlists"`
}

func (c submitConstraintsJSON) toWorkflowConstraints() workflow.Constraints {
	excl := make(map[string]struct{}, len(c.ExcludeTests))
	for _, t := range c.ExcludeTests {
		excl[t] = struct{}{}
	}
	return workflow.Constraints{
		Environment:          workflow.Environment(c.Environment),
		Scope:                c.Scope,
		TimeLimit:            time.Duration(c.TimeLimitSeconds) * time.Second,
		MinTestsPerPhase:     c.MinTestsPerPhase,
		ExcludeTests:         excl,
		RequiresAuth:         c.RequiresAuth,
		UseSecListsWordlists: c.UseSecListsWordlists,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
