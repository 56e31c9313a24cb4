package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"switchyard.dev/auth"
	"switchyard.dev/channels"
	"switchyard.dev/circuit"
	"switchyard.dev/delivery"
	"switchyard.dev/model"
	"switchyard.dev/ratelimit"
	"switchyard.dev/store"
	"switchyard.dev/transform"
)

var replayForce bool

var replayCmd = &cobra.Command{
	Use:   "replay <log-id>",
	Short: "re-deliver a logged event",
	Long: `Replay reconstructs the event behind an execution log row and runs
it through the delivery engine again as a fresh attempt. The original log
row is left untouched; the replay writes its own.

With --force an OPEN circuit is bypassed for this one delivery.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().BoolVar(&replayForce, "force", false, "bypass an open circuit for this delivery")
}

func runReplay(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	locks, err := store.NewLockManager(cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer locks.Close()

	logID := args[0]
	logRow, err := st.GetLog(ctx, logID)
	if err != nil {
		return fmt.Errorf("log %s: %w", logID, err)
	}
	integration, err := st.GetIntegration(ctx, logRow.IntegrationID)
	if err != nil {
		return fmt.Errorf("integration %s: %w", logRow.IntegrationID, err)
	}

	sandbox := transform.NewSandbox(cfg.Delivery.ScriptBudget)
	transformer := transform.New(transform.NoopLookups{}, sandbox)

	engine := delivery.NewEngine(st, transformer, auth.NewBuilder(st),
		ratelimit.New(locks.Client()),
		circuit.New(st, cfg.Circuit),
		channels.NewRegistry(),
		sandbox,
		delivery.EngineConfig{
			Delivery:           cfg.Delivery,
			DLQMaxRetries:      cfg.DLQ.MaxRetries,
			MultiActionDelayMs: cfg.Pipeline.MultiActionDelayMs,
		})

	payload := logRow.OriginalPayload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	event := &model.Event{
		ID:         logRow.EventID,
		EventType:  logRow.EventType,
		TenantID:   logRow.TenantID,
		Payload:    payload,
		IsReplay:   true,
		ReceivedAt: time.Now(),
	}

	actionIndex := -1
	if integration.IsMultiAction() {
		actionIndex = logRow.ActionIndex
	}

	result := engine.Deliver(ctx, integration, event, delivery.Options{
		TraceID:       fmt.Sprintf("replay-%s", uuid.NewString()),
		Trigger:       model.TriggerReplay,
		AttemptCount:  1,
		ActionIndex:   actionIndex,
		ForceDelivery: replayForce,
	})

	fmt.Printf("replay of %s finished %s\n", logID, result.Status)
	for _, outcome := range result.Outcomes {
		line := fmt.Sprintf("  %s", outcome.Status)
		if outcome.ActionName != "" {
			line = fmt.Sprintf("  [%s] %s", outcome.ActionName, outcome.Status)
		}
		if outcome.ResponseStatus != 0 {
			line += fmt.Sprintf(" (http %d)", outcome.ResponseStatus)
		}
		if outcome.ErrorMessage != "" {
			line += fmt.Sprintf(": %s", outcome.ErrorMessage)
		}
		if outcome.LogID != "" {
			line += fmt.Sprintf(" log=%s", outcome.LogID)
		}
		fmt.Println(line)
	}
	switch result.Status {
	case model.StatusSuccess, model.StatusPartialSuccess, model.StatusSkipped:
		return nil
	default:
		return fmt.Errorf("replay did not succeed")
	}
}
