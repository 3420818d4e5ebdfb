package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/charge-orchestrator/internal/core/events"
	"github.com/frahmantamala/charge-orchestrator/pkg/logger"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event management commands",
	Long:  `Publish sample charge events to check subscribers and log output`,
}

var publishEventCmd = &cobra.Command{
	Use:       "publish [event-type]",
	Short:     "Publish a sample charge event",
	Long:      `Publish a sample charge event to the in-process event bus with the logging subscriber attached`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: events.ChargeEventTypes,
	RunE: func(cmd *cobra.Command, args []string) error {
		return publishTestEvent(args[0])
	},
}

var (
	eventAmount    string
	eventProcessor string
)

func publishTestEvent(eventType string) error {
	lg := logger.LoggerWrapper()

	snapshot := events.ChargeSnapshot{
		AttemptID:    uuid.NewString(),
		ObligationID: "cli-obligation",
		ReferenceID:  "CLI000000000001",
		Processor:    eventProcessor,
		Amount:       eventAmount,
	}

	var event *events.ChargeEvent
	switch eventType {
	case events.EventTypeChargeCompleted:
		snapshot.Status = "completed"
		event = events.NewChargeCompletedEvent(snapshot)
	case events.EventTypeChargeFailed:
		snapshot.Status = "canceled"
		snapshot.Classification = "insufficient_funds"
		event = events.NewChargeFailedEvent(snapshot)
	case events.EventTypeChargeAmbiguous:
		snapshot.Status = "unknown"
		event = events.NewChargeAmbiguousEvent(snapshot)
	case events.EventTypeChargeReconciled:
		snapshot.Status = "completed"
		event = events.NewChargeReconciledEvent(snapshot)
	default:
		return fmt.Errorf("unknown event type %q, expected one of %v", eventType, events.ChargeEventTypes)
	}

	eventBus := events.NewEventBus(lg)
	eventBus.Subscribe(eventType, events.LoggingHandler(lg))

	lg.Info("publishing test event", "event_type", eventType, "event_id", event.EventID())

	if err := eventBus.PublishSync(context.Background(), event); err != nil {
		lg.Error("failed to publish event", "error", err)
		return err
	}

	lg.Info("test event published successfully")
	return nil
}

func init() {
	publishEventCmd.Flags().StringVar(&eventAmount, "amount", "75.00", "Amount carried by the event")
	publishEventCmd.Flags().StringVar(&eventProcessor, "processor", "debit-card", "Processor named by the event")

	eventCmd.AddCommand(publishEventCmd)

	rootCmd.AddCommand(eventCmd)
}
