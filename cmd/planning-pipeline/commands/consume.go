package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/common"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/queue"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Drain the AMQP queue into signed callbacks against the serve instance",
	Long: `consume reads processing messages from RabbitMQ and posts each one as a
signed callback to the URL carried in the message. Failed callbacks are parked
on the retry queue and dead-lettered after the configured number of deliveries.`,
	RunE: runConsume,
}

func init() {
	rootCmd.AddCommand(consumeCmd)
}

func runConsume(cmd *cobra.Command, args []string) error {
	v := common.NewValidator()
	v.Field("QUEUE_SIGNING_KEY", cfg.Queue.SigningKey, common.Required, common.MinLengthRule(16))
	v.Field("AMQP_URL", cfg.Queue.URL, common.Required)
	if v.HasErrors() {
		return v.Error()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := queue.DialAMQP(queue.AMQPConfigFromApp(cfg.Queue), logger)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	if err := client.SetupTopology(); err != nil {
		return err
	}

	consumer := queue.NewConsumer(client, callbackDeliverer(), logger,
		queue.WithConcurrency(cfg.Queue.Concurrency),
		queue.WithCallbackTimeout(cfg.Pipeline.WorkerTimeout+time.Minute),
		queue.WithMaxDeliveries(cfg.Queue.MaxDeliveries),
	)
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
