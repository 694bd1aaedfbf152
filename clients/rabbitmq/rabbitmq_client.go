package rabbitmq_client

import (
	"fmt"
	"os"
	"stockscreener/types"

	"encoding/json"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

var (
	Connection *amqp.Connection
	Channel    *amqp.Channel
	Queue      amqp.Queue
)

// GetEnv retrieves the environment variable with a default value if not set.
func GetEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func Close() {
	if Channel != nil {
		Channel.Close()
	}
	if Connection != nil {
		Connection.Close()
	}
}

// SendFetchFailure publishes one exhausted-retries ticker to the failure
// queue so ops tooling can track the retry backlog between runs.
func SendFetchFailure(event types.FetchFailureEvent) {
	if Channel == nil {
		zap.L().Warn("RabbitMQ not configured, skipping fetch failure publish",
			zap.String("symbol", event.Failure.Symbol))
		return
	}

	message, err := json.Marshal(event)
	if err != nil {
		zap.L().Error("Error marshalling fetch failure event", zap.Error(err))
		return
	}

	err = Channel.Publish(
		"",         // Exchange (empty means default)
		Queue.Name, // Routing key (queue name in this case)
		false,      // Mandatory
		false,      // Immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        message,
		})

	if err != nil {
		zap.L().Error("Error publishing message to rabbitmq: ", zap.Any("error", err.Error()))
		return
	}

	zap.L().Debug("Published fetch failure", zap.String("symbol", event.Failure.Symbol))
}

func init() {
	// init runs before main installs the global logger; build one locally so
	// the startup notices are not dropped by zap's no-op default.
	logger, _ := zap.NewProduction()

	if os.Getenv("RABBITMQ_SERVER") == "" {
		logger.Warn("RABBITMQ_SERVER not set, fetch failures will only be logged to the failure table")
		return
	}

	// 1. Connect to RabbitMQ server
	rabbitServer := GetEnv("RABBITMQ_SERVER", "localhost")
	rabbitPort := GetEnv("RABBITMQ_PORT", "5672")
	rabbitUser := GetEnv("RABBITMQ_USER", "guest")
	rabbitPass := GetEnv("RABBITMQ_PASS", "guest")

	newConn, err := amqp.Dial(fmt.Sprintf("amqp://%s:%s@%s:%s/", rabbitUser, rabbitPass, rabbitServer, rabbitPort))
	if err != nil {
		logger.Error("RabbitMQ initialization failed: ", zap.Any("error", err.Error()))
		return
	}
	Connection = newConn

	// 2. Create a channel
	ch, err := Connection.Channel()
	if err != nil {
		logger.Error("RabbitMQ - Failed to open a channel: ", zap.Any("error", err.Error()))
		return
	}

	Channel = ch

	// 3. Declare a queue to ensure it exists before publishing messages
	queueName := GetEnv("RABBITMQ_FAILURE_QUEUE", "screener-fetch-failures")
	q, err := ch.QueueDeclare(
		queueName, // Name of the queue
		true,      // Durable
		false,     // Delete when unused
		false,     // Exclusive
		false,     // No-wait
		nil,       // Arguments
	)
	if err != nil {
		logger.Error("RabbitMQ - Failed to declare a queue: ", zap.Any("error", err.Error()))
		return
	}

	Queue = q

	logger.Info("Connected to RabbitMQ.")
}
