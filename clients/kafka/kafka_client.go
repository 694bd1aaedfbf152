package kafka_client

import (
	"encoding/json"
	"os"
	"stockscreener/types"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

var (
	KafkaProducer *kafka.Producer
)

// SendRunSummary publishes the pipeline run summary to the reporting topic
// for downstream run-health dashboards and alerting.
func SendRunSummary(summary types.RunSummary) {
	if KafkaProducer == nil {
		zap.L().Warn("Kafka producer not configured, skipping run summary publish",
			zap.String("runId", summary.RunID))
		return
	}

	topic := os.Getenv("KAFKA_TOPIC")
	message, err := json.Marshal(summary)
	if err != nil {
		zap.L().Error("Error marshalling run summary", zap.Error(err))
		return
	}

	zap.L().Sugar().Infof("Sending run summary to kafka: %s", message)
	err = KafkaProducer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          message,
	}, nil)
	if err != nil {
		zap.L().Error("Error sending message to kafka: ", zap.Any("error", err.Error()))
	}
}

func init() {
	// init runs before main installs the global logger; build one locally so
	// the startup notices are not dropped by zap's no-op default.
	logger, _ := zap.NewProduction()

	bootstrapServers := os.Getenv("KAFKA_BOOTSTRAPSERVERS")
	if bootstrapServers == "" {
		logger.Warn("KAFKA_BOOTSTRAPSERVERS not set, run summaries will not be published")
		return
	}

	newProducer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": bootstrapServers,
		"client.id":         "stockscreener",
		"acks":              "all",
	})
	if err != nil {
		logger.Error("Kafka Producer initialization failed: ", zap.Any("error", err.Error()))
		return
	}
	KafkaProducer = newProducer

	// Delivery report handler for produced messages
	go func() {
		for e := range KafkaProducer.Events() {
			switch ev := e.(type) {
			case *kafka.Message:
				if ev.TopicPartition.Error != nil {
					zap.L().Error("Kafka Delivery failed: ", zap.Any("error", ev.TopicPartition.Error.Error()))
				} else {
					zap.L().Sugar().Infof("Delivered message to %s", *ev.TopicPartition.Topic)
				}
			}
		}
	}()

	logger.Info("Connected to Kafka")
}
