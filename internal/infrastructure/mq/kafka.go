package mq

import (
	"context"
	"encoding/json"
	"log"

	"ledgerhub/internal/config"
	"ledgerhub/internal/ledger"

	"github.com/IBM/sarama"
)

// InitProducer creates the synchronous producer used by the outbox sender.
func InitProducer(cfg *config.KafkaConfig) sarama.SyncProducer {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		log.Fatalf("failed to create Kafka producer: %v", err)
	}

	log.Println("Kafka producer ready")
	return producer
}

// SendMessage publishes one message through the given producer.
func SendMessage(producer sarama.SyncProducer, topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}
	_, _, err := producer.SendMessage(msg)
	return err
}

// CommandConsumer consumes transfer-prepare and transfer-fulfil commands and
// drives them through the ledger facade. Offsets are committed only after the
// facade returns: a crash mid-message redelivers it, and duplicate detection
// makes the redelivery harmless.
type CommandConsumer struct {
	group        sarama.ConsumerGroup
	ledger       ledger.Ledger
	prepareTopic string
	fulfilTopic  string
}

func NewCommandConsumer(cfg *config.KafkaConfig, l ledger.Ledger) *CommandConsumer {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	kafkaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, kafkaConfig)
	if err != nil {
		log.Fatalf("failed to create Kafka consumer group: %v", err)
	}

	return &CommandConsumer{
		group:        group,
		ledger:       l,
		prepareTopic: cfg.Topic.TransferPrepare,
		fulfilTopic:  cfg.Topic.TransferFulfil,
	}
}

// Start runs the consume loop until ctx is cancelled.
func (c *CommandConsumer) Start(ctx context.Context) {
	go func() {
		for err := range c.group.Errors() {
			log.Printf("kafka consumer error: %v", err)
		}
	}()

	go func() {
		topics := []string{c.prepareTopic, c.fulfilTopic}
		for {
			if err := c.group.Consume(ctx, topics, c); err != nil {
				log.Printf("kafka consume: %v", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
}

func (c *CommandConsumer) Close() error {
	return c.group.Close()
}

func (c *CommandConsumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *CommandConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *CommandConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		c.handle(session.Context(), message)
		session.MarkMessage(message, "")
	}
	return nil
}

// handle never fails the claim: a malformed message is logged and skipped,
// and business outcomes are already encoded in the tagged results.
func (c *CommandConsumer) handle(ctx context.Context, message *sarama.ConsumerMessage) {
	switch message.Topic {
	case c.prepareTopic:
		var req ledger.PrepareRequest
		if err := json.Unmarshal(message.Value, &req); err != nil {
			log.Printf("discard malformed prepare command at %s/%d@%d: %v",
				message.Topic, message.Partition, message.Offset, err)
			return
		}
		result := c.ledger.Prepare(ctx, req)
		if result.Err != nil {
			log.Printf("prepare %s: %s: %v", req.TransferID, result.Outcome, result.Err)
		} else {
			log.Printf("prepare %s: %s", req.TransferID, result.Outcome)
		}

	case c.fulfilTopic:
		var req ledger.FulfilRequest
		if err := json.Unmarshal(message.Value, &req); err != nil {
			log.Printf("discard malformed fulfil command at %s/%d@%d: %v",
				message.Topic, message.Partition, message.Offset, err)
			return
		}
		result := c.ledger.Fulfil(ctx, req)
		if result.Err != nil {
			log.Printf("fulfil %s: %s: %v", req.TransferID, result.Outcome, result.Err)
		} else {
			log.Printf("fulfil %s: %s", req.TransferID, result.Outcome)
		}

	default:
		log.Printf("discard message from unexpected topic %s", message.Topic)
	}
}
