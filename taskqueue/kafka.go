package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shopify/sarama"

	"github.com/janelia-flyem/mipvol/downres"
	"github.com/janelia-flyem/mipvol/mipvol"
	"github.com/janelia-flyem/mipvol/storage"
)

// KafkaMaxMessageSize is the max message size in bytes for a Kafka message.
const KafkaMaxMessageSize = 980 * mipvol.Kilo

// DefaultTopic receives downsample tasks when no topic is configured.
const DefaultTopic = "mipvol-downsample"

// KafkaConfig describes kafka servers and the topic used for downsample tasks.
type KafkaConfig struct {
	Servers []string
	Topic   string // defaults to DefaultTopic
	Group   string // consumer group of workers
}

// FailedTopic returns the topic receiving tasks that exhausted their retries.
func (kc KafkaConfig) FailedTopic() string {
	return kc.topic() + "-failed"
}

func (kc KafkaConfig) topic() string {
	if kc.Topic == "" {
		return DefaultTopic
	}
	return kc.Topic
}

func (kc KafkaConfig) group() string {
	if kc.Group == "" {
		return kc.topic() + "-workers"
	}
	return kc.Group
}

func (kc KafkaConfig) saramaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V2_0_0_0
	config.Producer.MaxMessageBytes = KafkaMaxMessageSize
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true
	return config
}

// NewProducer returns a synchronous producer for the configured servers.
func (kc KafkaConfig) NewProducer() (sarama.SyncProducer, error) {
	if len(kc.Servers) == 0 {
		return nil, fmt.Errorf("no kafka servers configured")
	}
	return sarama.NewSyncProducer(kc.Servers, kc.saramaConfig())
}

// Kafka publishes tasks to a topic, keyed by volume path.  A volume's tasks land
// on one partition and are consumed in the order they were published, so a level
// is only derived after the finer levels enqueued before it.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafka returns a queue publishing through producer.
func NewKafka(producer sarama.SyncProducer, kc KafkaConfig) *Kafka {
	return &Kafka{producer: producer, topic: kc.topic()}
}

// Enqueue publishes the tasks as msgpack messages.  Delivery failures of any
// message fail the whole call; tasks are idempotent so callers can resubmit.
func (k *Kafka) Enqueue(ctx context.Context, tasks []downres.Task) error {
	msgs := make([]*sarama.ProducerMessage, len(tasks))
	for i, task := range tasks {
		value, err := task.MarshalMsg(nil)
		if err != nil {
			return fmt.Errorf("can't encode %s: %v", task, err)
		}
		msgs[i] = &sarama.ProducerMessage{
			Topic: k.topic,
			Key:   sarama.StringEncoder(task.Path),
			Value: sarama.ByteEncoder(value),
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := k.producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("publishing %d tasks to kafka topic %q: %w", len(msgs), k.topic, err)
	}
	mipvol.Debugf("Published %d downsample tasks to kafka topic %q\n", len(msgs), k.topic)
	return nil
}

// Close flushes and closes the producer.
func (k *Kafka) Close() error {
	if err := k.producer.Close(); err != nil {
		mipvol.Errorf("Kafka producer had error on close: %v\n", err)
		return err
	}
	return nil
}

// Worker consumes tasks from the kafka topic as part of a consumer group and
// executes them.  A task that still fails after its retries, or a message that
// can't be decoded, is forwarded to the failed topic so the partition keeps
// moving.
type Worker struct {
	exec     Executor
	producer sarama.SyncProducer
	config   KafkaConfig
	retry    storage.RetryPolicy
}

// NewWorker returns a worker forwarding failed tasks through producer.
func NewWorker(exec Executor, producer sarama.SyncProducer, kc KafkaConfig, retry storage.RetryPolicy) *Worker {
	return &Worker{exec: exec, producer: producer, config: kc, retry: retry}
}

// Run consumes until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	group, err := sarama.NewConsumerGroup(w.config.Servers, w.config.group(), w.config.saramaConfig())
	if err != nil {
		return err
	}
	defer func() {
		if err := group.Close(); err != nil {
			mipvol.Errorf("Kafka consumer group had error on close: %v\n", err)
		}
	}()
	go func() {
		for err := range group.Errors() {
			mipvol.Errorf("kafka consumer group %q: %v\n", w.config.group(), err)
		}
	}()
	mipvol.Infof("Worker consuming kafka topic %q as group %q\n", w.config.topic(), w.config.group())
	for {
		if err := group.Consume(ctx, []string{w.config.topic()}, w); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Setup implements sarama.ConsumerGroupHandler.
func (w *Worker) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler.
func (w *Worker) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim implements sarama.ConsumerGroupHandler.  Messages are marked only
// after they were executed or forwarded, giving at-least-once execution.
func (w *Worker) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := w.process(session.Context(), msg); err != nil {
			return err
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// process executes one message.  It returns an error only if the message could
// neither be executed nor forwarded.
func (w *Worker) process(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var task downres.Task
	if _, err := task.UnmarshalMsg(msg.Value); err != nil {
		mipvol.Errorf("Bad task message at %s/%d offset %d: %v\n", msg.Topic, msg.Partition, msg.Offset, err)
		return w.forward(msg, err)
	}
	start := time.Now()
	err := w.retry.Do(ctx, task.String(), func(ctx context.Context) error {
		return w.exec.Execute(ctx, task)
	})
	if err == nil {
		mipvol.Debugf("%s done in %s\n", task, time.Since(start))
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	mipvol.Errorf("%s failed: %v\n", task, err)
	return w.forward(msg, err)
}

func (w *Worker) forward(msg *sarama.ConsumerMessage, cause error) error {
	failed := &sarama.ProducerMessage{
		Topic: w.config.FailedTopic(),
		Key:   sarama.ByteEncoder(msg.Key),
		Value: sarama.ByteEncoder(msg.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("error"), Value: []byte(cause.Error())},
		},
	}
	if _, _, err := w.producer.SendMessage(failed); err != nil {
		return fmt.Errorf("forwarding failed task to %q: %w", failed.Topic, err)
	}
	return nil
}
