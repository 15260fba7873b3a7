package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/iyyansoft/eventzgo-sub003/internal/infra/config"
)

// Producer sends messages through either a Sarama AsyncProducer or a
// SyncProducer, depending on kafka.async.
type Producer struct {
	async  sarama.AsyncProducer
	sync   sarama.SyncProducer
	logger *zap.Logger
	cfg    config.KafkaSettings
	errs   chan error
	done   chan struct{}
}

func saramaConfig(async bool) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_5_0_0
	cfg.ClientID = "auth-service"

	// Security events are low volume; wait for the full ISR.
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = !async
	if async {
		cfg.Producer.Flush.Frequency = 100 * time.Millisecond
		cfg.Producer.Flush.Messages = 100
	}

	cfg.Metadata.Retry.Max = 3
	cfg.Metadata.Retry.Backoff = 250 * time.Millisecond
	return cfg
}

// NewProducer connects to the configured brokers.
func NewProducer(cfg config.KafkaSettings, logger *zap.Logger) (*Producer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("create kafka producer: no brokers configured")
	}

	if !cfg.Async {
		syncProducer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig(false))
		if err != nil {
			return nil, fmt.Errorf("create kafka producer: %w", err)
		}
		p := newSyncProducer(syncProducer, cfg, logger)
		logger.Info("kafka producer initialized",
			zap.Strings("brokers", cfg.Brokers),
			zap.String("topic_prefix", cfg.TopicPrefix),
			zap.Bool("async", false),
		)
		return p, nil
	}

	asyncProducer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig(true))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	p := newAsyncProducer(asyncProducer, cfg, logger)
	logger.Info("kafka producer initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic_prefix", cfg.TopicPrefix),
		zap.Bool("async", true),
	)
	return p, nil
}

func newAsyncProducer(producer sarama.AsyncProducer, cfg config.KafkaSettings, logger *zap.Logger) *Producer {
	p := &Producer{
		async:  producer,
		logger: logger,
		cfg:    cfg,
		errs:   make(chan error, 256),
		done:   make(chan struct{}),
	}
	go p.drainErrors()
	return p
}

func newSyncProducer(producer sarama.SyncProducer, cfg config.KafkaSettings, logger *zap.Logger) *Producer {
	return &Producer{sync: producer, logger: logger, cfg: cfg}
}

// drainErrors runs until the async producer closes its Errors channel.
func (p *Producer) drainErrors() {
	defer close(p.done)
	defer close(p.errs)

	for perr := range p.async.Errors() {
		if perr == nil {
			continue
		}
		p.logger.Error("kafka producer error",
			zap.Error(perr.Err),
			zap.String("topic", perr.Msg.Topic),
		)
		select {
		case p.errs <- perr.Err:
		default:
			p.logger.Warn("kafka error channel full, dropping error")
		}
	}
}

// Send hands msg to the broker. Async producers return once the message is
// queued; sync producers wait for the broker acknowledgement.
func (p *Producer) Send(ctx context.Context, msg *sarama.ProducerMessage) error {
	if p.sync != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		partition, offset, err := p.sync.SendMessage(msg)
		if err != nil {
			return fmt.Errorf("send to %s: %w", msg.Topic, err)
		}
		p.logger.Debug("kafka message delivered",
			zap.String("topic", msg.Topic),
			zap.Int32("partition", partition),
			zap.Int64("offset", offset),
		)
		return nil
	}

	select {
	case p.async.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Errors exposes async delivery failures. It is nil for sync producers.
func (p *Producer) Errors() <-chan error {
	return p.errs
}

// Close flushes pending messages and releases the connection.
func (p *Producer) Close() error {
	p.logger.Info("closing kafka producer")

	if p.sync != nil {
		if err := p.sync.Close(); err != nil {
			return fmt.Errorf("close kafka producer: %w", err)
		}
		return nil
	}

	err := p.async.Close()
	<-p.done
	if err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

// TopicName prefixes name with the configured topic prefix.
func (p *Producer) TopicName(name string) string {
	if p.cfg.TopicPrefix == "" {
		return name
	}

	prefix := p.cfg.TopicPrefix + "."
	if strings.HasPrefix(name, prefix) {
		return name
	}
	return prefix + name
}
