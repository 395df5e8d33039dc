package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/geobank/branches-backend/internal/config"
	"github.com/geobank/branches-backend/internal/metrics"
	"github.com/geobank/branches-backend/internal/models"
)

// Задержка перед повторной попыткой публикации
const retryDelay = 100 * time.Millisecond

// Publisher публикует доменные события в MQTT брокер. События уходят
// с QoS 0: задержанная или потерянная публикация не должна тормозить
// запросы. Неудачная попытка повторяется один раз в фоне.
type Publisher struct {
	client  mqtt.Client
	config  *config.MQTTConfig
	timeout time.Duration
	logger  *logrus.Entry

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	connected bool
	mu        sync.RWMutex
}

// NewPublisher создает MQTT публикатор событий
func NewPublisher(cfg *config.MQTTConfig, publishTimeout time.Duration, logger *logrus.Entry) (*Publisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Publisher{
		config:  cfg,
		timeout: publishTimeout,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}

	// Настройка MQTT клиента
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(cfg.CleanSession)
	opts.SetOrderMatters(cfg.OrderMatters)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	// Callback при подключении
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		p.mu.Lock()
		p.connected = true
		p.mu.Unlock()

		p.logger.WithField("broker", cfg.URL).Info("Connected to MQTT broker")
		metrics.MQTTConnectionStatus.Set(1)
	})

	// Callback при потере соединения
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		p.mu.Lock()
		p.connected = false
		p.mu.Unlock()

		p.logger.WithField("error", err).Warn("Lost connection to MQTT broker")
		metrics.MQTTConnectionStatus.Set(0)
	})

	p.client = mqtt.NewClient(opts)

	return p, nil
}

// Connect подключается к MQTT брокеру и ждет подтверждения
func (p *Publisher) Connect() error {
	p.logger.WithField("broker", p.config.URL).Info("Connecting to MQTT broker")

	token := p.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	timeout := time.After(10 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			return fmt.Errorf("connection timeout")
		case <-ticker.C:
			if p.IsConnected() {
				return nil
			}
		case <-p.ctx.Done():
			return p.ctx.Err()
		}
	}
}

// Disconnect отключается от MQTT брокера, дождавшись фоновых повторов
func (p *Publisher) Disconnect() {
	p.logger.Info("Disconnecting from MQTT broker")

	p.cancel()
	p.wg.Wait()

	if p.client.IsConnected() {
		p.client.Disconnect(1000)
	}
	p.logger.Info("MQTT publisher disconnected")
}

// IsConnected проверяет статус подключения
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected && p.client.IsConnected()
}

// Publish публикует доменное событие. При неудаче первой попытки
// запускается один фоновый повтор, а ошибка возвращается вызывающей
// стороне для логирования.
func (p *Publisher) Publish(ctx context.Context, event models.DomainEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		metrics.EventsPublished.WithLabelValues(event.Type(), "error").Inc()
		return fmt.Errorf("failed to encode event: %w", err)
	}

	topic := p.topicFor(event)
	if err := p.publishOnce(topic, payload); err != nil {
		metrics.EventsPublished.WithLabelValues(event.Type(), "error").Inc()
		p.retryAsync(event.Type(), topic, payload)
		return err
	}

	metrics.EventsPublished.WithLabelValues(event.Type(), "ok").Inc()
	p.logger.WithFields(logrus.Fields{
		"topic":        topic,
		"event_type":   event.Type(),
		"payload_size": len(payload),
	}).Debug("Published domain event")
	return nil
}

// publishOnce выполняет одну попытку публикации с бюджетом времени
func (p *Publisher) publishOnce(topic string, payload []byte) error {
	if !p.IsConnected() {
		return fmt.Errorf("mqtt publisher is not connected")
	}

	token := p.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("event publish timed out after %s", p.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// retryAsync повторяет публикацию один раз в фоне
func (p *Publisher) retryAsync(eventType, topic string, payload []byte) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case <-time.After(retryDelay):
		case <-p.ctx.Done():
			return
		}

		if err := p.publishOnce(topic, payload); err != nil {
			metrics.EventsPublished.WithLabelValues(eventType, "error").Inc()
			p.logger.WithFields(logrus.Fields{
				"topic": topic,
				"error": err,
			}).Warn("Event publish retry failed, event dropped")
			return
		}
		metrics.EventsPublished.WithLabelValues(eventType, "ok").Inc()
		p.logger.WithField("topic", topic).Debug("Event published on retry")
	}()
}

// topicFor строит имя топика из типа события: BRANCH_REGISTERED
// публикуется в {prefix}/branch-registered
func (p *Publisher) topicFor(event models.DomainEvent) string {
	suffix := strings.ToLower(strings.ReplaceAll(event.Type(), "_", "-"))
	return p.config.TopicPrefix + "/" + suffix
}
