package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Утилита ручной проверки шины доменных событий: подписывается на
// топики реестра отделений и печатает входящие события.
//
// Запуск:
//
//	go run scripts/mqtt-event-listener.go -broker tcp://localhost:1883 -prefix geobank/events
//	go run scripts/mqtt-event-listener.go -types BRANCH_REGISTERED -raw

// ListenerConfig параметры подписки
type ListenerConfig struct {
	BrokerURL   string
	TopicPrefix string
	ClientID    string
	Types       map[string]bool // пустая map означает все типы
	Raw         bool
}

// EventListener подписчик на события реестра
type EventListener struct {
	client mqtt.Client
	config *ListenerConfig

	mu       sync.Mutex
	counters map[string]int
}

func main() {
	var (
		brokerURL = flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
		prefix    = flag.String("prefix", "geobank/events", "Topic prefix to subscribe to")
		clientID  = flag.String("client", "geobank-event-listener", "MQTT client ID")
		typesStr  = flag.String("types", "", "Event types to print, comma-separated (empty = all)")
		raw       = flag.Bool("raw", false, "Print raw JSON payloads")
	)
	flag.Parse()

	types := make(map[string]bool)
	for _, t := range strings.Split(*typesStr, ",") {
		if t = strings.TrimSpace(strings.ToUpper(t)); t != "" {
			types[t] = true
		}
	}

	config := &ListenerConfig{
		BrokerURL:   *brokerURL,
		TopicPrefix: strings.TrimSuffix(*prefix, "/"),
		ClientID:    *clientID,
		Types:       types,
		Raw:         *raw,
	}

	listener, err := NewEventListener(config)
	if err != nil {
		log.Fatalf("Failed to create listener: %v", err)
	}

	fmt.Printf("📡 Broker: %s\n", config.BrokerURL)
	fmt.Printf("📬 Topics: %s/+\n", config.TopicPrefix)
	if len(config.Types) > 0 {
		fmt.Printf("🔍 Filter: %v\n", *typesStr)
	}
	fmt.Println()

	if err := listener.Start(); err != nil {
		log.Fatalf("Failed to subscribe: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\n⏹  Shutting down...")
	listener.Stop()
	listener.PrintSummary()
}

// NewEventListener создает подписчика и подключается к брокеру
func NewEventListener(config *ListenerConfig) (*EventListener, error) {
	listener := &EventListener{
		config:   config,
		counters: make(map[string]int),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.BrokerURL)
	opts.SetClientID(config.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		fmt.Println("✅ Connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		fmt.Printf("⚠️  Connection lost: %v\n", err)
	}

	listener.client = mqtt.NewClient(opts)
	token := listener.client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, err
	}

	return listener, nil
}

// Start подписывается на топики событий
func (l *EventListener) Start() error {
	topic := l.config.TopicPrefix + "/+"
	token := l.client.Subscribe(topic, 0, l.handleMessage)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("subscribe timeout for %s", topic)
	}
	return token.Error()
}

// Stop отключается от брокера
func (l *EventListener) Stop() {
	l.client.Disconnect(1000)
}

// handleMessage печатает событие, если оно проходит фильтр типов
func (l *EventListener) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var event map[string]interface{}
	if err := json.Unmarshal(msg.Payload(), &event); err != nil {
		fmt.Printf("❌ %s: malformed payload: %v\n", msg.Topic(), err)
		return
	}

	eventType, _ := event["eventType"].(string)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	if len(l.config.Types) > 0 && !l.config.Types[eventType] {
		return
	}

	l.mu.Lock()
	l.counters[eventType]++
	count := l.counters[eventType]
	l.mu.Unlock()

	stamp := time.Now().Format("15:04:05.000")
	if l.config.Raw {
		fmt.Printf("[%s] #%d %s %s\n", stamp, count, msg.Topic(), msg.Payload())
		return
	}

	switch eventType {
	case "BRANCH_REGISTERED":
		fmt.Printf("[%s] 🏦 %s id=%v name=%q type=%v at (%.4f, %.4f) correlation=%v\n",
			stamp, eventType,
			event["branchId"], str(event["branchName"]), event["branchType"],
			num(event["latitude"]), num(event["longitude"]),
			event["correlationId"])
	case "PROXIMITY_QUERIED":
		found, _ := event["foundBranchIds"].([]interface{})
		fmt.Printf("[%s] 🔎 %s at (%.4f, %.4f) radius=%.1fkm found=%d cacheHit=%v in %.2fms\n",
			stamp, eventType,
			num(event["userLatitude"]), num(event["userLongitude"]),
			num(event["radiusKm"]), len(found),
			event["cacheHit"], num(event["executionTimeMs"]))
	default:
		fmt.Printf("[%s] 📨 %s %s\n", stamp, msg.Topic(), msg.Payload())
	}
}

// PrintSummary печатает счетчики принятых событий
func (l *EventListener) PrintSummary() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.counters) == 0 {
		fmt.Println("No events received")
		return
	}

	types := make([]string, 0, len(l.counters))
	for t := range l.counters {
		types = append(types, t)
	}
	sort.Strings(types)

	fmt.Println("Received events:")
	for _, t := range types {
		fmt.Printf("  %-20s %d\n", t, l.counters[t])
	}
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func num(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}
