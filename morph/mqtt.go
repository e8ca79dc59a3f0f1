package morph

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// JobHandler is called for every transfer request arriving on the job topic.
// rawPayload is provided so callers can log or dead-letter malformed jobs.
type JobHandler func(req *TransferRequest, rawPayload []byte, err error)

// MQTTWorker manages the MQTT connection and the job topic subscription for
// worker mode.
type MQTTWorker struct {
	client      mqtt.Client
	config      *Config
	jobHandler  JobHandler
	isConnected bool
	mu          sync.RWMutex
}

// NewMQTTWorker initializes an MQTT worker with the provided configuration.
// If neither the MQTT_BROKER env var nor the config name a broker, MQTT is
// disabled and this returns nil.
func NewMQTTWorker(config *Config, handler JobHandler) (*MQTTWorker, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil {
		return nil, fmt.Errorf("MQTT enabled but no configuration provided")
	}

	worker := &MQTTWorker{
		config:     config,
		jobHandler: handler,
	}

	// Build MQTT client options
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	// Client ID
	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "meshmorph-worker"
	}
	opts.SetClientID(clientID)

	// Authentication
	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	// Connection settings
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // preserve the job subscription on reconnect
	opts.SetOrderMatters(true)  // jobs are processed in arrival order

	// Callbacks
	opts.SetOnConnectHandler(worker.onConnect)
	opts.SetConnectionLostHandler(worker.onConnectionLost)
	opts.SetReconnectingHandler(worker.onReconnecting)

	worker.client = mqtt.NewClient(opts)

	// Connect asynchronously with retry
	go worker.connectWithRetry()

	return worker, nil
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (w *MQTTWorker) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("Connecting to MQTT broker...")

		token := w.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("Successfully connected to MQTT broker")
				w.setConnected(true)
				return
			}
			log.Printf("MQTT connection failed: %v", token.Error())
		} else {
			log.Println("MQTT connection timeout")
		}

		log.Printf("Retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect is called when the MQTT connection is established
func (w *MQTTWorker) onConnect(client mqtt.Client) {
	w.setConnected(true)

	topic := w.config.EffectiveJobTopic()
	log.Printf("MQTT connected, subscribing to job topic %s", topic)

	// QoS 1: jobs in flight during a connection drop are redelivered.
	token := client.Subscribe(topic, 1, w.handleJobMessage)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("Error subscribing to %s: %v", topic, token.Error())
	} else {
		log.Printf("Successfully subscribed to %s", topic)
	}
}

// onConnectionLost is called when the MQTT connection is lost
// Auto-reconnect is enabled, so this is typically a transient event
func (w *MQTTWorker) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	w.setConnected(false)
}

// onReconnecting is called when the client attempts to reconnect
func (w *MQTTWorker) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("MQTT reconnecting...")
}

// handleJobMessage decodes one job payload and hands it to the job handler.
func (w *MQTTWorker) handleJobMessage(client mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()
	log.Printf("Received transfer job (topic: %s, size: %d bytes)", msg.Topic(), len(payload))

	var req TransferRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		log.Printf("Error decoding transfer job: %v", err)
		if w.jobHandler != nil {
			w.jobHandler(nil, payload, fmt.Errorf("decoding job: %w", err))
		}
		return
	}
	if err := req.Validate(); err != nil {
		log.Printf("Rejected transfer job: %v", err)
		if w.jobHandler != nil {
			w.jobHandler(&req, payload, err)
		}
		return
	}

	if w.jobHandler != nil {
		w.jobHandler(&req, payload, nil)
	}
}

// IsConnected returns true if the MQTT worker is connected
func (w *MQTTWorker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.isConnected
}

// setConnected updates the connection status
func (w *MQTTWorker) setConnected(connected bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (w *MQTTWorker) Disconnect() {
	if w.client != nil && w.client.IsConnected() {
		log.Println("Disconnecting from MQTT broker...")
		w.client.Disconnect(250) // 250ms quiesce time
		w.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (w *MQTTWorker) GetClient() mqtt.Client {
	return w.client
}

// newMQTTWorkerWithMock creates an MQTTWorker with a provided mqtt.Client
// This is used for testing with mock clients
func newMQTTWorkerWithMock(client mqtt.Client, config *Config, handler JobHandler) *MQTTWorker {
	return &MQTTWorker{
		client:     client,
		config:     config,
		jobHandler: handler,
	}
}
