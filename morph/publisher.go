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

// JobResultMessage is the payload published to the result topic after a job
// finishes, successfully or not.
type JobResultMessage struct {
	ID        string      `json:"id"`
	Status    JobStatus   `json:"status"`
	Error     string      `json:"error,omitempty"`
	Summary   *JobSummary `json:"summary,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// resultsSummaryMessage is the retained aggregate published on the combined
// results topic alongside each individual result.
type resultsSummaryMessage struct {
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	LastJob   string `json:"lastJob"`
	Timestamp int64  `json:"timestamp"`
}

// ResultPublisher publishes job outcomes to MQTT result topics.
type ResultPublisher struct {
	client  mqtt.Client
	prefix  string
	qos     byte
	retain  bool
	results map[string]*JobResultMessage
	mu      sync.RWMutex
}

// NewResultPublisher creates a publisher for job results. A nil client is
// allowed and produces a disabled publisher whose publish calls error.
func NewResultPublisher(client mqtt.Client, prefix string) *ResultPublisher {
	if prefix == "" {
		prefix = os.Getenv("MQTT_RESULT_PREFIX")
	}
	if prefix == "" {
		prefix = "meshmorph"
	}

	return &ResultPublisher{
		client:  client,
		prefix:  prefix,
		qos:     1,
		retain:  true,
		results: make(map[string]*JobResultMessage),
	}
}

// PublishResult publishes the outcome of one job to {prefix}/results/{id} and
// refreshes the retained {prefix}/results aggregate.
func (p *ResultPublisher) PublishResult(rec *JobRecord) error {
	if p.client == nil {
		return fmt.Errorf("MQTT client not available")
	}
	if !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	if rec == nil {
		return fmt.Errorf("no job record to publish")
	}

	message := &JobResultMessage{
		ID:        rec.ID,
		Status:    rec.Status,
		Error:     rec.Error,
		Summary:   rec.Summary,
		Timestamp: time.Now().Unix(),
	}

	p.mu.Lock()
	p.results[rec.ID] = message
	p.mu.Unlock()

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshaling result for job %s: %w", rec.ID, err)
	}

	topic := fmt.Sprintf("%s/results/%s", p.prefix, rec.ID)
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing result for job %s: %w", rec.ID, token.Error())
	}

	if err := p.publishSummary(rec.ID); err != nil {
		log.Printf("warning: publishing results summary: %v", err)
	}

	return nil
}

// publishSummary publishes the aggregate completed/failed counts.
func (p *ResultPublisher) publishSummary(lastJob string) error {
	p.mu.RLock()
	summary := resultsSummaryMessage{
		LastJob:   lastJob,
		Timestamp: time.Now().Unix(),
	}
	for _, r := range p.results {
		switch r.Status {
		case JobCompleted:
			summary.Completed++
		case JobFailed:
			summary.Failed++
		}
	}
	p.mu.RUnlock()

	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshaling results summary: %w", err)
	}

	topic := fmt.Sprintf("%s/results", p.prefix)
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing results summary: %w", token.Error())
	}
	return nil
}

// GetResult returns a copy of the last published result for a job ID.
func (p *ResultPublisher) GetResult(id string) (*JobResultMessage, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	r, ok := p.results[id]
	if !ok {
		return nil, false
	}
	cpy := *r
	return &cpy, true
}

// SetQoS sets the MQTT QoS level for published results (0, 1, or 2).
func (p *ResultPublisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published results are retained by the broker.
func (p *ResultPublisher) SetRetain(retain bool) {
	p.retain = retain
}
