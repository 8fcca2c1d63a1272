package objectstore

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/speech-worker/internal/core"
)

const audioKeySuffix = ".wav"

// Publisher uploads synthesized files and, when connected to NATS, announces
// each upload with an AudioChunkCreatedEvent. It implements core.ArtifactSink.
type Publisher struct {
	store   core.ObjectStore
	conn    *nats.Conn
	subject string
	log     *logger.Logger
}

// NewPublisher creates a publisher. conn may be nil, in which case files are
// uploaded without an announcement.
func NewPublisher(store core.ObjectStore, conn *nats.Conn, subject string, log *logger.Logger) *Publisher {
	return &Publisher{
		store:   store,
		conn:    conn,
		subject: subject,
		log:     log,
	}
}

// Store uploads the file at path under a fresh key and returns the key.
func (p *Publisher) Store(ctx context.Context, path string, meta core.ArtifactMeta) (string, error) {
	audioData, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read synthesized audio '%s': %w", path, err)
	}

	audioKey := uuid.NewString() + audioKeySuffix

	err = p.store.Upload(ctx, audioKey, audioData)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	p.log.Info("Uploaded %s (%s, %d Hz) as %s", path, meta.Model, meta.SampleRate, audioKey)

	if p.conn == nil || p.subject == "" {
		return audioKey, nil
	}

	err = p.announce(audioKey, meta)
	if err != nil {
		return "", err
	}

	return audioKey, nil
}

func (p *Publisher) announce(audioKey string, meta core.ArtifactMeta) error {
	workflowID := meta.WorkflowID
	if workflowID == "" {
		workflowID = uuid.NewString()
	}

	event := &events.AudioChunkCreatedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: workflowID,
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		AudioKey:   audioKey,
		PageNumber: 0,
		TotalPages: 0,
	}

	eventData, err := sonic.ConfigStd.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audio chunk event: %w", err)
	}

	err = p.conn.Publish(p.subject, eventData)
	if err != nil {
		return fmt.Errorf("failed to publish audio chunk event on '%s': %w", p.subject, err)
	}

	err = p.conn.Flush()
	if err != nil {
		return fmt.Errorf("failed to flush audio chunk event: %w", err)
	}

	return nil
}
