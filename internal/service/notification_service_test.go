package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/pkg/crypto"
)

type published struct {
	topic   string
	key     string
	payload []byte
	headers map[string]string
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, topic, key string, payload []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, published{topic: topic, key: key, payload: payload, headers: headers})
	return nil
}

func (p *recordingPublisher) snapshot() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.messages...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotificationService_PublishesSignedNotices(t *testing.T) {
	pub := &recordingPublisher{}
	signer := crypto.NewSigner("secret", quietLogger())
	svc := NewNotificationService(pub, signer, NotificationOptions{
		Topic: "ledger.notices", Workers: 2, Logger: quietLogger(),
	})

	notice := domain.Notice{
		Kind:      domain.NoticeReservationAdjusted,
		OwnerID:   "owner1",
		SubjectID: "res-1",
		Amount:    1250,
		At:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	svc.Notify(context.Background(), notice)

	require.Eventually(t, func() bool { return len(pub.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Shutdown(context.Background()))

	msg := pub.snapshot()[0]
	assert.Equal(t, "ledger.notices", msg.topic)
	assert.Equal(t, "owner1", msg.key)
	assert.Equal(t, string(domain.NoticeReservationAdjusted), msg.headers[HeaderKind])

	at, err := strconv.ParseInt(msg.headers[HeaderAt], 10, 64)
	require.NoError(t, err)
	require.NoError(t, signer.VerifyNotice(msg.headers[HeaderKind], at, msg.payload, msg.headers[crypto.SignatureHeader]))

	var decoded domain.Notice
	require.NoError(t, json.Unmarshal(msg.payload, &decoded))
	assert.Equal(t, notice.SubjectID, decoded.SubjectID)
	assert.Equal(t, notice.Amount, decoded.Amount)

	assert.Equal(t, uint64(1), svc.Stats().Published)
}

func TestNotificationService_DropsWhenQueueFull(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewNotificationService(pub, crypto.NewSigner("secret", nil), NotificationOptions{
		Workers: 0, QueueSize: 1, Logger: quietLogger(),
	})

	svc.Notify(context.Background(), domain.Notice{Kind: domain.NoticeGoalAdjusted, SubjectID: "g1"})
	svc.Notify(context.Background(), domain.Notice{Kind: domain.NoticeGoalAdjusted, SubjectID: "g2"})

	assert.Equal(t, uint64(1), svc.Stats().Dropped)
	require.NoError(t, svc.Shutdown(context.Background()))

	svc.Notify(context.Background(), domain.Notice{Kind: domain.NoticeGoalAdjusted, SubjectID: "g3"})
	assert.Equal(t, uint64(2), svc.Stats().Dropped)
	assert.Empty(t, pub.snapshot())
}

func TestNotificationService_PublishFailureIsCounted(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker unavailable")}
	svc := NewNotificationService(pub, crypto.NewSigner("secret", nil), NotificationOptions{
		Workers: 1, Logger: quietLogger(),
	})

	svc.Notify(context.Background(), domain.Notice{Kind: domain.NoticeEventRecorded, SubjectID: "e1"})

	require.Eventually(t, func() bool { return svc.Stats().Failed == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Shutdown(context.Background()))
	require.NoError(t, svc.Shutdown(context.Background()))
}

func TestNotificationService_ShutdownDrainsQueue(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewNotificationService(pub, crypto.NewSigner("secret", nil), NotificationOptions{
		Workers: 0, QueueSize: 10, Logger: quietLogger(),
	})
	for i := 0; i < 3; i++ {
		svc.Notify(context.Background(), domain.Notice{Kind: domain.NoticeEventDeleted, SubjectID: strconv.Itoa(i)})
	}

	// A worker started after the fact still drains on shutdown.
	svc.workers = 1
	svc.startWorkers()
	require.NoError(t, svc.Shutdown(context.Background()))

	assert.Len(t, pub.snapshot(), 3)
}

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher(quietLogger())
	assert.NoError(t, p.Publish(context.Background(), "t", "k", []byte("{}"), map[string]string{HeaderKind: "x"}))
}
