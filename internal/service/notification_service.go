package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/pkg/crypto"
)

const (
	DefaultQueueSize      = 1000
	DefaultPublishTimeout = 5 * time.Second

	HeaderKind = "x-ledger-kind"
	HeaderAt   = "x-ledger-at"
)

// Publisher delivers one signed notice payload. internal/events/kafka and
// LogPublisher implement it.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error
}

type NotificationStats struct {
	Published uint64
	Failed    uint64
	Dropped   uint64
}

// NotificationService fans ledger notices out to a publisher from a pool of
// workers. Notify never blocks: a full queue drops the notice.
type NotificationService struct {
	publisher    Publisher
	signer       *crypto.Signer
	topic        string
	timeout      time.Duration
	messageQueue chan domain.Notice
	workers      int
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
	logger       *slog.Logger

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

type NotificationOptions struct {
	Topic          string
	Workers        int
	QueueSize      int
	PublishTimeout time.Duration
	Logger         *slog.Logger
}

func NewNotificationService(publisher Publisher, signer *crypto.Signer, opts NotificationOptions) *NotificationService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}

	service := &NotificationService{
		publisher:    publisher,
		signer:       signer,
		topic:        opts.Topic,
		timeout:      opts.PublishTimeout,
		messageQueue: make(chan domain.Notice, opts.QueueSize),
		workers:      opts.Workers,
		shutdownChan: make(chan struct{}),
		logger:       logger,
	}

	service.startWorkers()

	return service
}

// Notify implements ledger.Notifier.
func (s *NotificationService) Notify(ctx context.Context, notice domain.Notice) {
	select {
	case <-s.shutdownChan:
		s.drop(notice, "service stopped")
		return
	default:
	}

	select {
	case s.messageQueue <- notice:
		s.logger.Debug("Notice queued",
			slog.String("kind", string(notice.Kind)),
			slog.String("subject_id", notice.SubjectID))
	default:
		s.drop(notice, "queue full")
	}
}

func (s *NotificationService) drop(notice domain.Notice, reason string) {
	s.dropped.Add(1)
	s.logger.Warn("Notice dropped",
		slog.String("kind", string(notice.Kind)),
		slog.String("subject_id", notice.SubjectID),
		slog.String("reason", reason))
}

func (s *NotificationService) Stats() NotificationStats {
	return NotificationStats{
		Published: s.published.Load(),
		Failed:    s.failed.Load(),
		Dropped:   s.dropped.Load(),
	}
}

func (s *NotificationService) startWorkers() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *NotificationService) worker(id int) {
	defer s.wg.Done()

	s.logger.Info("Notification worker started", slog.Int("worker_id", id))

	for {
		select {
		case notice := <-s.messageQueue:
			s.processNotice(notice, id)
		case <-s.shutdownChan:
			s.drain(id)
			s.logger.Info("Notification worker stopping", slog.Int("worker_id", id))
			return
		}
	}
}

// drain publishes what is already queued before the worker exits.
func (s *NotificationService) drain(workerID int) {
	for {
		select {
		case notice := <-s.messageQueue:
			s.processNotice(notice, workerID)
		default:
			return
		}
	}
}

func (s *NotificationService) processNotice(notice domain.Notice, workerID int) {
	startTime := time.Now()

	if notice.At.IsZero() {
		notice.At = startTime.UTC()
	}
	payload, err := json.Marshal(notice)
	if err != nil {
		s.failed.Add(1)
		s.logger.Error("Failed to encode notice",
			slog.String("kind", string(notice.Kind)),
			slog.String("error", err.Error()))
		return
	}

	at := notice.At.UnixNano()
	headers := map[string]string{
		HeaderKind:             string(notice.Kind),
		HeaderAt:               strconv.FormatInt(at, 10),
		crypto.SignatureHeader: s.signer.SignNotice(string(notice.Kind), at, payload),
	}
	key := notice.OwnerID
	if key == "" {
		key = notice.SubjectID
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	err = s.publisher.Publish(ctx, s.topic, key, payload, headers)

	duration := time.Since(startTime)

	if err != nil {
		s.failed.Add(1)
		s.logger.Error("Failed to publish notice",
			slog.String("kind", string(notice.Kind)),
			slog.String("subject_id", notice.SubjectID),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
			slog.Duration("duration", duration))
		return
	}

	s.published.Add(1)
	s.logger.Debug("Notice published",
		slog.String("kind", string(notice.Kind)),
		slog.String("subject_id", notice.SubjectID),
		slog.Int("worker_id", workerID),
		slog.Duration("duration", duration))
}

func (s *NotificationService) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() { close(s.shutdownChan) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		stats := s.Stats()
		s.logger.Info("Notification service shutdown complete",
			slog.Uint64("published", stats.Published),
			slog.Uint64("failed", stats.Failed),
			slog.Uint64("dropped", stats.Dropped))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogPublisher writes notices to the log. It stands in for a broker when
// none is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error {
	p.logger.InfoContext(ctx, "Ledger notice",
		slog.String("topic", topic),
		slog.String("key", key),
		slog.String("kind", headers[HeaderKind]),
		slog.String("payload", string(payload)))
	return nil
}
