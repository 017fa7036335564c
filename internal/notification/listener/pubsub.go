package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"famnet-backend/internal/notification/domain"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrTopicMissing   = errors.New("pubsub topic does not exist")
)

// Dispatcher accepts decoded events. *usecase.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(e domain.Event) error
}

// Service receives social events from Pub/Sub and hands them to the dispatcher.
type Service struct {
	pubsubClient *pubsub.Client
	dispatcher   Dispatcher
	topicName    string
	subName      string
	logger       *zap.Logger
}

func NewService(ctx context.Context, projectID, topicName, subName, credentialsFile string, dispatcher Dispatcher, logger *zap.Logger) (*Service, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	if subName == "" {
		subName = topicName + "-sub"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		pubsubClient: client,
		dispatcher:   dispatcher,
		topicName:    topicName,
		subName:      subName,
		logger:       logger,
	}, nil
}

// Start blocks receiving messages until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("starting event listener", zap.String("topic", s.topicName), zap.String("subscription", s.subName))

	sub, err := s.ensureSubscription(ctx)
	if err != nil {
		return err
	}

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		// Acked unconditionally so bad payloads are not redelivered.
		s.handleMessage(msg.ID, msg.Data)
		msg.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receive: %w", err)
	}
	s.logger.Info("event listener stopped")
	return nil
}

func (s *Service) Close() error {
	return s.pubsubClient.Close()
}

func (s *Service) ensureSubscription(ctx context.Context) (*pubsub.Subscription, error) {
	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription %s: %w", s.subName, err)
	}
	if exists {
		return sub, nil
	}

	topic := s.pubsubClient.Topic(s.topicName)
	topicExists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %s: %w", s.topicName, err)
	}
	if !topicExists {
		return nil, fmt.Errorf("%w: %s", ErrTopicMissing, s.topicName)
	}

	sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription %s: %w", s.subName, err)
	}
	s.logger.Info("created subscription", zap.String("subscription", s.subName))
	return sub, nil
}

func (s *Service) handleMessage(messageID string, data []byte) {
	e, err := DecodeEvent(data)
	if err != nil {
		s.logger.Warn("dropping message", zap.String("message_id", messageID), zap.Error(err))
		return
	}
	if e.ID == "" {
		e.ID = messageID
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	if err := s.dispatcher.Dispatch(e); err != nil {
		s.logger.Error("failed to dispatch event", zap.String("event_id", e.ID), zap.String("type", string(e.Type)), zap.Error(err))
		return
	}
	s.logger.Debug("event received", zap.String("event_id", e.ID), zap.String("type", string(e.Type)))
}

// DecodeEvent parses and validates one message payload.
func DecodeEvent(data []byte) (domain.Event, error) {
	var e domain.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return domain.Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	t, ok := domain.ParseEventType(string(e.Type))
	if !ok {
		return domain.Event{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, e.Type)
	}
	e.Type = t

	e.ActorID = strings.TrimSpace(e.ActorID)
	e.TargetID = strings.TrimSpace(e.TargetID)
	if e.ActorID == "" || e.TargetID == "" {
		return domain.Event{}, fmt.Errorf("%w: actorId and targetId are required", ErrMalformedEvent)
	}
	return e, nil
}
