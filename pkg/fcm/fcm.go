package fcm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"famnet-backend/pkg/logger"
)

// DefaultTTL is how long FCM keeps an undelivered message.
const DefaultTTL = 300 * time.Second

// maxMulticastTokens is the FCM limit for one SendEachForMulticast call.
const maxMulticastTokens = 500

var (
	ErrNotInitialized = errors.New("push client not initialized")
	ErrEmptyToken     = errors.New("push token is required")
)

// Sender is the part of *messaging.Client the delivery client needs.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
	SendDryRun(ctx context.Context, message *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Options tunes message construction and error classification.
type Options struct {
	TTL time.Duration
	// LinkBaseURL is prefixed to the click target to build the web push link.
	// FCM only accepts https links, so other values disable the link.
	LinkBaseURL string
	Icon        string
	// IsInvalidToken decides whether a provider error means the token is dead.
	IsInvalidToken func(error) bool
	Logger         *zap.Logger
}

// Client wraps Firebase Cloud Messaging. A nil *Client is usable and reports
// every send as not initialized.
type Client struct {
	sender         Sender
	ttl            time.Duration
	linkBaseURL    string
	icon           string
	isInvalidToken func(error) bool
	logger         *zap.Logger
}

// NewClient creates a new FCM client using the provided credentials file
func NewClient(ctx context.Context, credentialsFile string, opts Options) (*Client, error) {
	var clientOpts []option.ClientOption
	if credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	messagingClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}

	c := NewClientWithSender(messagingClient, opts)
	c.logger.Info("client initialized")
	return c, nil
}

// NewClientWithSender builds a Client around an already initialized sender.
func NewClientWithSender(sender Sender, opts Options) *Client {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Icon == "" {
		opts.Icon = "/icon-192.png"
	}
	if opts.IsInvalidToken == nil {
		opts.IsInvalidToken = IsInvalidTokenError
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("fcm")
	}
	return &Client{
		sender:         sender,
		ttl:            opts.TTL,
		linkBaseURL:    strings.TrimRight(opts.LinkBaseURL, "/"),
		icon:           opts.Icon,
		isInvalidToken: opts.IsInvalidToken,
		logger:         opts.Logger,
	}
}

// IsInvalidTokenError reports whether err says the registration token can no longer be used.
// INVALID_ARGUMENT also covers malformed messages (oversized payload, bad link), so it only
// counts when the provider names the registration token as the bad argument.
func IsInvalidTokenError(err error) bool {
	if err == nil {
		return false
	}
	if messaging.IsUnregistered(err) {
		return true
	}
	return messaging.IsInvalidArgument(err) && strings.Contains(strings.ToLower(err.Error()), "registration token")
}

// NotificationData contains the data to send in a push notification
type NotificationData struct {
	Title    string
	Body     string
	ImageURL string
	// Data values must be strings; FCM rejects anything else.
	Data map[string]string
	// ClickAction is the app path opened when the notification is clicked.
	ClickAction string
}

// Result is the outcome of sending to one token.
type Result struct {
	Success      bool   `json:"success"`
	MessageID    string `json:"messageId,omitempty"`
	InvalidToken bool   `json:"invalidToken,omitempty"`
	Error        string `json:"error,omitempty"`
	// Err is the underlying failure, for errors.Is checks such as ErrNotInitialized.
	Err error `json:"-"`
}

// Cause returns the failure as an error, or nil for a successful send.
func (r Result) Cause() error {
	switch {
	case r.Err != nil:
		return r.Err
	case r.Error != "":
		return errors.New(r.Error)
	case !r.Success:
		return errors.New("push send failed")
	}
	return nil
}

// BatchResult aggregates a multicast send.
type BatchResult struct {
	Success       bool     `json:"success"`
	SuccessCount  int      `json:"successCount"`
	FailureCount  int      `json:"failureCount"`
	InvalidTokens []string `json:"invalidTokens,omitempty"`
	Results       []Result `json:"results"`
	Error         string   `json:"error,omitempty"`
}

func failure(err error) Result {
	return Result{Success: false, Error: err.Error(), Err: err}
}

func (c *Client) ready() bool {
	return c != nil && c.sender != nil
}

// SendOne sends a push notification to a specific device token
func (c *Client) SendOne(ctx context.Context, token string, notification NotificationData) Result {
	if !c.ready() {
		return failure(ErrNotInitialized)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return failure(ErrEmptyToken)
	}

	id, err := c.sender.Send(ctx, c.message(token, notification))
	if err != nil {
		res := c.classify(err)
		c.logger.Warn("send failed", logger.Token(token), zap.Bool("invalid_token", res.InvalidToken), zap.Error(err))
		return res
	}

	c.logger.Debug("message sent", zap.String("message_id", id))
	return Result{Success: true, MessageID: id}
}

// ValidateToken performs a dry-run send so a stale token can be detected
// without anything reaching the device.
func (c *Client) ValidateToken(ctx context.Context, token string) Result {
	if !c.ready() {
		return failure(ErrNotInitialized)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return failure(ErrEmptyToken)
	}

	id, err := c.sender.SendDryRun(ctx, c.message(token, NotificationData{Title: "validate"}))
	if err != nil {
		return c.classify(err)
	}
	return Result{Success: true, MessageID: id}
}

// SendBatch sends a push notification to multiple device tokens. Blank tokens are
// dropped; token lists over the FCM multicast limit are split into several calls.
func (c *Client) SendBatch(ctx context.Context, tokens []string, notification NotificationData) BatchResult {
	if !c.ready() {
		return BatchResult{Success: false, Results: []Result{}, Error: ErrNotInitialized.Error()}
	}

	valid := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		return BatchResult{Success: true, Results: []Result{}}
	}

	out := BatchResult{Success: true, Results: make([]Result, 0, len(valid))}
	for start := 0; start < len(valid); start += maxMulticastTokens {
		end := start + maxMulticastTokens
		if end > len(valid) {
			end = len(valid)
		}
		chunk := valid[start:end]

		response, err := c.sender.SendEachForMulticast(ctx, c.multicast(chunk, notification))
		if err != nil {
			c.logger.Error("multicast failed", zap.Int("tokens", len(chunk)), zap.Error(err))
			out.Success = false
			out.Error = err.Error()
			out.FailureCount += len(chunk)
			for range chunk {
				out.Results = append(out.Results, failure(err))
			}
			continue
		}

		for i, resp := range response.Responses {
			if i >= len(chunk) {
				break
			}
			if resp.Success {
				out.SuccessCount++
				out.Results = append(out.Results, Result{Success: true, MessageID: resp.MessageID})
				continue
			}
			out.FailureCount++
			res := Result{Success: false}
			if resp.Error != nil {
				res = c.classify(resp.Error)
			}
			if res.InvalidToken {
				out.InvalidTokens = append(out.InvalidTokens, chunk[i])
			}
			out.Results = append(out.Results, res)
		}
	}

	c.logger.Info("multicast sent",
		zap.Int("success", out.SuccessCount),
		zap.Int("failure", out.FailureCount),
		zap.Int("invalid_tokens", len(out.InvalidTokens)),
	)
	return out
}

func (c *Client) classify(err error) Result {
	return Result{Success: false, InvalidToken: c.isInvalidToken(err), Error: err.Error(), Err: err}
}

func (c *Client) message(token string, n NotificationData) *messaging.Message {
	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title:    n.Title,
			Body:     n.Body,
			ImageURL: n.ImageURL,
		},
		Data:    n.Data,
		Webpush: c.webpush(n),
	}
}

func (c *Client) multicast(tokens []string, n NotificationData) *messaging.MulticastMessage {
	return &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title:    n.Title,
			Body:     n.Body,
			ImageURL: n.ImageURL,
		},
		Data:    n.Data,
		Webpush: c.webpush(n),
	}
}

func (c *Client) webpush(n NotificationData) *messaging.WebpushConfig {
	cfg := &messaging.WebpushConfig{
		Headers: map[string]string{
			"TTL": strconv.Itoa(int(c.ttl / time.Second)),
		},
		Notification: &messaging.WebpushNotification{
			Title: n.Title,
			Body:  n.Body,
			Icon:  c.icon,
		},
	}
	if link := c.link(n.ClickAction); link != "" {
		cfg.FCMOptions = &messaging.WebpushFCMOptions{Link: link}
	}
	return cfg
}

func (c *Client) link(target string) string {
	if target == "" || !strings.HasPrefix(c.linkBaseURL, "https://") {
		return ""
	}
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	return c.linkBaseURL + target
}
