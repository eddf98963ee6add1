package push

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// fcmBatchLimit is the most messages SendEach accepts per call.
const fcmBatchLimit = 500

type fcmClient interface {
	SendEach(ctx context.Context, messages []*messaging.Message) (*messaging.BatchResponse, error)
}

// FCMTransport sends through Firebase Cloud Messaging.
type FCMTransport struct {
	client fcmClient
	logger *slog.Logger
}

// NewFCMTransport creates a Firebase app for projectID. credentials may
// be a service-account JSON document, the same base64-encoded, or a file
// path. Empty credentials use the application default.
func NewFCMTransport(ctx context.Context, projectID, credentials string, logger *slog.Logger) (*FCMTransport, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, credentialOptions(credentials)...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	return newFCMTransport(client, logger), nil
}

func newFCMTransport(client fcmClient, logger *slog.Logger) *FCMTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &FCMTransport{client: client, logger: logger}
}

func credentialOptions(cred string) []option.ClientOption {
	cred = strings.TrimSpace(cred)
	if cred == "" {
		return nil
	}
	if strings.HasPrefix(cred, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(cred))}
	}
	if decoded, err := base64.StdEncoding.DecodeString(cred); err == nil && strings.HasPrefix(strings.TrimSpace(string(decoded)), "{") {
		return []option.ClientOption{option.WithCredentialsJSON(decoded)}
	}
	return []option.ClientOption{option.WithCredentialsFile(cred)}
}

// Send implements Transport. Per-token failures are counted in the
// report; only a failed call returns an error.
func (t *FCMTransport) Send(ctx context.Context, msgs []Message) (Report, error) {
	var rep Report
	var errs []error
	for start := 0; start < len(msgs); start += fcmBatchLimit {
		end := min(start+fcmBatchLimit, len(msgs))
		batch := msgs[start:end]

		resp, err := t.client.SendEach(ctx, toFCM(batch))
		if err != nil {
			rep.Failed += len(batch)
			for _, m := range batch {
				rep.FailedTokens = append(rep.FailedTokens, m.Token)
			}
			errs = append(errs, fmt.Errorf("fcm send: %w", err))
			continue
		}
		rep.Sent += resp.SuccessCount
		rep.Failed += resp.FailureCount
		for i, r := range resp.Responses {
			if r == nil || r.Success || i >= len(batch) {
				continue
			}
			rep.FailedTokens = append(rep.FailedTokens, batch[i].Token)
			t.logger.Warn("fcm delivery failed", "token", batch[i].Token, "error", r.Error)
		}
	}
	return rep, errors.Join(errs...)
}

func toFCM(msgs []Message) []*messaging.Message {
	out := make([]*messaging.Message, len(msgs))
	for i, m := range msgs {
		out[i] = &messaging.Message{
			Token:        m.Token,
			Notification: &messaging.Notification{Title: m.Title, Body: m.Body},
			Data:         m.Data,
			Android:      &messaging.AndroidConfig{Priority: "high"},
		}
	}
	return out
}
