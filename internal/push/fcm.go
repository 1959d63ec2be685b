package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultFCMTimeout = 5 * time.Second

// FCMConfig configures the Firebase Cloud Messaging sender.
type FCMConfig struct {
	Endpoint   string
	ServerKey  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// FCMSender posts notifications to the FCM HTTP endpoint.
type FCMSender struct {
	endpoint  string
	serverKey string
	client    *http.Client
}

type fcmRequest struct {
	To           string            `json:"to"`
	Priority     string            `json:"priority"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Sound string `json:"sound"`
}

type fcmResponse struct {
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

// NewFCMSender validates the configuration and constructs the sender.
func NewFCMSender(cfg FCMConfig) (*FCMSender, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("push: fcm endpoint is required")
	}
	serverKey := strings.TrimSpace(cfg.ServerKey)
	if serverKey == "" {
		return nil, errors.New("push: fcm server key is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultFCMTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &FCMSender{endpoint: endpoint, serverKey: serverKey, client: client}, nil
}

// Send implements Sender.
func (s *FCMSender) Send(ctx context.Context, token string, message Message) error {
	payload, err := json.Marshal(fcmRequest{
		To:       token,
		Priority: "high",
		Notification: fcmNotification{
			Title: message.Title,
			Body:  message.Body,
			Sound: "default",
		},
		Data: message.Data,
	})
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "key="+s.serverKey)

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("push: fcm request: %w", err)
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode == http.StatusNotFound || response.StatusCode == http.StatusGone:
		return ErrUnregisteredToken
	case response.StatusCode >= http.StatusBadRequest:
		body, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return fmt.Errorf("push: fcm status %d: %s", response.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded fcmResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("push: decode fcm response: %w", err)
	}
	for _, result := range decoded.Results {
		switch result.Error {
		case "":
		case "NotRegistered", "InvalidRegistration", "UNREGISTERED":
			return ErrUnregisteredToken
		default:
			return fmt.Errorf("push: fcm rejected message: %s", result.Error)
		}
	}
	return nil
}
