package push

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/alexitico1989/gruapp-sub003/internal/models"
)

// FCMDispatcher posts events to an FCM HTTPv1 endpoint so disconnected or
// backgrounded clients still hear about correctness-sensitive changes.
// Strictly fire-and-forget: delivery is the provider's problem.
type FCMDispatcher struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewFCMDispatcher(endpoint, key string) *FCMDispatcher {
	return &FCMDispatcher{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMDispatcher) Send(userID string, ev models.NotificationEvent) {
	body := map[string]interface{}{"message": map[string]interface{}{
		"token": userID,
		"data": map[string]interface{}{
			"kind":       string(ev.Kind),
			"request_id": ev.RequestID,
			"event_id":   ev.ID,
		},
	}}
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest("POST", f.Endpoint, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}
