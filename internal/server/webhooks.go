package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"stakeline/internal/config"
	"stakeline/internal/domain"
	"stakeline/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// webhookDispatcher tails the activity feed and posts each record to the
// configured endpoints. Each webhook keeps its own cursor so a slow
// endpoint never loses records, only lags.
type webhookDispatcher struct {
	engine   engine.Engine
	webhooks []config.Webhook
	client   *http.Client
	mu       sync.Mutex
	cursors  map[int]int64
}

func startWebhookDispatcher(e engine.Engine) {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return
	}
	d := &webhookDispatcher{
		engine:   e,
		webhooks: e.Config.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[int]int64),
	}
	go d.run()
}

func (d *webhookDispatcher) run() {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll()
		<-ticker.C
	}
}

func (d *webhookDispatcher) dispatchAll() {
	for i, hook := range d.webhooks {
		if hook.Disabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(i, hook)
	}
}

func (d *webhookDispatcher) dispatchWebhook(idx int, hook config.Webhook) {
	ctx := context.Background()
	cursor := d.cursorFor(idx)
	activities, err := d.engine.Repo.ActivitiesAfter(ctx, cursor, defaultWebhookBatch)
	if err != nil {
		log.Printf("webhook: fetch activities failed: %v", err)
		return
	}
	for _, act := range activities {
		if !hook.Matches(act.ActivityType) {
			d.setCursor(idx, act.ID)
			continue
		}
		if err := d.postActivity(ctx, hook, act); err != nil {
			log.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
			return
		}
		d.setCursor(idx, act.ID)
	}
}

// cursorFor starts a fresh webhook at the feed's tail so enabling one
// does not replay the whole history.
func (d *webhookDispatcher) cursorFor(idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.engine.Repo.LatestActivityID(context.Background())
	if err != nil {
		log.Printf("webhook: init cursor failed: %v", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *webhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookActivity struct {
	ID            int64           `json:"id"`
	Type          string          `json:"type"`
	UserID        string          `json:"user_id"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	IsPublic      bool            `json:"is_public"`
	TS            string          `json:"ts"`
	Metadata      json.RawMessage `json:"metadata"`
}

func (d *webhookDispatcher) postActivity(ctx context.Context, hook config.Webhook, act domain.Activity) error {
	metadata := json.RawMessage([]byte("{}"))
	if act.Metadata != "" && json.Valid([]byte(act.Metadata)) {
		metadata = json.RawMessage([]byte(act.Metadata))
	}
	body := webhookActivity{
		ID:            act.ID,
		Type:          act.ActivityType,
		UserID:        act.UserID,
		ReferenceType: act.ReferenceType,
		ReferenceID:   act.ReferenceID,
		IsPublic:      act.IsPublic,
		TS:            act.CreatedAt,
		Metadata:      metadata,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Stakeline-Activity", act.ActivityType)
	req.Header.Set("X-Stakeline-Delivery", fmt.Sprintf("%d", act.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Stakeline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}
