package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/finchops/finch/internal/idgen"
	"github.com/finchops/finch/internal/model"
	"github.com/finchops/finch/internal/store"
)

// webhookClient bounds outbound webhook calls independently of the rule
// budget so a dead endpoint cannot eat the whole event's budget by itself.
var webhookClient = &http.Client{Timeout: 5 * time.Second}

// Actions returns the built-in action executors.
//
//   - webhook: POST the event as JSON to params["url"].
//   - notify_user: write one notification row to params["user_id"] with
//     params["title"] and params["body"].
//   - log: emit a structured log line with params["message"].
func Actions(s store.Store, log *slog.Logger) map[model.ActionType]ActionFunc {
	return map[model.ActionType]ActionFunc{
		model.ActionWebhook: func(ctx context.Context, e *model.Event, a model.Action) error {
			url := a.Params["url"]
			if url == "" {
				return fmt.Errorf("webhook action missing url param")
			}
			payload, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encoding event: %w", err)
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := webhookClient.Do(req)
			if err != nil {
				return fmt.Errorf("posting webhook: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 300 {
				return fmt.Errorf("webhook %s returned %s", url, resp.Status)
			}
			return nil
		},

		model.ActionNotifyUser: func(ctx context.Context, e *model.Event, a model.Action) error {
			userID := a.Params["user_id"]
			if userID == "" {
				return fmt.Errorf("notify_user action missing user_id param")
			}
			title := a.Params["title"]
			if title == "" {
				title = "Workflow Rule Triggered"
			}
			body := a.Params["body"]
			if body == "" {
				body = fmt.Sprintf("Rule matched %s for %s.", e.Key(), e.EntityID)
			}
			return s.CreateNotification(ctx, &model.Notification{
				ID:         idgen.MustGenerate(idgen.PrefixNotification),
				OrgID:      e.OrgID,
				UserID:     userID,
				Title:      title,
				Body:       body,
				EntityType: e.EntityType,
				EntityID:   e.EntityID,
				CreatedAt:  time.Now().UTC(),
			})
		},

		model.ActionLog: func(ctx context.Context, e *model.Event, a model.Action) error {
			log.Info("workflow rule action",
				"message", a.Params["message"], "org_id", e.OrgID, "key", e.Key(), "entity_id", e.EntityID)
			return nil
		},
	}
}
