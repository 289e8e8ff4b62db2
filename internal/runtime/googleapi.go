// internal/runtime/googleapi.go: Gmail service adapter
package runtime

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	gc "github.com/google/mail-importer/internal/gmail"
	"github.com/google/mail-importer/internal/rate"
)

// GoogleClient implements gc.Client on the generated Gmail service. Every
// call is retried with the backoff policy on transient failures; calls the
// batch executor does not wrap also retry on 429.
type GoogleClient struct {
	svc    *gmail.Service
	user   string
	policy rate.Policy
	logger *slog.Logger
}

func NewGoogleAPIClient(svc *gmail.Service, user string, policy rate.Policy, logger *slog.Logger) *GoogleClient {
	if user == "" {
		user = "me"
	}
	if logger == nil {
		logger = DefaultLogger()
	}
	return &GoogleClient{svc: svc, user: user, policy: policy, logger: logger}
}

func transientOrThrottled(err error) bool {
	return gc.IsTransient(err) || gc.IsThrottled(err)
}

func retry[T any](ctx context.Context, g *GoogleClient, what string, retryable func(error) bool, op func() (T, error)) (T, error) {
	attempt := 0
	return rate.Retry(ctx, g.policy, retryable, func() (T, error) {
		attempt++
		v, err := op()
		if err != nil && retryable(err) {
			g.logger.Debug("retrying gmail call", "call", what, "attempt", attempt, "error", err)
		}
		return v, err
	})
}

func (g *GoogleClient) ListLabels(ctx context.Context) ([]gc.Label, error) {
	lr, err := retry(ctx, g, "labels.list", transientOrThrottled, func() (*gmail.ListLabelsResponse, error) {
		return g.svc.Users.Labels.List(g.user).Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}
	out := make([]gc.Label, 0, len(lr.Labels))
	for _, l := range lr.Labels {
		out = append(out, gc.Label{ID: gc.LabelID(l.Id), Name: l.Name, Type: l.Type})
	}
	return out, nil
}

func (g *GoogleClient) CreateLabel(ctx context.Context, name string) (gc.Label, error) {
	created, err := retry(ctx, g, "labels.create", transientOrThrottled, func() (*gmail.Label, error) {
		return g.svc.Users.Labels.Create(g.user, &gmail.Label{
			Name:                  name,
			LabelListVisibility:   "labelHide",
			MessageListVisibility: "show",
		}).Context(ctx).Do()
	})
	if err != nil {
		return gc.Label{}, fmt.Errorf("create label %q: %w", name, err)
	}
	return gc.Label{ID: gc.LabelID(created.Id), Name: created.Name, Type: created.Type}, nil
}

func (g *GoogleClient) SearchByMessageID(ctx context.Context, rfc822ID string) ([]gc.MessageID, error) {
	res, err := retry(ctx, g, "messages.list", gc.IsTransient, func() (*gmail.ListMessagesResponse, error) {
		return g.svc.Users.Messages.List(g.user).
			Q("rfc822msgid:" + rfc822ID).
			Fields(googleapi.Field("messages(id)")).
			Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}
	ids := make([]gc.MessageID, 0, len(res.Messages))
	for _, m := range res.Messages {
		ids = append(ids, gc.MessageID(m.Id))
	}
	return ids, nil
}

func (g *GoogleClient) GetLabels(ctx context.Context, id gc.MessageID) ([]gc.LabelID, error) {
	msg, err := retry(ctx, g, "messages.get", gc.IsTransient, func() (*gmail.Message, error) {
		return g.svc.Users.Messages.Get(g.user, string(id)).
			Format("minimal").
			Fields(googleapi.Field("id,labelIds")).
			Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}
	if msg.Id != string(id) {
		return nil, fmt.Errorf("get %s: response for %s", id, msg.Id)
	}
	return toLabelIDs(msg.LabelIds), nil
}

func (g *GoogleClient) Import(ctx context.Context, raw []byte) (gc.MessageID, error) {
	msg, err := retry(ctx, g, "messages.import", transientOrThrottled, func() (*gmail.Message, error) {
		return g.svc.Users.Messages.Import(g.user, &gmail.Message{}).
			Media(bytes.NewReader(raw), googleapi.ContentType("message/rfc822")).
			Context(ctx).Do()
	})
	if err != nil {
		return "", gc.ClassifyImport(err)
	}
	return gc.MessageID(msg.Id), nil
}

func (g *GoogleClient) Modify(ctx context.Context, id gc.MessageID, ops gc.ModifyOps) error {
	if ops.Empty() {
		return nil
	}
	req := &gmail.ModifyMessageRequest{}
	if len(ops.AddLabels) > 0 {
		req.AddLabelIds = toStrings(ops.AddLabels)
	}
	if len(ops.RemoveLabels) > 0 {
		req.RemoveLabelIds = toStrings(ops.RemoveLabels)
	}
	_, err := retry(ctx, g, "messages.modify", gc.IsTransient, func() (*gmail.Message, error) {
		return g.svc.Users.Messages.Modify(g.user, string(id), req).Context(ctx).Do()
	})
	return err
}

func toStrings(ids []gc.LabelID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func toLabelIDs(ids []string) []gc.LabelID {
	out := make([]gc.LabelID, len(ids))
	for i, id := range ids {
		out[i] = gc.LabelID(id)
	}
	return out
}

var _ gc.Client = (*GoogleClient)(nil)
