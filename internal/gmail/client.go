package gmail

import "context"

// Client is the narrow Gmail surface required by the importer.
type Client interface {
	ListLabels(ctx context.Context) ([]Label, error)
	CreateLabel(ctx context.Context, name string) (Label, error)
	SearchByMessageID(ctx context.Context, rfc822ID string) ([]MessageID, error)
	GetLabels(ctx context.Context, id MessageID) ([]LabelID, error)
	Import(ctx context.Context, raw []byte) (MessageID, error)
	Modify(ctx context.Context, id MessageID, ops ModifyOps) error
}
