// internal/gmail/types.go
package gmail

type MessageID string
type LabelID string

// System label ids. Gmail uses the name as the id for these.
const (
	LabelInbox   LabelID = "INBOX"
	LabelSpam    LabelID = "SPAM"
	LabelTrash   LabelID = "TRASH"
	LabelStarred LabelID = "STARRED"
	LabelUnread  LabelID = "UNREAD"
)

// Label is a name/id pair as returned by the labels endpoint.
type Label struct {
	ID   LabelID
	Name string
	Type string // "system" or "user"
}

type ModifyOps struct {
	AddLabels    []LabelID
	RemoveLabels []LabelID
}

// Empty reports whether the modification would send no label changes.
func (o ModifyOps) Empty() bool {
	return len(o.AddLabels) == 0 && len(o.RemoveLabels) == 0
}
