package store

import "time"

type Visibility string

const (
	VisibilityShow Visibility = "show"
	VisibilityHide Visibility = "hide"
)

type Behaviors struct {
	Encourage []string `json:"encourage"`
	Ban       []string `json:"ban"`
}

func DefaultBehaviors() Behaviors {
	return Behaviors{
		Encourage: []string{"1. Be polite"},
		Ban:       []string{"1. Disrespectful content"},
	}
}

type Community struct {
	ID        int64
	Name      string
	Flags     []string
	Behaviors Behaviors
	// BridgeIDs is empty for a plain community and holds exactly two
	// community ids for a bridge.
	BridgeIDs []int64
	CreatedAt time.Time
}

func (c Community) IsBridge() bool { return len(c.BridgeIDs) > 0 }

type Membership struct {
	ID          int64
	PersonaID   int64
	CommunityID int64
	CreatedAt   time.Time
}

type PatchMode string

const (
	PatchGrant  PatchMode = "grant"
	PatchRevoke PatchMode = "revoke"
)

type Patch struct {
	MembershipID int64
	Permission   string
	Mode         PatchMode
}

type Post struct {
	ID          int64
	CommunityID int64
	AuthorID    int64
	Text        string
	Removed     bool
	// Visibility only holds communities that have had a dispute against
	// this post.
	Visibility       map[int64]Visibility
	ProcessingStatus string
	CreatedAt        time.Time
}

type PromptStatus string

const (
	PromptEligible PromptStatus = "eligible"
	PromptUsed     PromptStatus = "used"
	PromptRemoved  PromptStatus = "removed"
)

type Prompt struct {
	ID          int64
	CommunityID int64
	Text        string
	Priority    int
	Status      PromptStatus
	CreatedAt   time.Time
}

type Round struct {
	ID                  int64
	CommunityID         int64
	PromptID            int64
	CreationTime        time.Time
	StartTime           *time.Time
	CompletionTime      *time.Time
	EndTime             *time.Time
	StartNotifSent      bool
	CompletionNotifSent bool
}

type RoundNotification string

const (
	NotifyStarted RoundNotification = "started"
	NotifyClosed  RoundNotification = "closed"
)

type DisputeStatus string

const (
	DisputePending  DisputeStatus = "pending"
	DisputeResolved DisputeStatus = "resolved"
)

// ContentKind tags a dispute as raised against one community's policy or
// against a bridge's shared policy.
type ContentKind string

const (
	ContentSingle  ContentKind = "a"
	ContentBridged ContentKind = "ab"
)

type Reason struct {
	Comment string   `json:"report_comment,omitempty"`
	Hits    []string `json:"hits,omitempty"`
}

type DisputeMetadata struct {
	Kind        ContentKind `json:"ctype"`
	Reason      Reason      `json:"reason"`
	CommunityID int64       `json:"cid"`
}

type Action string

const (
	ActionRelease Action = "release"
	ActionRemove  Action = "remove"
)

func (a Action) Valid() bool {
	return a == ActionRelease || a == ActionRemove
}

type ReviewAction struct {
	Action     Action            `json:"action"`
	SubActions map[string]string `json:"sub_actions,omitempty"`
}

type Dispute struct {
	ID         int64
	PostID     int64
	DisputerID int64
	Status     DisputeStatus
	// Outcome is empty until the dispute resolves.
	Outcome    Action
	Metadata   DisputeMetadata
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

type ReviewStatus string

const (
	ReviewRequested ReviewStatus = "requested"
	ReviewPending   ReviewStatus = "pending"
	ReviewResolved  ReviewStatus = "resolved"
)

type Review struct {
	ID         int64
	DisputeID  int64
	ReviewerID int64
	Status     ReviewStatus
	Submission *ReviewAction
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

type DisputeFilter struct {
	CommunityID int64
	PostID      int64
	Status      DisputeStatus
}
