package models

import (
	"encoding/json"
	"fmt"
)

// MessageContent is the closed union of message bodies.
type MessageContent interface {
	ContentKind() string
}

type wireContent struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

func encodeContent(c MessageContent) (wireContent, error) {
	if c == nil {
		return wireContent{}, fmt.Errorf("nil content")
	}
	if u, ok := c.(*UnsupportedContent); ok {
		return wireContent{Kind: u.RawKind, Data: u.Raw}, nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return wireContent{}, fmt.Errorf("marshal %s content: %w", c.ContentKind(), err)
	}
	return wireContent{Kind: c.ContentKind(), Data: data}, nil
}

// DecodeContent parses a wire-encoded content envelope ({"kind","data"}).
// Unknown kinds come back as *UnsupportedContent rather than an error.
func DecodeContent(b []byte) (MessageContent, error) {
	var w wireContent
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, err
	}
	if w.Kind == "" {
		return nil, fmt.Errorf("content kind missing")
	}
	return decodeContent(w)
}

// EncodeContent renders content into its wire envelope.
func EncodeContent(c MessageContent) ([]byte, error) {
	w, err := encodeContent(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func decodeContent(w wireContent) (MessageContent, error) {
	mk, ok := contentDecoders[w.Kind]
	if !ok {
		return &UnsupportedContent{RawKind: w.Kind, Raw: append(json.RawMessage(nil), w.Data...)}, nil
	}
	c := mk()
	if len(w.Data) > 0 {
		if err := json.Unmarshal(w.Data, c); err != nil {
			return nil, fmt.Errorf("content kind %q: %w", w.Kind, err)
		}
	}
	return c, nil
}

type TextContent struct {
	Text string `json:"text"`
}

type ImageContent struct {
	BlobRef  string `json:"blob_ref"`
	MimeType string `json:"mime_type,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

type FileContent struct {
	BlobRef  string `json:"blob_ref"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type PollContent struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	// Votes maps option ordinal to the users who picked it.
	Votes     map[int][]UserID `json:"votes,omitempty"`
	Anonymous bool             `json:"anonymous,omitempty"`
	EndDate   int64            `json:"end_date,omitempty"`
	Ended     bool             `json:"ended,omitempty"`
}

// RegisterVote records u's vote for the given option, replacing any prior
// vote. It reports false when the option is out of range or the poll has
// ended.
func (p *PollContent) RegisterVote(u UserID, option int) bool {
	if p.Ended || option < 0 || option >= len(p.Options) {
		return false
	}
	if p.Votes == nil {
		p.Votes = make(map[int][]UserID)
	}
	for opt, users := range p.Votes {
		for i, voter := range users {
			if voter == u {
				if opt == option {
					return false
				}
				p.Votes[opt] = append(users[:i], users[i+1:]...)
				if len(p.Votes[opt]) == 0 {
					delete(p.Votes, opt)
				}
				break
			}
		}
	}
	p.Votes[option] = append(p.Votes[option], u)
	return true
}

// CryptoContent carries a completed inbound transfer attached to a
// message (e.g. "sent 5 TOK").
type CryptoContent struct {
	Transfer CompletedTransfer `json:"transfer"`
	Caption  string            `json:"caption,omitempty"`
}

// PrizeWinnerContent announces a finalized prize claim.
type PrizeWinnerContent struct {
	Winner            UserID            `json:"winner"`
	Transfer          CompletedTransfer `json:"transfer"`
	PrizeMessageIndex MessageIndex      `json:"prize_message_index"`
}

// GovernanceProposalContent embeds a governance proposal whose votes are
// recorded through the event log.
type GovernanceProposalContent struct {
	ProposalID uint64 `json:"proposal_id"`
	Title      string `json:"title,omitempty"`
	Summary    string `json:"summary,omitempty"`
	Deadline   int64  `json:"deadline,omitempty"`
	// Votes maps voter to adopt (true) / reject (false).
	Votes map[UserID]bool `json:"votes,omitempty"`
}

// DeletedContent is the tombstone left behind once the purge timer has
// removed a deleted message's body for good.
type DeletedContent struct {
	DeletedBy UserID `json:"deleted_by"`
	TS        int64  `json:"ts"`
}

// UnsupportedContent preserves a content kind this build does not know.
type UnsupportedContent struct {
	RawKind string
	Raw     json.RawMessage
}

func (TextContent) ContentKind() string               { return "text" }
func (ImageContent) ContentKind() string              { return "image" }
func (FileContent) ContentKind() string               { return "file" }
func (PollContent) ContentKind() string               { return "poll" }
func (CryptoContent) ContentKind() string             { return "crypto" }
func (PrizeContent) ContentKind() string              { return "prize" }
func (PrizeWinnerContent) ContentKind() string        { return "prize_winner" }
func (P2PSwapContent) ContentKind() string            { return "p2p_swap" }
func (GovernanceProposalContent) ContentKind() string { return "governance_proposal" }
func (DeletedContent) ContentKind() string            { return "deleted" }
func (u UnsupportedContent) ContentKind() string      { return u.RawKind }

var contentDecoders = map[string]func() MessageContent{
	"text":                func() MessageContent { return &TextContent{} },
	"image":               func() MessageContent { return &ImageContent{} },
	"file":                func() MessageContent { return &FileContent{} },
	"poll":                func() MessageContent { return &PollContent{} },
	"crypto":              func() MessageContent { return &CryptoContent{} },
	"prize":               func() MessageContent { return &PrizeContent{} },
	"prize_winner":        func() MessageContent { return &PrizeWinnerContent{} },
	"p2p_swap":            func() MessageContent { return &P2PSwapContent{} },
	"governance_proposal": func() MessageContent { return &GovernanceProposalContent{} },
	"deleted":             func() MessageContent { return &DeletedContent{} },
}
