package chat

import (
	"strings"

	"github.com/ashureev/hfchat/internal/domain"
)

// ThinkingText is the transient indicator shown while a request is in flight.
const ThinkingText = "AI is thinking..."

// TimeLayout formats message timestamps for display.
const TimeLayout = "3:04:05 PM"

// Alignment is the side of the thread a message bubble sits on.
type Alignment string

const (
	AlignRight Alignment = "right"
	AlignLeft  Alignment = "left"
)

// MessageView is one rendered message bubble.
type MessageView struct {
	ID      uint64      `json:"id"`
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
	Time    string      `json:"time"`
	Align   Alignment   `json:"align"`
}

// View is everything the page needs to draw the current session. CanStart is
// set while the credential gate is showing; the page additionally requires a
// non-blank token before enabling its start button.
type View struct {
	Phase     domain.SessionPhase `json:"phase"`
	Request   domain.RequestState `json:"request"`
	Messages  []MessageView       `json:"messages"`
	Indicator string              `json:"indicator,omitempty"`
	Error     string              `json:"error,omitempty"`
	Draft     string              `json:"draft"`
	CanSubmit bool                `json:"can_submit"`
	CanStart  bool                `json:"can_start"`
}

// Project renders a state snapshot. It reads s only.
func Project(s State) View {
	v := View{
		Phase:    s.Phase,
		Request:  s.Request,
		Messages: make([]MessageView, 0, len(s.Messages)),
		Error:    s.Error,
		Draft:    s.Draft,
	}

	for _, m := range s.Messages {
		align := AlignLeft
		if m.IsUser() {
			align = AlignRight
		}
		v.Messages = append(v.Messages, MessageView{
			ID:      m.ID,
			Role:    m.Role,
			Content: m.Content,
			Time:    m.SentAt.Format(TimeLayout),
			Align:   align,
		})
	}

	inFlight := s.Request == domain.RequestInFlight
	if inFlight {
		v.Indicator = ThinkingText
	}
	v.CanSubmit = s.Phase == domain.PhaseReady && !inFlight && strings.TrimSpace(s.Draft) != ""
	v.CanStart = s.Phase == domain.PhaseAwaitingCredential

	return v
}
