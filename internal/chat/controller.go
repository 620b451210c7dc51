// Package chat implements the chat session controller: the credential gate,
// the single-flight message exchange and the clear action.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/hfchat/internal/domain"
	"github.com/ashureev/hfchat/internal/inference"
)

// Submission rejections. None of them change controller state.
var (
	ErrNotReady   = errors.New("credential required")
	ErrEmptyInput = errors.New("message is empty")
	ErrInFlight   = errors.New("a request is already in flight")
)

const (
	// ClearPrompt is the question put to the user before clearing.
	ClearPrompt = "Are you sure you want to clear the entire conversation?"

	// DefaultFailureText fills the error slot when a failure has no message.
	DefaultFailureText = "Failed to get AI response. Please try again."
)

// Confirmer asks the user a blocking yes/no question.
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(prompt string) bool

// Confirm implements Confirmer.
func (f ConfirmFunc) Confirm(prompt string) bool {
	return f(prompt)
}

// State is a point-in-time copy of everything the controller holds except
// the credential itself.
type State struct {
	Phase         domain.SessionPhase
	Request       domain.RequestState
	Draft         string
	Messages      []domain.Message
	Error         string
	HasCredential bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithContext sets the context outbound requests run under. It is the only
// way an outstanding request ends early.
func WithContext(ctx context.Context) Option {
	return func(c *Controller) {
		if ctx != nil {
			c.ctx = ctx
		}
	}
}

// Controller owns one chat session. All mutation goes through its methods and
// is serialized by mu; at most one exchange is outstanding at a time.
type Controller struct {
	completer inference.Completer
	ctx       context.Context
	logger    *slog.Logger
	now       func() time.Time

	mu           sync.Mutex
	credential   string
	phase        domain.SessionPhase
	draft        string
	messages     []domain.Message
	request      domain.RequestState
	errMsg       string
	nextID       uint64
	lastActivity time.Time

	listenersMu  sync.Mutex
	listeners    map[int]func()
	nextListener int

	wg sync.WaitGroup
}

// NewController creates a controller in the AwaitingCredential phase.
func NewController(completer inference.Completer, opts ...Option) *Controller {
	c := &Controller{
		completer: completer,
		ctx:       context.Background(),
		logger:    slog.Default(),
		now:       time.Now,
		listeners: make(map[int]func()),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lastActivity = c.now()
	return c
}

// SubmitCredential stores the trimmed credential and moves to Ready. Blank
// input is ignored and the current phase is returned unchanged.
func (c *Controller) SubmitCredential(raw string) domain.SessionPhase {
	credential := strings.TrimSpace(raw)

	c.mu.Lock()
	c.lastActivity = c.now()
	if credential == "" {
		phase := c.phase
		c.mu.Unlock()
		return phase
	}
	c.credential = credential
	c.phase = domain.PhaseReady
	c.errMsg = ""
	c.mu.Unlock()

	c.logger.Info("Credential accepted", "credential", inference.Fingerprint(credential))
	c.notify()
	return domain.PhaseReady
}

// ResetCredential forgets the credential and the conversation and returns to
// AwaitingCredential. A request still in flight settles into the emptied
// conversation when it completes.
func (c *Controller) ResetCredential() {
	c.mu.Lock()
	c.credential = ""
	c.phase = domain.PhaseAwaitingCredential
	c.draft = ""
	c.messages = nil
	c.errMsg = ""
	c.lastActivity = c.now()
	c.mu.Unlock()

	c.logger.Info("Credential reset")
	c.notify()
}

// SetDraft records the current contents of the input box.
func (c *Controller) SetDraft(draft string) {
	c.mu.Lock()
	c.draft = draft
	c.lastActivity = c.now()
	c.mu.Unlock()
	c.notify()
}

// Submit sends the current draft. The returned channel is closed once the
// exchange has settled and the controller is Idle again.
func (c *Controller) Submit() (<-chan struct{}, error) {
	c.mu.Lock()
	return c.submitLocked(c.draft)
}

// SubmitInput replaces the draft with input and sends it in one step. When
// the submission is rejected the draft is left untouched.
func (c *Controller) SubmitInput(input string) (<-chan struct{}, error) {
	c.mu.Lock()
	return c.submitLocked(input)
}

// submitLocked must be called with mu held; it always releases it.
func (c *Controller) submitLocked(input string) (<-chan struct{}, error) {
	c.lastActivity = c.now()

	content := strings.TrimSpace(input)
	switch {
	case c.request == domain.RequestInFlight:
		c.mu.Unlock()
		return nil, ErrInFlight
	case c.phase != domain.PhaseReady:
		c.mu.Unlock()
		return nil, ErrNotReady
	case content == "":
		c.mu.Unlock()
		return nil, ErrEmptyInput
	}

	msg := c.appendLocked(domain.RoleUser, content)
	c.draft = ""
	c.errMsg = ""
	c.request = domain.RequestInFlight
	credential := c.credential
	done := make(chan struct{})
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info("Message submitted", "message_id", msg.ID, "message_length", len(content))
	c.notify()

	go c.exchange(credential, msg, done)
	return done, nil
}

func (c *Controller) exchange(credential string, msg domain.Message, done chan struct{}) {
	defer c.wg.Done()
	defer close(done)

	start := c.now()
	reply, err := c.complete(credential, msg.Content)
	c.settle(msg.ID, reply, err, c.now().Sub(start))
}

// complete converts a panic in the completer into an ordinary failure so the
// controller still returns to Idle.
func (c *Controller) complete(credential, content string) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return c.completer.Complete(c.ctx, credential, content)
}

// settle applies the outcome of an exchange. It runs even when the
// conversation was cleared or the credential reset in the meantime.
func (c *Controller) settle(messageID uint64, reply string, err error, elapsed time.Duration) {
	c.mu.Lock()
	c.request = domain.RequestIdle
	if err != nil {
		c.errMsg = failureText(err)
	} else {
		c.appendLocked(domain.RoleAssistant, reply)
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("Exchange failed", "message_id", messageID, "duration", elapsed, "error", err)
	} else {
		c.logger.Info("Exchange completed", "message_id", messageID, "duration", elapsed, "reply_length", len(reply))
	}
	c.notify()
}

// failureText returns the failure message unchanged, or the default text when
// it is empty.
func failureText(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return DefaultFailureText
}

// appendLocked must be called with mu held.
func (c *Controller) appendLocked(role domain.Role, content string) domain.Message {
	c.nextID++
	msg := domain.Message{
		ID:      c.nextID,
		Role:    role,
		Content: content,
		SentAt:  c.now(),
	}
	c.messages = append(c.messages, msg)
	return msg
}

// ClearConversation asks confirm whether to clear and, on yes, empties the
// conversation and the error slot. It reports whether anything was cleared.
// The question is asked without holding the controller lock.
func (c *Controller) ClearConversation(confirm Confirmer) bool {
	if confirm == nil || !confirm.Confirm(ClearPrompt) {
		return false
	}

	c.mu.Lock()
	cleared := len(c.messages)
	c.messages = nil
	c.errMsg = ""
	c.lastActivity = c.now()
	c.mu.Unlock()

	c.logger.Info("Conversation cleared", "messages", cleared)
	c.notify()
	return true
}

// State returns a copy of the current controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Phase:         c.phase,
		Request:       c.request,
		Draft:         c.draft,
		Messages:      slices.Clone(c.messages),
		Error:         c.errMsg,
		HasCredential: c.credential != "",
	}
}

// View projects the current state for rendering.
func (c *Controller) View() View {
	return Project(c.State())
}

// InFlight reports whether a request is outstanding.
func (c *Controller) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.request == domain.RequestInFlight
}

// Touch marks the controller as used now.
func (c *Controller) Touch() {
	c.mu.Lock()
	c.lastActivity = c.now()
	c.mu.Unlock()
}

// LastActivity returns when a user last acted on this controller.
func (c *Controller) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Subscribe registers fn to be called after every state change. Callbacks run
// on the goroutine that made the change and must not block.
func (c *Controller) Subscribe(fn func()) (unsubscribe func()) {
	c.listenersMu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

func (c *Controller) notify() {
	c.listenersMu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenersMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Wait blocks until every exchange started so far has settled.
func (c *Controller) Wait() {
	c.wg.Wait()
}
