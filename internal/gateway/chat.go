package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"culinarylens/internal/recipe"
	"culinarylens/internal/retry"
)

// Chat errors.
var (
	ErrEmptyMessage     = errors.New("chat message is empty")
	ErrStreamInProgress = errors.New("a reply is still streaming")
)

const (
	chatSystemFmt   = "You are the Neural Sous Chef for \"%s\"."
	chatGreetingFmt = "Bonjour! I am your Sous Chef. I've analyzed the protocol for \"%s\". How can I assist you with the preparation?"
	chatFailureText = "I'm having trouble connecting to the neural network. Please try again."
	stepContextFmt  = "[User is currently at step: \"%s\"]. Question: %s"
)

// ChatSession is a sous-chef conversation about one recipe. It keeps the
// transcript shown to the user.
type ChatSession struct {
	conn   ChatConn
	exec   *retry.Executor
	policy retry.Policy
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	transcript []recipe.ChatMessage
	streaming  bool
}

// OpenChat starts a conversation bound to r. The transcript opens with a
// greeting from the model.
func (g *Gateway) OpenChat(ctx context.Context, r *recipe.Recipe) (*ChatSession, error) {
	b, err := g.backend(ctx, LabelChat)
	if err != nil {
		return nil, retry.Classify(err, LabelChat)
	}
	conn, err := b.StartChat(ctx, ChatConfig{
		Model:             g.cfg.Models.Chat,
		SystemInstruction: fmt.Sprintf(chatSystemFmt, r.Title),
	})
	if err != nil {
		return nil, retry.Classify(err, LabelChat)
	}

	s := &ChatSession{
		conn:   conn,
		exec:   g.exec,
		policy: g.cfg.Policies.Chat,
		logger: g.logger,
		now:    time.Now,
	}
	s.append(recipe.RoleModel, fmt.Sprintf(chatGreetingFmt, r.Title))
	return s, nil
}

// Transcript returns a copy of the conversation so far.
func (s *ChatSession) Transcript() []recipe.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recipe.ChatMessage(nil), s.transcript...)
}

// Streaming reports whether a reply is being received.
func (s *ChatSession) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

func (s *ChatSession) append(role recipe.ChatRole, text string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, recipe.ChatMessage{Role: role, Text: text, Timestamp: s.now()})
	return len(s.transcript) - 1
}

// Send posts text and returns the reply stream. When stepContext is set the
// prompt tells the model which step the user is on; the transcript keeps the
// plain question.
func (s *ChatSession) Send(ctx context.Context, text, stepContext string) (*Stream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.streaming {
		s.mu.Unlock()
		return nil, ErrStreamInProgress
	}
	s.streaming = true
	s.mu.Unlock()

	s.append(recipe.RoleUser, text)

	prompt := text
	if stepContext != "" {
		prompt = fmt.Sprintf(stepContextFmt, stepContext, text)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	it, err := retry.Do(streamCtx, s.exec, s.policy, LabelChat, func(ctx context.Context) (ChunkIterator, error) {
		return s.conn.SendStream(ctx, prompt)
	})
	if err != nil {
		cancel()
		s.fail(err)
		return nil, err
	}

	idx := s.append(recipe.RoleModel, "")
	return &Stream{it: it, cancel: cancel, session: s, index: idx}, nil
}

func (s *ChatSession) appendChunk(idx int, chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript[idx].Text += chunk
}

func (s *ChatSession) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = false
}

func (s *ChatSession) fail(err error) {
	s.logger.Warn("sous chef reply failed", zap.Error(err))
	s.append(recipe.RoleModel, chatFailureText)
	s.finish()
}

// Stream is one streamed model reply. Next returns io.EOF after the last
// chunk and a classified error if the stream breaks. Close may be called at
// any time to cancel.
type Stream struct {
	it      ChunkIterator
	cancel  context.CancelFunc
	session *ChatSession
	index   int
	closed  atomic.Bool

	mu   sync.Mutex
	text strings.Builder
	err  error
}

// Next returns the next non-empty chunk.
func (s *Stream) Next() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.err == nil {
		chunk, err := s.it.Next()
		switch {
		case errors.Is(err, io.EOF), err != nil && s.closed.Load():
			s.end(io.EOF)
		case err != nil:
			classified := retry.Classify(err, LabelChat)
			s.end(classified)
			s.session.fail(classified)
		case chunk != "":
			s.text.WriteString(chunk)
			s.session.appendChunk(s.index, chunk)
			return chunk, nil
		}
	}
	return "", s.err
}

// Text is the reply received so far.
func (s *Stream) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// Close cancels the stream. Later calls to Next return io.EOF.
func (s *Stream) Close() {
	s.closed.Store(true)
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.end(io.EOF)
	}
}

// end records the terminal error. Callers hold s.mu.
func (s *Stream) end(err error) {
	s.err = err
	s.cancel()
	s.session.finish()
}
