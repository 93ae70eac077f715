// Package chat defines the interface the external chat front-end
// implements, and the message chunking the coordinator uses to stay
// under the platform's message-size limit.
package chat

import (
	"context"
	"log"
	"time"
)

// Messenger is implemented by the chat front-end adapter. The
// coordinator only ever talks to the platform through it.
type Messenger interface {
	// SendMessage sends a new message and returns its id for later edits.
	SendMessage(ctx context.Context, userID int64, text string) (messageID string, err error)
	// EditMessage replaces the text of a previously sent message.
	EditMessage(ctx context.Context, userID int64, messageID, text string) error
	// SendDocument delivers a file by path.
	SendDocument(ctx context.Context, userID int64, path string) error
}

// LogMessenger is the default Messenger when no chat front-end is
// attached: everything lands in the server log. Useful for headless
// runs and for scheduled tasks fired before a front-end connects.
type LogMessenger struct{}

func (LogMessenger) SendMessage(_ context.Context, userID int64, text string) (string, error) {
	log.Printf("chat: [user %d] %s", userID, text)
	return "log", nil
}

func (LogMessenger) EditMessage(_ context.Context, userID int64, _, text string) error {
	log.Printf("chat: [user %d] (edit) %s", userID, text)
	return nil
}

func (LogMessenger) SendDocument(_ context.Context, userID int64, path string) error {
	log.Printf("chat: [user %d] (document) %s", userID, path)
	return nil
}

// Chunk splits text into pieces no longer than maxLen, breaking at line
// boundaries and hard-splitting single lines longer than the limit.
func Chunk(text string, maxLen int) []string {
	if maxLen <= 0 || len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	current := ""
	flush := func() {
		if current != "" {
			chunks = append(chunks, current)
			current = ""
		}
	}

	start := 0
	for start <= len(text) {
		end := start
		for end < len(text) && text[end] != '\n' {
			end++
		}
		line := text[start:end]
		start = end + 1

		for len(line) > maxLen {
			flush()
			chunks = append(chunks, line[:maxLen])
			line = line[maxLen:]
		}
		switch {
		case current == "":
			current = line
		case len(current)+1+len(line) > maxLen:
			flush()
			current = line
		default:
			current += "\n" + line
		}
		if start > len(text) {
			break
		}
	}
	flush()
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	return chunks
}

// SendLong sends text in chunks through the messenger, throttling
// between chunks so the platform's rate limiter stays quiet. Per-chunk
// failures are swallowed so later chunks still go out.
func SendLong(ctx context.Context, m Messenger, userID int64, text string, maxLen int) {
	chunks := Chunk(text, maxLen)
	for i, chunk := range chunks {
		if chunk == "" {
			continue
		}
		_, _ = m.SendMessage(ctx, userID, chunk)
		if i < len(chunks)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(300 * time.Millisecond):
			}
		}
	}
}
