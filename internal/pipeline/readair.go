package pipeline

import (
	"context"
	"log/slog"
	"strings"
)

// readAir is the first stage: it drops messages no stage should act on
// (empty text, the bot's own echoes) and classifies the sender's coarse
// intent for the scoring stages downstream.
type readAir struct {
	selfID string
	logger *slog.Logger
}

func newReadAir(selfID string, logger *slog.Logger) *readAir {
	if logger == nil {
		logger = slog.Default()
	}
	return &readAir{selfID: selfID, logger: logger}
}

func (s *readAir) Name() string { return StageReadAir }

func (s *readAir) Process(_ context.Context, mc *Context) error {
	text := strings.TrimSpace(mc.Message.Text)
	if text == "" {
		mc.ShouldReply = false
		return nil
	}
	if s.selfID != "" && mc.Message.SenderID == s.selfID {
		s.logger.Debug("ignoring own message", "message_id", mc.Message.ID)
		mc.ShouldReply = false
		return nil
	}
	mc.Outputs[OutputIntent] = classifyIntent(text, mc.Message.Addressed)
	return nil
}

var (
	greetingWords = []string{
		"hello", "hi ", "hey", "good morning", "good evening",
		"你好", "您好", "早上好", "晚上好", "哈喽",
	}
	farewellWords = []string{"bye", "goodbye", "good night", "再见", "晚安", "拜拜"}
	helpWords     = []string{"help", "how do i", "how to", "救命", "帮帮", "怎么办"}
	requestWords  = []string{"please", "could you", "can you", "请", "帮我", "麻烦"}
	offensiveWords = []string{
		"idiot", "stupid", "shut up", "hate you", "笨蛋", "滚", "闭嘴",
	}
	opinionWords = []string{"i think", "i feel", "in my opinion", "我觉得", "我认为"}
)

// classifyIntent buckets a message into the categories the willingness
// engine biases on. Deliberately shallow: the thought stage refines meaning,
// this stage only has to be roughly right about the kind of utterance.
func classifyIntent(text string, addressed bool) string {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, offensiveWords):
		return "offensive"
	case strings.HasPrefix(lower, "/") || strings.HasPrefix(lower, "!"):
		return "commands"
	case containsAny(lower, helpWords):
		return "help_seeking"
	case strings.ContainsAny(text, "?？"):
		return "questions"
	case containsAny(lower, requestWords):
		return "requests"
	case containsAny(lower, greetingWords):
		if addressed {
			return "greeting_to_me"
		}
		return "greetings"
	case containsAny(lower, farewellWords):
		return "farewells"
	case containsAny(lower, opinionWords):
		return "opinions"
	default:
		return "statements"
	}
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
