package quality

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxSmallTalkChars is the longest message treated as small talk.
const maxSmallTalkChars = 16

// smallTalkRe matches greetings, thanks, and acknowledgements once the
// message is lower-cased and trailing punctuation removed.
var smallTalkRe = regexp.MustCompile(`^(hi|hii+|hey|hello|helo|yo|hiya|howdy|sup|wassup|good (morning|afternoon|evening)|thanks|thank you|thank u|thx|ty|tysm|cheers|ok|okay|k|kk|cool|nice|great|awesome|perfect|got it|gotcha|sounds good|bye|goodbye|see ya|cya|lol|haha+)( there| so much| a lot| again| bot)?$`)

// trailingPunct is removed before matching small talk.
const trailingPunct = " !.?,~:)("

// NormalizeMessage trims, collapses whitespace, and lower-cases msg.
func NormalizeMessage(msg string) string {
	return strings.ToLower(strings.Join(strings.Fields(msg), " "))
}

// IsSmallTalk reports whether msg is a short greeting or acknowledgement
// that needs no grounded answer.
func IsSmallTalk(msg string) bool {
	norm := NormalizeMessage(msg)
	if norm == "" || utf8.RuneCountInString(norm) > maxSmallTalkChars {
		return false
	}
	return smallTalkRe.MatchString(strings.TrimRight(norm, trailingPunct))
}

// metaQuestionRes detect questions about where the assistant's knowledge
// of the video comes from.
var metaQuestionRes = []*regexp.Regexp{
	regexp.MustCompile(`\b(do|did|can|could) you (actually |really )?(watch|see|view|hear|listen to)\b.*\b(video|clip|this|it)\b`),
	regexp.MustCompile(`\bhave you (actually |really )?(watched|seen|viewed|heard)\b`),
	regexp.MustCompile(`\b(do|did) you (have|get|see|read) (the |a |this )?(transcript|captions?|subtitles?)\b`),
	regexp.MustCompile(`\bhow (do|did|would) you know\b`),
	regexp.MustCompile(`\bwhere (do|did) you get (this|that|your) (info|information|answer|data)\b`),
	regexp.MustCompile(`\bwhat (context|information|info|data) (do|did) you have\b`),
	regexp.MustCompile(`\bare you (able to )?(watching|seeing) (the |this )?video\b`),
	regexp.MustCompile(`\bwhat are you basing\b`),
}

// IsMetaQuestion reports whether msg asks how the assistant knows about
// the video rather than asking about the video itself.
func IsMetaQuestion(msg string) bool {
	norm := NormalizeMessage(msg)
	if norm == "" {
		return false
	}
	for _, re := range metaQuestionRes {
		if re.MatchString(norm) {
			return true
		}
	}
	return false
}
