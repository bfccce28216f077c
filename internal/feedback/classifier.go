package feedback

// #region imports
import (
	"strings"
	"unicode"

	"github.com/danielpatrickdp/situation-engine/internal/update"
)

// #endregion

// #region keywords

// negativePhrases reject the last turn's actions. English and Hinglish.
var negativePhrases = []string{
	"no", "n", "nope", "nah", "stop", "cancel", "undo", "don't", "dont",
	"do not", "not that", "wrong", "stop that", "never mind", "nevermind",
	"didn't help", "didnt help", "not helpful",
	"nahi", "nahin", "mat karo", "mat", "band karo", "ruko", "rehne do",
}

// positivePhrases accept the last turn's actions.
var positivePhrases = []string{
	"yes", "y", "yeah", "yep", "ok", "okay", "sure", "do it", "thanks",
	"thank you", "great", "perfect", "nice", "good",
	"haan", "ha", "theek hai", "thik hai", "shukriya", "dhanyavaad", "accha",
}

// #endregion

// #region verdict

// Verdict is the classifier's reading of a reply.
type Verdict struct {
	IsFeedback bool           // false: treat the reply as a new utterance
	Outcome    update.Outcome // set when IsFeedback
	Matched    string         // phrase that decided it
}

// #endregion

// #region classify

// MaxWords is the longest reply still read as feedback.
const MaxWords = 4

// fillers may surround a feedback phrase without changing it ("nahi yaar",
// "yes please").
var fillers = map[string]bool{
	"yaar": true, "please": true, "pls": true, "plz": true, "bhai": true,
	"ji": true, "bro": true, "man": true,
}

// Classify reads a short reply as acceptance or rejection. The whole reply,
// fillers aside, must be made of feedback phrases: "no" and "no thanks" are
// feedback, "no internet" and "net nahi chal raha" are not. Negation wins over
// acceptance.
func Classify(reply string) Verdict {
	words := normalize(reply)
	if len(words) == 0 || len(words) > MaxWords {
		return Verdict{}
	}
	kept := make([]string, 0, len(words))
	for _, w := range words {
		if !fillers[w] {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		return Verdict{}
	}

	var neg, pos string
	for i := 0; i < len(kept); {
		p, n, negative := longestPhrase(kept[i:])
		if n == 0 {
			return Verdict{}
		}
		if negative && neg == "" {
			neg = p
		} else if !negative && pos == "" {
			pos = p
		}
		i += n
	}
	if neg != "" {
		return Verdict{IsFeedback: true, Outcome: update.OutcomeRejected, Matched: neg}
	}
	return Verdict{IsFeedback: true, Outcome: update.OutcomeAccepted, Matched: pos}
}

// #endregion

// #region helpers

// normalize lowercases and splits on anything but letters, digits and
// apostrophes.
func normalize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// longestPhrase finds the longest feedback phrase that starts words and
// returns it with its word count, or n == 0 if none does.
func longestPhrase(words []string) (phrase string, n int, negative bool) {
	try := func(phrases []string, neg bool) {
		for _, p := range phrases {
			pw := strings.Fields(p)
			if len(pw) <= n || len(pw) > len(words) {
				continue
			}
			if strings.Join(words[:len(pw)], " ") == p {
				phrase, n, negative = p, len(pw), neg
			}
		}
	}
	try(negativePhrases, true)
	try(positivePhrases, false)
	return phrase, n, negative
}

// #endregion
