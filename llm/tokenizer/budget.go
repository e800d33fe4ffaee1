package tokenizer

// FitResult describes how a note set was trimmed to a budget.
type FitResult struct {
	Notes         []string
	Tokens        int
	Trimmed       bool
	DroppedNotes  int
	OriginalCount int
}

// FitNotes keeps notes joined by sep within budget tokens.
// Oldest notes are shortened first: the tail of notes[0] goes, then notes[1], and so on.
// Notes trimmed to nothing are removed. budget <= 0 means unlimited.
func FitNotes(t Tokenizer, notes []string, sep string, budget int) (FitResult, error) {
	res := FitResult{Notes: append([]string(nil), notes...)}
	total, err := joinedTokens(t, res.Notes, sep)
	if err != nil {
		return res, err
	}
	res.OriginalCount = total
	res.Tokens = total
	if budget <= 0 || total <= budget {
		return res, nil
	}

	res.Trimmed = true
	for len(res.Notes) > 0 && res.Tokens > budget {
		over := res.Tokens - budget
		head, err := t.CountTokens(res.Notes[0])
		if err != nil {
			return res, err
		}
		if head <= over {
			res.Notes = res.Notes[1:]
			res.DroppedNotes++
		} else {
			cut, err := t.Truncate(res.Notes[0], head-over)
			if err != nil {
				return res, err
			}
			if cut == res.Notes[0] || cut == "" {
				res.Notes = res.Notes[1:]
				res.DroppedNotes++
			} else {
				res.Notes[0] = cut
			}
		}
		if res.Tokens, err = joinedTokens(t, res.Notes, sep); err != nil {
			return res, err
		}
	}
	return res, nil
}

func joinedTokens(t Tokenizer, notes []string, sep string) (int, error) {
	total := 0
	for i, n := range notes {
		c, err := t.CountTokens(n)
		if err != nil {
			return 0, err
		}
		total += c
		if i > 0 && sep != "" {
			s, err := t.CountTokens(sep)
			if err != nil {
				return 0, err
			}
			total += s
		}
	}
	return total, nil
}
