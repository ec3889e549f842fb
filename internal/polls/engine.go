// Package polls applies votes to the poll embedded in a message and
// serializes concurrent votes on the same message.
package polls

import (
	"github.com/campusnet/forum/internal/common/errors"
	"github.com/campusnet/forum/internal/messaging"
	"github.com/google/uuid"
)

// ApplyVote returns a copy of poll with the vote of userID for optionIndex
// applied. The input is never modified.
//
// Single mode: a first vote is added, repeating the current choice clears
// it, choosing another option moves the vote. Multi mode: every option is
// toggled independently.
func ApplyVote(poll messaging.Poll, userID uuid.UUID, optionIndex int) (messaging.Poll, error) {
	if optionIndex < 0 || optionIndex >= len(poll.Options) {
		return messaging.Poll{}, errors.InvalidArgument("poll option out of range")
	}
	if userID == uuid.Nil {
		return messaging.Poll{}, errors.InvalidArgument("voter id is required")
	}

	next := poll.Clone()

	switch next.Mode {
	case messaging.PollMulti:
		if i := findVote(next.Votes, userID, optionIndex); i >= 0 {
			next.Votes = removeAt(next.Votes, i)
			decrement(&next, optionIndex)
		} else {
			next.Votes = append(next.Votes, messaging.Vote{UserID: userID, OptionIndex: optionIndex})
			next.Options[optionIndex].VoteCount++
		}
	case messaging.PollSingle, "":
		i := findVote(next.Votes, userID, -1)
		switch {
		case i < 0:
			next.Votes = append(next.Votes, messaging.Vote{UserID: userID, OptionIndex: optionIndex})
			next.Options[optionIndex].VoteCount++
		case next.Votes[i].OptionIndex == optionIndex:
			next.Votes = removeAt(next.Votes, i)
			decrement(&next, optionIndex)
		default:
			previous := next.Votes[i].OptionIndex
			next.Votes = removeAt(next.Votes, i)
			decrement(&next, previous)
			next.Votes = append(next.Votes, messaging.Vote{UserID: userID, OptionIndex: optionIndex})
			next.Options[optionIndex].VoteCount++
		}
	default:
		return messaging.Poll{}, errors.InvalidState("unknown poll mode")
	}

	settle(&next)
	return next, nil
}

// findVote returns the index of userID's vote for option, or of any vote by
// userID when option is negative.
func findVote(votes []messaging.Vote, userID uuid.UUID, option int) int {
	for i, v := range votes {
		if v.UserID == userID && (option < 0 || v.OptionIndex == option) {
			return i
		}
	}
	return -1
}

func removeAt(votes []messaging.Vote, i int) []messaging.Vote {
	return append(votes[:i], votes[i+1:]...)
}

func decrement(p *messaging.Poll, option int) {
	if p.Options[option].VoteCount > 0 {
		p.Options[option].VoteCount--
	}
}

// settle derives TotalVotes from Votes. Counters that drifted from the vote
// list (documents written by older clients) are rebuilt from it.
func settle(p *messaging.Poll) {
	p.TotalVotes = len(p.Votes)

	sum := 0
	for _, o := range p.Options {
		sum += o.VoteCount
	}
	if sum == p.TotalVotes {
		return
	}

	for i := range p.Options {
		p.Options[i].VoteCount = 0
	}
	for _, v := range p.Votes {
		if v.OptionIndex >= 0 && v.OptionIndex < len(p.Options) {
			p.Options[v.OptionIndex].VoteCount++
		}
	}
}
