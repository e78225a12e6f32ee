package provider

import (
	"errors"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
)

// ErrWindowOverBudget means the newest exchange alone exceeds the token
// budget, so no valid request can be built.
var ErrWindowOverBudget = errors.New("newest message group exceeds token budget")

// blockOverhead is the fixed per-block cost added by the heuristic counter.
const blockOverhead = 4

// TokenCounter estimates the input-token cost of a message.
type TokenCounter interface {
	CountMessage(m anthropic.MessageParam) int
}

// HeuristicCounter counts text runes plus a fixed overhead per block. Tool
// use inputs and non-text blocks cost the overhead only.
type HeuristicCounter struct{}

func (HeuristicCounter) CountMessage(m anthropic.MessageParam) int {
	total := 0
	for _, blk := range m.Content {
		total += blockOverhead
		switch {
		case blk.OfText != nil:
			total += utf8.RuneCountInString(blk.OfText.Text)
		case blk.OfToolResult != nil:
			for _, nb := range blk.OfToolResult.Content {
				if nb.OfText != nil {
					total += utf8.RuneCountInString(nb.OfText.Text)
				}
			}
		}
	}
	return total
}

// span is a run of history messages [start, end) that must be sent or
// dropped together.
type span struct{ start, end int }

// WindowStats summarises one window decision.
type WindowStats struct {
	Budget         int
	Total          int
	IncludedGroups int
	SkippedGroups  int
}

// groupHistory splits msgs into atomic spans: an assistant message carrying
// tool_use blocks is bound to the following user message when that message
// answers every tool_use id; everything else stands alone.
func groupHistory(msgs []anthropic.MessageParam) []span {
	spans := make([]span, 0, len(msgs))
	for i := 0; i < len(msgs); {
		if i+1 < len(msgs) && answersToolUses(msgs[i], msgs[i+1]) {
			spans = append(spans, span{i, i + 2})
			i += 2
			continue
		}
		spans = append(spans, span{i, i + 1})
		i++
	}
	return spans
}

func answersToolUses(asst, user anthropic.MessageParam) bool {
	if asst.Role != anthropic.MessageParamRoleAssistant || user.Role != anthropic.MessageParamRoleUser {
		return false
	}
	uses := make(map[string]bool)
	for _, blk := range asst.Content {
		if blk.OfToolUse != nil && blk.OfToolUse.ID != "" {
			uses[blk.OfToolUse.ID] = false
		}
	}
	if len(uses) == 0 {
		return false
	}
	// Results must lead the user message; text may follow.
	inResults := true
	for _, blk := range user.Content {
		if blk.OfToolResult == nil {
			inResults = false
			continue
		}
		if !inResults {
			return false
		}
		if _, ok := uses[blk.OfToolResult.ToolUseID]; !ok {
			return false
		}
		uses[blk.OfToolResult.ToolUseID] = true
	}
	for _, answered := range uses {
		if !answered {
			return false
		}
	}
	return true
}

// windowHistory returns the newest suffix of msgs that fits budget without
// splitting a tool exchange and that starts with a user message. A budget of
// zero or less sends the whole history.
func windowHistory(msgs []anthropic.MessageParam, budget int, c TokenCounter) ([]anthropic.MessageParam, WindowStats, error) {
	spans := groupHistory(msgs)
	stats := WindowStats{Budget: budget}
	if budget <= 0 {
		stats.IncludedGroups = len(spans)
		for _, m := range msgs {
			stats.Total += c.CountMessage(m)
		}
		return msgs, stats, nil
	}

	start := len(spans)
	for i := len(spans) - 1; i >= 0; i-- {
		cost := 0
		for j := spans[i].start; j < spans[i].end; j++ {
			cost += c.CountMessage(msgs[j])
		}
		if stats.Total+cost > budget {
			break
		}
		stats.Total += cost
		start = i
	}
	if start == len(spans) {
		stats.SkippedGroups = len(spans)
		if len(spans) == 0 {
			return nil, stats, nil
		}
		return nil, stats, ErrWindowOverBudget
	}

	// The API requires the first message to come from the user.
	for start < len(spans) && msgs[spans[start].start].Role != anthropic.MessageParamRoleUser {
		start++
	}
	stats.IncludedGroups = len(spans) - start
	stats.SkippedGroups = start
	if start == len(spans) {
		return nil, stats, ErrWindowOverBudget
	}
	window := msgs[spans[start].start:]
	stats.Total = 0
	for _, m := range window {
		stats.Total += c.CountMessage(m)
	}
	return window, stats, nil
}
