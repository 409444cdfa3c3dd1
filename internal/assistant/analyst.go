package assistant

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hyperengineering/nudge/internal/types"
)

// Analyst writes the weekly financial narrative.
type Analyst struct {
	llm Completer
}

// NewAnalyst creates an analyst backed by llm.
func NewAnalyst(llm Completer) *Analyst {
	return &Analyst{llm: llm}
}

type ledgerLine struct {
	Date        string  `json:"date"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Category    string  `json:"category"`
	Description string  `json:"description,omitempty"`
	Planned     bool    `json:"planned,omitempty"`
}

func ledgerLines(records []types.FinancialRecord) []ledgerLine {
	out := make([]ledgerLine, 0, len(records))
	for _, r := range records {
		out = append(out, ledgerLine{
			Date:        r.Date.Format("2006-01-02"),
			Amount:      r.Amount,
			Currency:    r.Currency,
			Category:    r.Category,
			Description: r.Description,
			Planned:     r.IsPlanned,
		})
	}
	return out
}

const analysisPrompt = `Analyze the expenses and income of the past week.

Expenses:
%s

Income:
%s

Cover: totals, balance, main expense categories, unnecessary or excessive spending,
savings, and small practical ways to spend less and save more. Do not suggest drastic
measures like moving or changing jobs. Be tactful and encouraging. Account for
different currencies. Format the answer as readable text for a chat message.`

// Analyze returns the narrative for one week of ledger entries.
func (a *Analyst) Analyze(ctx context.Context, expenses, income []types.FinancialRecord) (string, error) {
	exp, err := json.MarshalIndent(ledgerLines(expenses), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode expenses: %w", err)
	}
	inc, err := json.MarshalIndent(ledgerLines(income), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode income: %w", err)
	}

	text, err := a.llm.Complete(ctx, Prompt{
		System:    "You are a helpful financial advisor.",
		User:      fmt.Sprintf(analysisPrompt, exp, inc),
		MaxTokens: 1000,
	})
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("%w: empty analysis", ErrMalformedResponse)
	}
	return text, nil
}
