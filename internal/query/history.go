package query

import (
	"context"
	"fmt"
)

// PayoutHistory returns recent reward payouts of staker, newest first
func (qs *QueryService) PayoutHistory(ctx context.Context, staker string, limit int) (*PayoutHistoryResponse, error) {
	if qs.payouts == nil {
		return nil, ErrNoProjections
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	resp := &PayoutHistoryResponse{Staker: staker, Payouts: []PayoutResponse{}}
	for _, p := range qs.payouts.QueryByStaker(staker, limit) {
		resp.Payouts = append(resp.Payouts, PayoutResponse{
			Sequence:  p.Sequence,
			Token:     p.Token,
			Amount:    p.Amount.Dec(),
			BlockTime: p.BlockTime,
		})
	}
	return resp, nil
}

// Balances returns the projected balances of one account path, e.g.
// "user:secret1alice" or "pool:secret1pair"
func (qs *QueryService) Balances(ctx context.Context, account string) (*BalancesResponse, error) {
	if qs.db == nil {
		return nil, ErrNoProjections
	}
	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT account, token, balance::TEXT
		FROM projections.balances
		WHERE account = $1 OR account LIKE $1 || ':%'
		ORDER BY account, token
	`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &BalancesResponse{Balances: []BalanceEntry{}, AsOfSequence: asOf}
	for rows.Next() {
		var b BalanceEntry
		if err := rows.Scan(&b.Account, &b.Token, &b.Balance); err != nil {
			return nil, err
		}
		resp.Balances = append(resp.Balances, b)
	}
	return resp, rows.Err()
}

// VerifyIntegrity checks the persisted hash chain and that projected
// balances are zero-sum per token.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	if qs.db == nil {
		return nil, ErrNoProjections
	}
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT a1.sequence
		FROM event_log.actions a1
		JOIN event_log.actions a2 ON a2.sequence = a1.sequence - 1
		WHERE a1.prev_hash != a2.state_hash
		ORDER BY a1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, uint64(seq))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT token, SUM(balance)::TEXT
		FROM projections.balances
		GROUP BY token
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedToken
		if err := balanceRows.Scan(&u.Token, &u.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedTokens = append(report.UnbalancedTokens, u)
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedTokens) == 0
	return report, balanceRows.Err()
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (uint64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0) FROM projections.watermark
	`).Scan(&seq)
	return uint64(seq), err
}
