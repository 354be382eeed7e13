package fees

import (
	"DexLedger/internal/dexerr"
	fpmath "DexLedger/internal/math"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	ErrInvalidAmount = fmt.Errorf("fee settlement: zero input: %w", dexerr.ErrInvalidAmount)
	ErrInvalidFee    = fmt.Errorf("fee settlement: invalid fee: %w", dexerr.ErrInvalidInput)
	ErrFeeOverflow   = fmt.Errorf("fee settlement: %w", dexerr.ErrOverflow)
	ErrUnderflow     = fmt.Errorf("fee settlement: fees exceed input: %w", dexerr.ErrUnderflow)
)

// Fee is a rational fee rate num/denom
type Fee struct {
	Num   uint8  `json:"nom" yaml:"nom"`
	Denom uint16 `json:"denom" yaml:"denom"`
}

// Validate rejects a zero denominator or a rate above 100%
func (f Fee) Validate() error {
	if f.Denom == 0 {
		return fmt.Errorf("%w: denominator is zero", ErrInvalidFee)
	}
	if uint16(f.Num) > f.Denom {
		return fmt.Errorf("%w: %d/%d exceeds 1", ErrInvalidFee, f.Num, f.Denom)
	}
	return nil
}

// Apply returns floor(amount * num / denom)
func (f Fee) Apply(amount *uint256.Int) (*uint256.Int, error) {
	if f.Denom == 0 {
		return nil, fmt.Errorf("%w: denominator is zero", ErrInvalidFee)
	}
	fee, err := fpmath.MulDiv(amount, uint256.NewInt(uint64(f.Num)), uint256.NewInt(uint64(f.Denom)))
	if err != nil {
		if errors.Is(err, dexerr.ErrOverflow) {
			return nil, ErrFeeOverflow
		}
		return nil, err
	}
	return fee, nil
}

func (f Fee) String() string {
	return fmt.Sprintf("%d/%d", f.Num, f.Denom)
}

// Schedule is the fee configuration applied to every trade
type Schedule struct {
	LPFee                Fee    `json:"lp_fee" yaml:"lp_fee"`
	ProtocolFee          Fee    `json:"protocol_fee" yaml:"protocol_fee"`
	ProtocolFeeRecipient string `json:"protocol_fee_recipient" yaml:"protocol_fee_recipient"`
}

// Validate checks both rates and that together they never exceed the input
func (s Schedule) Validate() error {
	if err := s.LPFee.Validate(); err != nil {
		return fmt.Errorf("lp fee: %w", err)
	}
	if err := s.ProtocolFee.Validate(); err != nil {
		return fmt.Errorf("protocol fee: %w", err)
	}

	// lp.num/lp.denom + p.num/p.denom <= 1
	lhs := uint64(s.LPFee.Num)*uint64(s.ProtocolFee.Denom) + uint64(s.ProtocolFee.Num)*uint64(s.LPFee.Denom)
	if lhs > uint64(s.LPFee.Denom)*uint64(s.ProtocolFee.Denom) {
		return fmt.Errorf("%w: combined rate exceeds 1", ErrInvalidFee)
	}
	if !s.ProtocolFee.isZero() && s.ProtocolFeeRecipient == "" {
		return fmt.Errorf("%w: protocol fee recipient is required", ErrInvalidFee)
	}
	return nil
}

func (f Fee) isZero() bool {
	return f.Num == 0
}

// Settlement splits a trade input into protocol fee, LP fee and the net amount
type Settlement struct {
	Input       *uint256.Int
	ProtocolFee *uint256.Int
	LPFee       *uint256.Int
	Net         *uint256.Int
}

// TotalFee is the sum of both fee legs
func (s Settlement) TotalFee() *uint256.Int {
	return new(uint256.Int).Add(s.ProtocolFee, s.LPFee)
}

// Settle computes the fee split for input. Each fee is floored independently,
// so ProtocolFee + LPFee + Net == Input always holds.
func Settle(input *uint256.Int, schedule Schedule) (Settlement, error) {
	if input == nil || input.IsZero() {
		return Settlement{}, ErrInvalidAmount
	}

	protocolFee, err := schedule.ProtocolFee.Apply(input)
	if err != nil {
		return Settlement{}, fmt.Errorf("protocol fee: %w", err)
	}
	lpFee, err := schedule.LPFee.Apply(input)
	if err != nil {
		return Settlement{}, fmt.Errorf("lp fee: %w", err)
	}

	totalFee, err := fpmath.CheckedAdd(protocolFee, lpFee)
	if err != nil {
		return Settlement{}, ErrFeeOverflow
	}
	net, err := fpmath.ScaledSubtract(input, totalFee)
	if err != nil {
		return Settlement{}, ErrUnderflow
	}

	return Settlement{
		Input:       new(uint256.Int).Set(input),
		ProtocolFee: protocolFee,
		LPFee:       lpFee,
		Net:         net,
	}, nil
}
