package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Names of the system accounts held by the staking contract
const (
	SystemStaking = "staking"
)

// journalNamespace seeds the name-based UUIDs of batches and entries, so
// replaying an action yields the same identifiers.
var journalNamespace = uuid.MustParse("6f1d3c2e-5b8a-4e0f-9a47-2c1b7d9e8f30")

// JournalGenerator creates balanced journal batches from settled actions
type JournalGenerator struct{}

func NewJournalGenerator() *JournalGenerator {
	return &JournalGenerator{}
}

// builder accumulates the legs of one batch, skipping zero amounts
type builder struct {
	batch *Batch
}

func (jg *JournalGenerator) begin(eventRef string, seq, ts uint64) *builder {
	return &builder{batch: &Batch{
		BatchID:   uuid.NewSHA1(journalNamespace, []byte(eventRef)),
		EventRef:  eventRef,
		Sequence:  seq,
		Timestamp: ts,
		Journals:  make([]Journal, 0, 4),
	}}
}

func (b *builder) leg(debit, credit AccountKey, amount *uint256.Int, jt JournalType) {
	if amount == nil || amount.IsZero() {
		return
	}
	idx := len(b.batch.Journals)
	b.batch.Journals = append(b.batch.Journals, Journal{
		JournalID:     uuid.NewSHA1(b.batch.BatchID, []byte(fmt.Sprintf("%d", idx))),
		BatchID:       b.batch.BatchID,
		EventRef:      b.batch.EventRef,
		Sequence:      b.batch.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        new(uint256.Int).Set(amount),
		JournalType:   jt,
		Timestamp:     b.batch.Timestamp,
	})
}

// done returns nil when every leg was zero
func (b *builder) done() (*Batch, error) {
	if len(b.batch.Journals) == 0 {
		return nil, nil
	}
	if err := b.batch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid batch: %w", err)
	}
	return b.batch, nil
}

// GenerateStake records LP tokens moving into the stake vault.
// Moves funds: user:wallet → system:stake_vault
func (jg *JournalGenerator) GenerateStake(
	eventRef string, seq, ts uint64,
	staker, lpToken string,
	amount *uint256.Int,
) (*Batch, error) {
	b := jg.begin(eventRef, seq, ts)
	b.leg(
		NewSystemAccountKey(SystemStaking, SubTypeSystemStakeVault, lpToken),
		NewUserAccountKey(staker, lpToken),
		amount, JournalTypeStakeDeposit,
	)
	return b.done()
}

// GenerateUnstake returns the principal and pays the unclaimed reward.
// Moves funds: system:stake_vault → user:wallet, system:reward_pool → user:wallet
func (jg *JournalGenerator) GenerateUnstake(
	eventRef string, seq, ts uint64,
	staker, lpToken, rewardToken string,
	principal, reward *uint256.Int,
) (*Batch, error) {
	b := jg.begin(eventRef, seq, ts)
	b.leg(
		NewUserAccountKey(staker, lpToken),
		NewSystemAccountKey(SystemStaking, SubTypeSystemStakeVault, lpToken),
		principal, JournalTypePrincipalReturn,
	)
	b.leg(
		NewUserAccountKey(staker, rewardToken),
		NewSystemAccountKey(SystemStaking, SubTypeSystemRewardPool, rewardToken),
		reward, JournalTypeRewardPayout,
	)
	return b.done()
}

// GenerateClaim pays out an accrued reward.
// Moves funds: system:reward_pool → user:wallet
func (jg *JournalGenerator) GenerateClaim(
	eventRef string, seq, ts uint64,
	staker, rewardToken string,
	reward *uint256.Int,
) (*Batch, error) {
	b := jg.begin(eventRef, seq, ts)
	b.leg(
		NewUserAccountKey(staker, rewardToken),
		NewSystemAccountKey(SystemStaking, SubTypeSystemRewardPool, rewardToken),
		reward, JournalTypeRewardPayout,
	)
	return b.done()
}

// GenerateAddLiquidity records a deposit into both sides of a pool.
// Moves funds: user:wallet → pool:reserve
func (jg *JournalGenerator) GenerateAddLiquidity(
	eventRef string, seq, ts uint64,
	provider, poolAddr, token0, token1 string,
	amount0, amount1 *uint256.Int,
) (*Batch, error) {
	b := jg.begin(eventRef, seq, ts)
	b.leg(NewPoolAccountKey(poolAddr, token0), NewUserAccountKey(provider, token0), amount0, JournalTypeLiquidityDeposit)
	b.leg(NewPoolAccountKey(poolAddr, token1), NewUserAccountKey(provider, token1), amount1, JournalTypeLiquidityDeposit)
	return b.done()
}

// SwapLegs are the settled amounts of one swap
type SwapLegs struct {
	Trader       string
	Recipient    string
	PoolAddr     string
	OfferToken   string
	AskToken     string
	Net          *uint256.Int
	LPFee        *uint256.Int
	ProtocolFee  *uint256.Int
	FeeRecipient string
	Return       *uint256.Int
}

// GenerateSwap splits the offer into its net, lp fee and protocol fee legs
// into the pool, then pays the protocol fee and the return out of it.
func (jg *JournalGenerator) GenerateSwap(eventRef string, seq, ts uint64, s SwapLegs) (*Batch, error) {
	b := jg.begin(eventRef, seq, ts)
	offerReserve := NewPoolAccountKey(s.PoolAddr, s.OfferToken)
	traderWallet := NewUserAccountKey(s.Trader, s.OfferToken)

	b.leg(offerReserve, traderWallet, s.Net, JournalTypeSwapOffer)
	b.leg(offerReserve, traderWallet, s.LPFee, JournalTypeLPFee)
	b.leg(offerReserve, traderWallet, s.ProtocolFee, JournalTypeProtocolFee)
	b.leg(NewUserAccountKey(s.FeeRecipient, s.OfferToken), offerReserve, s.ProtocolFee, JournalTypeProtocolFeePayout)
	b.leg(NewUserAccountKey(s.Recipient, s.AskToken), NewPoolAccountKey(s.PoolAddr, s.AskToken), s.Return, JournalTypeSwapReturn)
	return b.done()
}
