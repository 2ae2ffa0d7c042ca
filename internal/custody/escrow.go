package custody

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"fairwager/internal/domain"
	"fairwager/internal/logger"
	"fairwager/internal/metrics"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sethvargo/go-retry"
)

// ChainClient is the part of *rpc.Client the escrow backend needs
type ChainClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SimulateTransaction(ctx context.Context, transaction *solana.Transaction) (*rpc.SimulateTransactionResponse, error)
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

type EscrowConfig struct {
	ProgramID      solana.PublicKey
	House          solana.PrivateKey
	ConfirmRetries uint64
	ConfirmBackoff time.Duration
	Commitment     rpc.CommitmentType
}

// ParseEscrowConfig reads base58 program id and house key
func ParseEscrowConfig(programID, houseKey string, retries uint64, backoff time.Duration) (EscrowConfig, error) {
	program, err := solana.PublicKeyFromBase58(programID)
	if err != nil {
		return EscrowConfig{}, fmt.Errorf("escrow program id: %w", err)
	}
	house, err := solana.PrivateKeyFromBase58(houseKey)
	if err != nil {
		return EscrowConfig{}, fmt.Errorf("house key: %w", err)
	}
	return EscrowConfig{
		ProgramID:      program,
		House:          house,
		ConfirmRetries: retries,
		ConfirmBackoff: backoff,
		Commitment:     rpc.CommitmentConfirmed,
	}, nil
}

var (
	lockDiscriminator    = discriminator("lock_stake")
	releaseDiscriminator = discriminator("release_stake")

	errNotVisible   = errors.New("transaction not visible yet")
	errNotConfirmed = errors.New("transaction not confirmed yet")
)

// discriminator follows the Anchor convention: sha256("global:<name>")[:8]
func discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// Escrow holds real stake in per-round program-derived accounts. The house key
// signs every transaction and every instruction carries the round nonce, so a
// signature cannot be replayed against another round.
type Escrow struct {
	client ChainClient
	cfg    EscrowConfig
	house  solana.PublicKey
}

func NewEscrow(client ChainClient, cfg EscrowConfig) *Escrow {
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if cfg.ConfirmBackoff <= 0 {
		cfg.ConfirmBackoff = 400 * time.Millisecond
	}
	return &Escrow{client: client, cfg: cfg, house: cfg.House.PublicKey()}
}

func (e *Escrow) Mode() domain.Mode { return domain.ModeRealEscrow }

func nonceBytes(nonce uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, nonce)
	return b
}

// VaultAddress is the player's deposit account: ["vault", player]
func (e *Escrow) VaultAddress(player solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte("vault"), player.Bytes()}, e.cfg.ProgramID)
	return addr, err
}

// EscrowAddress holds one round's stake: ["escrow", player, nonce_le]
func (e *Escrow) EscrowAddress(player solana.PublicKey, nonce uint64) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte("escrow"), player.Bytes(), nonceBytes(nonce)}, e.cfg.ProgramID)
	return addr, err
}

// RoundAddress marks a round as pending until release closes it: ["round", nonce_le]
func (e *Escrow) RoundAddress(nonce uint64) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte("round"), nonceBytes(nonce)}, e.cfg.ProgramID)
	return addr, err
}

// TreasuryAddress funds winnings above the escrowed stake: ["treasury"]
func (e *Escrow) TreasuryAddress() (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte("treasury")}, e.cfg.ProgramID)
	return addr, err
}

type roundAccounts struct {
	player, vault, escrow, round, treasury solana.PublicKey
}

func (e *Escrow) accounts(player string, nonce uint64) (roundAccounts, error) {
	var a roundAccounts
	var err error
	if a.player, err = solana.PublicKeyFromBase58(player); err != nil {
		return a, domain.Validationf("player is not a valid public key")
	}
	if a.vault, err = e.VaultAddress(a.player); err != nil {
		return a, err
	}
	if a.escrow, err = e.EscrowAddress(a.player, nonce); err != nil {
		return a, err
	}
	if a.round, err = e.RoundAddress(nonce); err != nil {
		return a, err
	}
	a.treasury, err = e.TreasuryAddress()
	return a, err
}

func instructionData(disc [8]byte, nonce, amount uint64, extra ...byte) []byte {
	data := make([]byte, 0, 8+16+len(extra))
	data = append(data, disc[:]...)
	data = binary.LittleEndian.AppendUint64(data, nonce)
	data = binary.LittleEndian.AppendUint64(data, amount)
	return append(data, extra...)
}

// LockInstruction moves stake from the player's vault into the round escrow
func (e *Escrow) LockInstruction(req LockRequest) (solana.Instruction, error) {
	a, err := e.accounts(req.Player, req.Nonce)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(e.cfg.ProgramID, solana.AccountMetaSlice{
		solana.Meta(e.house).WRITE().SIGNER(),
		solana.Meta(a.player),
		solana.Meta(a.vault).WRITE(),
		solana.Meta(a.escrow).WRITE(),
		solana.Meta(a.round).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}, instructionData(lockDiscriminator, req.Nonce, req.Stake)), nil
}

// ReleaseInstruction pays Amount to the player's vault and closes the escrow
func (e *Escrow) ReleaseInstruction(req ReleaseRequest) (solana.Instruction, error) {
	a, err := e.accounts(req.Player, req.Nonce)
	if err != nil {
		return nil, err
	}
	var kind byte
	if req.Kind == ReleaseRefund {
		kind = 1
	}
	return solana.NewInstruction(e.cfg.ProgramID, solana.AccountMetaSlice{
		solana.Meta(e.house).WRITE().SIGNER(),
		solana.Meta(a.player),
		solana.Meta(a.vault).WRITE(),
		solana.Meta(a.escrow).WRITE(),
		solana.Meta(a.round).WRITE(),
		solana.Meta(a.treasury).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}, instructionData(releaseDiscriminator, req.Nonce, req.Amount, kind)), nil
}

func (e *Escrow) Lock(ctx context.Context, req LockRequest) (*domain.Receipt, error) {
	ix, err := e.LockInstruction(req)
	if err != nil {
		return nil, err
	}
	receipt, err := e.execute(ctx, req.Nonce, "lock", ix, req.Stake, nil)
	metrics.Custody(string(e.Mode()), "lock", err)
	return receipt, err
}

func (e *Escrow) Release(ctx context.Context, req ReleaseRequest) (*domain.Receipt, error) {
	if req.Submitted != "" {
		sig, err := solana.SignatureFromBase58(req.Submitted)
		if err == nil {
			receipt, err := e.confirm(ctx, sig, req.Amount)
			if err == nil || domain.CodeOf(err) == domain.CodeCustodyRejected {
				metrics.Custody(string(e.Mode()), "release", err)
				return receipt, err
			}
			logger.ForRound(req.Nonce, "").Warn("earlier release not confirmed, resubmitting", "signature", req.Submitted, "error", err)
		}
	}
	ix, err := e.ReleaseInstruction(req)
	if err != nil {
		return nil, err
	}
	receipt, err := e.execute(ctx, req.Nonce, "release", ix, req.Amount, req.OnSubmitted)
	metrics.Custody(string(e.Mode()), "release", err)
	return receipt, err
}

// execute simulates, submits and confirms a single-instruction transaction
func (e *Escrow) execute(ctx context.Context, nonce uint64, op string, ix solana.Instruction, amount uint64, onSubmitted func(string)) (*domain.Receipt, error) {
	log := logger.ForRound(nonce, "").With("op", op)

	recent, err := e.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, domain.WrapError(domain.CodeConfirmationFailed, "fetch blockhash", err)
	}
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, recent.Value.Blockhash, solana.TransactionPayer(e.house))
	if err != nil {
		return nil, domain.WrapError(domain.CodeInternal, "build transaction", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(e.house) {
			return &e.cfg.House
		}
		return nil
	}); err != nil {
		return nil, domain.WrapError(domain.CodeInternal, "sign transaction", err)
	}

	sim, err := e.client.SimulateTransaction(ctx, tx)
	if err != nil {
		return nil, domain.WrapError(domain.CodeConfirmationFailed, "simulate transaction", err)
	}
	if err := classifySimulation(sim); err != nil {
		log.Warn("simulation rejected transaction", "error", err)
		return nil, err
	}

	sig, err := e.submit(ctx, tx)
	if err != nil {
		return nil, err
	}
	log.Info("transaction submitted", "signature", sig.String())
	if onSubmitted != nil {
		onSubmitted(sig.String())
	}
	return e.confirm(ctx, sig, amount)
}

func (e *Escrow) backoff() retry.Backoff {
	b := retry.NewExponential(e.cfg.ConfirmBackoff)
	b = retry.WithCappedDuration(10*e.cfg.ConfirmBackoff, b)
	return retry.WithMaxRetries(e.cfg.ConfirmRetries, b)
}

func (e *Escrow) submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	var sig solana.Signature
	err := retry.Do(ctx, e.backoff(), func(ctx context.Context) error {
		s, err := e.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       true,
			PreflightCommitment: e.cfg.Commitment,
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		sig = s
		return nil
	})
	if err != nil {
		return solana.Signature{}, domain.WrapError(domain.CodeConfirmationFailed, "submit transaction", err)
	}
	return sig, nil
}

// confirm polls the signature status with bounded exponential backoff
func (e *Escrow) confirm(ctx context.Context, sig solana.Signature, amount uint64) (*domain.Receipt, error) {
	var rejected error
	err := retry.Do(ctx, e.backoff(), func(ctx context.Context) error {
		out, err := e.client.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return retry.RetryableError(err)
		}
		if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
			return retry.RetryableError(errNotVisible)
		}
		st := out.Value[0]
		if st.Err != nil {
			rejected = domain.WrapError(domain.CodeCustodyRejected, "transaction failed on chain", fmt.Errorf("%v", st.Err))
			return rejected
		}
		switch st.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return nil
		}
		return retry.RetryableError(errNotConfirmed)
	})
	if rejected != nil {
		return nil, rejected
	}
	if err != nil {
		return nil, domain.WrapError(domain.CodeConfirmationFailed, "confirmation retries exhausted", err)
	}
	return &domain.Receipt{
		Backend:   e.Mode(),
		Reference: sig.String(),
		Amount:    amount,
		Confirmed: true,
		CreatedAt: time.Now(),
	}, nil
}

// classifySimulation separates a recoverable lack of funds from fatal program errors
func classifySimulation(res *rpc.SimulateTransactionResponse) error {
	if res == nil || res.Value == nil || res.Value.Err == nil {
		return nil
	}
	for _, line := range res.Value.Logs {
		l := strings.ToLower(line)
		if strings.Contains(l, "insufficient funds") || strings.Contains(l, "insufficient lamports") {
			return insufficientFunds(line)
		}
	}
	if strings.Contains(strings.ToLower(fmt.Sprint(res.Value.Err)), "insufficientfunds") {
		return insufficientFunds(fmt.Sprint(res.Value.Err))
	}
	return domain.WrapError(domain.CodeCustodyRejected, "simulation rejected transaction", fmt.Errorf("%v", res.Value.Err))
}
