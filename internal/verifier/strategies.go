package verifier

import (
	"regexp"
	"strconv"

	"github.com/gagliardetto/solana-go"

	"github.com/hoepeyemi/solick-sub001/internal/chain"
	"github.com/hoepeyemi/solick-sub001/utils"
)

// Method names the evidence a verification was decided on.
type Method string

const (
	MethodDirectAccount     Method = "direct_account"
	MethodDerivedAccount    Method = "derived_account"
	MethodBalanceTable      Method = "balance_table"
	MethodLogParse          Method = "log_parse"
	MethodInstructionDecode Method = "instruction_decode"
	MethodParsedInstruction Method = "parsed_instruction"
	MethodPermissive        Method = "permissive_fallback"
)

// Strategy extracts the amount received by the target from a record.
// ok is false when the record holds no data the strategy can use.
type Strategy struct {
	Method  Method
	Extract func(rec *chain.TransactionRecord, t *target) (amount uint64, ok bool)
}

// target is a Target with its candidate destination token accounts resolved.
type target struct {
	Target
	derived    []solana.PublicKey // associated token accounts of Owner
	candidates []solana.PublicKey // TokenAccount followed by derived
}

var tokenPrograms = []solana.PublicKey{solana.TokenProgramID, solana.Token2022ProgramID}

func isTokenProgram(id solana.PublicKey) bool {
	for _, p := range tokenPrograms {
		if p.Equals(id) {
			return true
		}
	}
	return false
}

// associatedTokenAccount derives the canonical token account of (owner, mint)
// for the given token program.
func associatedTokenAccount(owner, mint, tokenProgram solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		owner[:],
		tokenProgram[:],
		mint[:],
	}, solana.SPLAssociatedTokenAccountProgramID)
	return addr, err
}

func resolveTarget(t Target) *target {
	rt := &target{Target: t}
	if !t.TokenAccount.IsZero() {
		rt.candidates = append(rt.candidates, t.TokenAccount)
	}
	if !t.Owner.IsZero() && !t.Mint.IsZero() {
		for _, program := range tokenPrograms {
			ata, err := associatedTokenAccount(t.Owner, t.Mint, program)
			if err != nil {
				continue
			}
			rt.derived = append(rt.derived, ata)
			if !containsKey(rt.candidates, ata) {
				rt.candidates = append(rt.candidates, ata)
			}
		}
	}
	return rt
}

func containsKey(keys []solana.PublicKey, key solana.PublicKey) bool {
	for _, k := range keys {
		if k.Equals(key) {
			return true
		}
	}
	return false
}

func containsBase58(keys []solana.PublicKey, s string) bool {
	if s == "" {
		return false
	}
	k, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return false
	}
	return containsKey(keys, k)
}

// DefaultStrategies returns the strategies in decreasing order of confidence.
// The permissive fallback is appended only when allowed.
func DefaultStrategies(allowPermissive bool) []Strategy {
	s := []Strategy{
		{Method: MethodDirectAccount, Extract: directAccount},
		{Method: MethodDerivedAccount, Extract: derivedAccount},
		{Method: MethodBalanceTable, Extract: balanceTable},
		{Method: MethodLogParse, Extract: logParse},
		{Method: MethodInstructionDecode, Extract: instructionDecode},
		{Method: MethodParsedInstruction, Extract: parsedInstruction},
	}
	if allowPermissive {
		s = append(s, Strategy{Method: MethodPermissive, Extract: permissive})
	}
	return s
}

// accountDelta is the increase of one account's balance of mint. A missing
// pre row counts as zero so accounts created by the transaction still count.
func accountDelta(rec *chain.TransactionRecord, account, mint solana.PublicKey) (uint64, bool) {
	idx := rec.IndexOf(account)
	if idx < 0 {
		return 0, false
	}
	pre, preOK := chain.BalanceAt(rec.PreTokenBalances, idx, mint)
	post, postOK := chain.BalanceAt(rec.PostTokenBalances, idx, mint)
	if !preOK && !postOK {
		return 0, false
	}
	if post.Amount <= pre.Amount {
		return 0, true
	}
	return post.Amount - pre.Amount, true
}

func directAccount(rec *chain.TransactionRecord, t *target) (uint64, bool) {
	if t.TokenAccount.IsZero() {
		return 0, false
	}
	return accountDelta(rec, t.TokenAccount, t.Mint)
}

func derivedAccount(rec *chain.TransactionRecord, t *target) (uint64, bool) {
	for _, ata := range t.derived {
		if amount, ok := accountDelta(rec, ata, t.Mint); ok {
			return amount, true
		}
	}
	return 0, false
}

// balanceTable sums every balance row held by the owner (or a candidate
// account) in the target mint, ignoring how the account key was indexed.
func balanceTable(rec *chain.TransactionRecord, t *target) (uint64, bool) {
	matches := func(b chain.TokenBalance) bool {
		if !b.Mint.Equals(t.Mint) {
			return false
		}
		if !t.Owner.IsZero() && b.Owner.Equals(t.Owner) {
			return true
		}
		return containsKey(t.candidates, b.Account)
	}
	var pre, post uint64
	found := false
	for _, b := range rec.PreTokenBalances {
		if matches(b) {
			pre += b.Amount
			found = true
		}
	}
	for _, b := range rec.PostTokenBalances {
		if matches(b) {
			post += b.Amount
			found = true
		}
	}
	if !found {
		return 0, false
	}
	if post <= pre {
		return 0, true
	}
	return post - pre, true
}

var (
	invokeLine  = regexp.MustCompile(`^Program (\w+) invoke \[\d+\]$`)
	exitLine    = regexp.MustCompile(`^Program (\w+) (success|failed)`)
	transferLog = regexp.MustCompile(`(?i)\btransfer(?:red|checked)?\b\D*?\b(\d+)\b.*?\bto\s+(\w+)`)
)

// logParse reads program log lines emitted inside a token program invocation
// for a transfer amount. A line only counts when its destination ("to X") is
// a candidate account.
func logParse(rec *chain.TransactionRecord, t *target) (uint64, bool) {
	if len(t.candidates) == 0 {
		return 0, false
	}

	var stack []string
	var total uint64
	found := false
	for _, line := range rec.Logs {
		if m := invokeLine.FindStringSubmatch(line); m != nil {
			stack = append(stack, m[1])
			continue
		}
		if m := exitLine.FindStringSubmatch(line); m != nil {
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			continue
		}
		if len(stack) == 0 {
			continue
		}
		program, err := solana.PublicKeyFromBase58(stack[len(stack)-1])
		if err != nil || !isTokenProgram(program) {
			continue
		}
		m := transferLog.FindStringSubmatch(line)
		if m == nil || !containsBase58(t.candidates, m[2]) {
			continue
		}
		amount, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		total += amount
		found = true
	}
	return total, found
}

// instructionDecode decodes SPL Transfer and TransferChecked instructions,
// top-level and inner, that credit a candidate account.
func instructionDecode(rec *chain.TransactionRecord, t *target) (uint64, bool) {
	if len(t.candidates) == 0 {
		return 0, false
	}
	var total uint64
	found := false
	for _, ins := range rec.AllInstructions() {
		if !isTokenProgram(ins.ProgramID) {
			continue
		}
		kind, amount, ok := utils.DecodeTokenTransfer(ins.Data)
		if !ok {
			continue
		}
		var dest solana.PublicKey
		switch kind {
		case utils.TokenInstructionTransfer:
			if len(ins.Accounts) < 3 {
				continue
			}
			dest = ins.Accounts[1]
		case utils.TokenInstructionTransferChecked:
			if len(ins.Accounts) < 4 {
				continue
			}
			if !ins.Accounts[1].Equals(t.Mint) {
				continue
			}
			dest = ins.Accounts[2]
		}
		if !containsKey(t.candidates, dest) {
			continue
		}
		total += amount
		found = true
	}
	return total, found
}

// parsedInstruction matches transfers the node already decoded.
func parsedInstruction(rec *chain.TransactionRecord, t *target) (uint64, bool) {
	if len(t.candidates) == 0 {
		return 0, false
	}
	var total uint64
	found := false
	for _, p := range rec.Parsed {
		if p.Program != "spl-token" && !isTokenProgram(p.ProgramID) {
			continue
		}
		if p.Type != "transfer" && p.Type != "transferChecked" {
			continue
		}
		if !p.HasAmount || !containsBase58(t.candidates, p.Destination) {
			continue
		}
		if p.Mint != "" && p.Mint != t.Mint.String() {
			continue
		}
		total += p.Amount
		found = true
	}
	return total, found
}

// permissive accepts a positive balance increase on a candidate account when
// the node reported the balance rows without a mint. Rows naming any other
// mint never count.
func permissive(rec *chain.TransactionRecord, t *target) (uint64, bool) {
	if !rec.Success {
		return 0, false
	}
	mintOK := func(b chain.TokenBalance) bool {
		return b.Mint.IsZero() || b.Mint.Equals(t.Mint)
	}
	var best uint64
	for _, post := range rec.PostTokenBalances {
		if !containsKey(t.candidates, post.Account) || !mintOK(post) {
			continue
		}
		var pre uint64
		for _, b := range rec.PreTokenBalances {
			if b.AccountIndex == post.AccountIndex && mintOK(b) {
				pre = b.Amount
				break
			}
		}
		if post.Amount > pre && post.Amount-pre > best {
			best = post.Amount - pre
		}
	}
	return best, best > 0
}

// transferParties yields (source, destination, authority) of every SPL
// transfer of the target mint, decoded or parsed by the node.
func transferParties(rec *chain.TransactionRecord, t *target, fn func(source, dest, authority solana.PublicKey)) {
	for _, ins := range rec.AllInstructions() {
		if !isTokenProgram(ins.ProgramID) {
			continue
		}
		kind, _, ok := utils.DecodeTokenTransfer(ins.Data)
		if !ok {
			continue
		}
		switch kind {
		case utils.TokenInstructionTransfer:
			if len(ins.Accounts) >= 3 {
				fn(ins.Accounts[0], ins.Accounts[1], ins.Accounts[2])
			}
		case utils.TokenInstructionTransferChecked:
			if len(ins.Accounts) >= 4 && ins.Accounts[1].Equals(t.Mint) {
				fn(ins.Accounts[0], ins.Accounts[2], ins.Accounts[3])
			}
		}
	}
	for _, p := range rec.Parsed {
		if p.Program != "spl-token" && !isTokenProgram(p.ProgramID) {
			continue
		}
		if p.Type != "transfer" && p.Type != "transferChecked" {
			continue
		}
		if p.Mint != "" && p.Mint != t.Mint.String() {
			continue
		}
		dest, err := solana.PublicKeyFromBase58(p.Destination)
		if err != nil {
			continue
		}
		source, _ := solana.PublicKeyFromBase58(p.Source)
		authority, _ := solana.PublicKeyFromBase58(p.Authority)
		fn(source, dest, authority)
	}
}

// senders lists the wallets that moved the target mint towards the target:
// authorities of transfers into a candidate account, owners of their source
// accounts, and owners of other accounts of the mint whose balance fell.
func senders(rec *chain.TransactionRecord, t *target) []solana.PublicKey {
	var out []solana.PublicKey
	add := func(k solana.PublicKey) {
		if k.IsZero() || k.Equals(t.Owner) || containsKey(out, k) {
			return
		}
		out = append(out, k)
	}
	ownerOf := func(account solana.PublicKey) solana.PublicKey {
		idx := rec.IndexOf(account)
		if idx < 0 {
			return solana.PublicKey{}
		}
		b, _ := chain.BalanceAt(rec.PreTokenBalances, idx, t.Mint)
		return b.Owner
	}

	transferParties(rec, t, func(source, dest, authority solana.PublicKey) {
		if !containsKey(t.candidates, dest) {
			return
		}
		add(authority)
		if !source.IsZero() {
			add(ownerOf(source))
		}
	})
	for _, pre := range rec.PreTokenBalances {
		if !pre.Mint.Equals(t.Mint) || containsKey(t.candidates, pre.Account) {
			continue
		}
		post, _ := chain.BalanceAt(rec.PostTokenBalances, pre.AccountIndex, t.Mint)
		if post.Amount < pre.Amount {
			add(pre.Owner)
		}
	}
	return out
}
